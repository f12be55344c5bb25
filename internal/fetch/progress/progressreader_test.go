package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsEveryInterval(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var reports []int64
	r := NewReader(bytes.NewReader(data), 0, 100, func(read, _ int64) {
		reports = append(reports, read)
	})

	buf := make([]byte, 50)
	for {
		_, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Len(t, reports, 10)
	assert.Equal(t, int64(1000), r.BytesRead())
}

func TestReader_ReportsFirstStepOfKnownTotal(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)

	var reports []int64
	r := NewReader(bytes.NewReader(data), 100, 1<<20, func(read, _ int64) {
		reports = append(reports, read)
	})

	_, err := io.Copy(io.Discard, io.LimitReader(r, 10))
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, int64(10), reports[0])
}

func TestReader_NilCallback(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("abc")), 3, 1, nil)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}
