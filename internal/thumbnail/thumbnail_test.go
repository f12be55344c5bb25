package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/italolelis/ambience_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T, format string, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	default:
		require.NoError(t, png.Encode(&buf, img))
	}

	return buf.Bytes()
}

func TestResize_ExactBox(t *testing.T) {
	for _, backend := range []string{"imaging", "nfnt"} {
		for _, format := range []string{"png", "jpeg"} {
			t.Run(backend+"/"+format, func(t *testing.T) {
				r, err := New(backend)
				require.NoError(t, err)

				// Landscape source, so the box distorts it.
				out, err := r.Resize("forest", sample(t, format, 400, 300), 250, 740)
				require.NoError(t, err)

				cfg, gotFormat, err := image.DecodeConfig(bytes.NewReader(out))
				require.NoError(t, err)
				assert.Equal(t, 250, cfg.Width)
				assert.Equal(t, 740, cfg.Height)
				assert.Equal(t, format, gotFormat)
			})
		}
	}
}

func TestResize_InvalidBytes(t *testing.T) {
	for _, backend := range []string{"imaging", "nfnt"} {
		t.Run(backend, func(t *testing.T) {
			r, err := New(backend)
			require.NoError(t, err)

			for _, data := range [][]byte{nil, []byte("<html>not an image</html>")} {
				_, err := r.Resize("broken.jpg", data, 250, 740)

				var decodeErr *transfer.DecodeError
				require.ErrorAs(t, err, &decodeErr)
				assert.Equal(t, transfer.StageDecode, decodeErr.Stage)
				assert.Equal(t, "broken.jpg", decodeErr.Name)
			}
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New("magick")
	assert.Error(t, err)
}
