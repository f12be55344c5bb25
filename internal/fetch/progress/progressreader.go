package progress

import "io"

// Reader wraps an io.Reader and reports progress via a callback every interval
// bytes, and once more when the first 5% of a known total has been read.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(read int64, total int64)

	totalRead      int64
	sinceReport    int64
	reportInterval int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

// Read returns the number of bytes read, so callers can copy through it.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n <= 0 {
		return n, err
	}

	before := pr.totalRead
	pr.totalRead += int64(n)
	pr.sinceReport += int64(n)

	if pr.OnProgress == nil {
		return n, err
	}

	crossedFirstStep := pr.Total > 0 && pr.totalRead*100/pr.Total >= 5 && before*100/pr.Total < 5
	if pr.sinceReport >= pr.reportInterval || crossedFirstStep {
		pr.OnProgress(pr.totalRead, pr.Total)
		pr.sinceReport = 0
	}

	return n, err
}

// BytesRead reports how many bytes have passed through so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}
