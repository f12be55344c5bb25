package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/ambience_downloader/internal/fetch/progress"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout          = 60 * time.Second
	defaultMaxBytes         = 64 << 20
	defaultProgressInterval = 4 << 20
)

// ErrTooLarge is wrapped in a FetchError when a body exceeds the configured limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

// HTTPFetcher fetches http(s) and file URLs into memory.
type HTTPFetcher struct {
	client           *http.Client
	maxBytes         int64
	progressInterval int64
}

type Option func(*HTTPFetcher)

// WithClient replaces the HTTP client. The client's transport is used as is.
func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithMaxBytes caps the body size accepted from any source.
func WithMaxBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithTimeout sets the overall deadline for a single request.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes:         defaultMaxBytes,
		progressInterval: defaultProgressInterval,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch returns the complete body behind rawURL. Failures are *transfer.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &transfer.FetchError{URL: rawURL, Err: err}
	}

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL)
	case "file":
		return f.fetchFile(ctx, rawURL, u.Path)
	default:
		return nil, &transfer.FetchError{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &transfer.FetchError{URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &transfer.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		return nil, &transfer.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	return f.read(ctx, rawURL, resp.Body, resp.ContentLength)
}

func (f *HTTPFetcher) fetchFile(ctx context.Context, rawURL, path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &transfer.FetchError{URL: rawURL, Err: err}
	}
	defer file.Close()

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	return f.read(ctx, rawURL, &contextReader{ctx: ctx, r: file}, size)
}

// contextReader stops a local read once ctx ends. HTTP bodies get this from
// the request context already.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	return cr.r.Read(p)
}

func (f *HTTPFetcher) read(ctx context.Context, rawURL string, body io.Reader, size int64) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx)

	if size > f.maxBytes {
		return nil, &transfer.FetchError{URL: rawURL, Err: ErrTooLarge}
	}

	if size > 0 {
		logger.Debug("fetching image", "url", rawURL, "size", humanize.Bytes(uint64(size)))
	}

	pr := progress.NewReader(body, size, f.progressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("fetch progress",
				"url", rawURL,
				"read", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("fetch progress", "url", rawURL, "read", humanize.Bytes(uint64(read)))
		}
	})

	data, err := io.ReadAll(io.LimitReader(pr, f.maxBytes+1))
	if err != nil {
		return nil, &transfer.FetchError{URL: rawURL, Err: err}
	}

	if int64(len(data)) > f.maxBytes {
		return nil, &transfer.FetchError{URL: rawURL, Err: ErrTooLarge}
	}

	logger.Debug("fetched image", "url", rawURL, "size", humanize.Bytes(uint64(pr.BytesRead())))

	return data, nil
}
