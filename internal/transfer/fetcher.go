package transfer

import (
	"context"
	"net/url"

	"github.com/italolelis/ambience_downloader/internal/telemetry"
)

// Fetcher retrieves the full body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch fetches rawURL with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var result []byte

	scheme := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}

	err := f.telemetry.InstrumentFetch(ctx, scheme, func(ctx context.Context) (int, error) {
		var err error

		result, err = f.fetcher.Fetch(ctx, rawURL)

		return len(result), err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
