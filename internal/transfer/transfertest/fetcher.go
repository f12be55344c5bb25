// Package transfertest provides a scriptable transfer.Fetcher for tests.
package transfertest

import (
	"context"
	"sync"

	"github.com/italolelis/ambience_downloader/internal/transfer"
)

// Fetcher serves canned bodies and errors per URL. URLs registered with Hold
// block until Release is called or the request context ends.
type Fetcher struct {
	mu          sync.Mutex
	bodies      map[string][]byte
	errs        map[string]error
	gates       map[string]chan struct{}
	started     map[string]chan struct{}
	calls       []string
	inFlight    int
	maxInFlight int
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		bodies:  map[string][]byte{},
		errs:    map[string]error{},
		gates:   map[string]chan struct{}{},
		started: map[string]chan struct{}{},
	}
}

// Serve makes url return body.
func (f *Fetcher) Serve(url string, body []byte) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bodies[url] = body

	return f
}

// Fail makes url return err.
func (f *Fetcher) Fail(url string, err error) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errs[url] = err

	return f
}

// Hold blocks fetches of url until Release.
func (f *Fetcher) Hold(url string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gates[url] = make(chan struct{})

	return f
}

// Release unblocks a held url.
func (f *Fetcher) Release(url string) {
	f.mu.Lock()
	gate := f.gates[url]
	delete(f.gates, url)
	f.mu.Unlock()

	if gate != nil {
		close(gate)
	}
}

// Started returns a channel closed once a fetch of url has begun.
func (f *Fetcher) Started(url string) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.startedLocked(url)
}

func (f *Fetcher) startedLocked(url string) chan struct{} {
	ch, ok := f.started[url]
	if !ok {
		ch = make(chan struct{})
		f.started[url] = ch
	}

	return ch
}

// Calls returns the fetched URLs in call order.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

// MaxInFlight returns the highest number of concurrent fetches observed.
func (f *Fetcher) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.maxInFlight
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}

	gate := f.gates[url]
	started := f.startedLocked(url)
	select {
	case <-started:
	default:
		close(started)
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &transfer.FetchError{URL: url, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errs[url]; ok {
		return nil, err
	}

	if body, ok := f.bodies[url]; ok {
		return body, nil
	}

	return nil, &transfer.FetchError{URL: url, StatusCode: 404}
}
