// Package ambiencedtest records theming daemon calls for tests.
package ambiencedtest

import (
	"context"
	"sync"
)

// Call is one recorded method call.
type Call struct {
	Method string
	URL    string
}

// Recorder implements ambienced.Service in memory.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	// Err, when set, is returned by every call after it is recorded.
	Err error
}

func (r *Recorder) CreateAmbience(_ context.Context, url string) error {
	return r.record("createAmbience", url)
}

func (r *Recorder) SetAmbience(_ context.Context, url string) error {
	return r.record("setAmbience", url)
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Call(nil), r.calls...)
}

func (r *Recorder) record(method, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Method: method, URL: url})

	return r.Err
}
