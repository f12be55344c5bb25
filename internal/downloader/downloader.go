// Package downloader runs the asynchronous transfers that fill the image cache:
// a FIFO pipeline for thumbnails and a single slot for full images.
package downloader

import (
	"context"
	"errors"
	"os"
	"sync/atomic"

	"github.com/italolelis/ambience_downloader/internal/cleanup"
	"github.com/italolelis/ambience_downloader/internal/telemetry"
	"github.com/italolelis/ambience_downloader/internal/transfer"
)

// Emitter receives every completion event. It must not block.
type Emitter func(transfer.Event)

type options struct {
	telemetry *telemetry.Telemetry
	remover   *cleanup.Remover
	emit      Emitter
	nextID    func() uint64
}

type Option func(*options)

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

func WithRemover(r *cleanup.Remover) Option {
	return func(o *options) { o.remover = r }
}

// WithEmitter forwards completion events, in addition to the per-request Pending handle.
func WithEmitter(e Emitter) Option {
	return func(o *options) { o.emit = e }
}

// WithIDs shares a request id source between components.
func WithIDs(next func() uint64) Option {
	return func(o *options) { o.nextID = next }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.remover == nil {
		o.remover = cleanup.NewRemover(o.telemetry)
	}

	if o.nextID == nil {
		o.nextID = NewIDSource()
	}

	return o
}

// NewIDSource returns a generator of process-unique request ids starting at 1.
func NewIDSource() func() uint64 {
	var n atomic.Uint64

	return func() uint64 { return n.Add(1) }
}

// writeAndClose writes data to f and closes it. Any failure is a FileSystemError
// and leaves f closed.
func writeAndClose(f *os.File, data []byte) error {
	_, err := f.Write(data)
	if err != nil {
		_ = f.Close()

		return &transfer.FileSystemError{Op: "write", Path: f.Name(), Err: err}
	}

	if err := f.Close(); err != nil {
		return &transfer.FileSystemError{Op: "write", Path: f.Name(), Err: err}
	}

	return nil
}

func statusOf(ev transfer.Event) string {
	switch {
	case ev.Err == nil:
		return "saved"
	case errors.Is(ev.Err, transfer.ErrCanceled):
		return "canceled"
	case errors.Is(ev.Err, transfer.ErrAborted), errors.Is(ev.Err, transfer.ErrClosed):
		return "aborted"
	default:
		return "failed"
	}
}

// waitOrDone waits for done. A done channel that is already closed wins over
// an expired ctx.
func waitOrDone(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	default:
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
