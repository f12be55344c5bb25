package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/italolelis/ambience_downloader/internal/cache"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/thumbnail"
	"github.com/italolelis/ambience_downloader/internal/transfer"
)

// ThumbnailPipeline downloads thumbnails one at a time, in the order they were requested.
//
// Each request opens its destination, fetches the bytes, resizes them to the
// configured box and writes the result. A failure completes that request and
// the next one starts; it never stalls the queue.
type ThumbnailPipeline struct {
	store   *cache.Store
	fetcher transfer.Fetcher
	resizer thumbnail.Resizer
	width   int
	height  int
	opts    options

	mu           sync.Mutex
	queue        []*transfer.Pending
	active       *transfer.Pending
	cancelActive context.CancelFunc
	leftovers    []string
	started      bool
	closed       bool

	wake chan struct{}
	done chan struct{}
}

func NewThumbnailPipeline(
	store *cache.Store,
	fetcher transfer.Fetcher,
	resizer thumbnail.Resizer,
	width, height int,
	opts ...Option,
) *ThumbnailPipeline {
	return &ThumbnailPipeline{
		store:   store,
		fetcher: fetcher,
		resizer: resizer,
		width:   width,
		height:  height,
		opts:    buildOptions(opts),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the worker. Requests enqueued before Start wait for it.
func (p *ThumbnailPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}

	p.started = true

	go p.run(ctx)
}

// Enqueue appends a request to the queue and returns its completion handle.
// After Shutdown the handle is already completed with ErrClosed.
func (p *ThumbnailPipeline) Enqueue(url, name string) *transfer.Pending {
	req := transfer.NewPending(p.opts.nextID(), url, name)

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		req.Complete(transfer.Event{Type: transfer.ThumbnailFailed, Err: transfer.ErrClosed})

		return req
	}

	p.queue = append(p.queue, req)
	p.mu.Unlock()

	p.opts.telemetry.AddThumbnailQueueDepth(1)

	select {
	case p.wake <- struct{}{}:
	default:
	}

	return req
}

// Cancel removes a request that has not started yet. It reports false when the
// id is unknown, already running or already finished.
func (p *ThumbnailPipeline) Cancel(id uint64) bool {
	p.mu.Lock()

	var req *transfer.Pending

	for i, queued := range p.queue {
		if queued.ID() == id {
			req = queued
			p.queue = append(p.queue[:i], p.queue[i+1:]...)

			break
		}
	}

	p.mu.Unlock()

	if req == nil {
		return false
	}

	p.complete(req, transfer.Event{Type: transfer.ThumbnailFailed, Err: transfer.ErrCanceled})

	return true
}

// QueueLen returns the number of requests waiting to start.
func (p *ThumbnailPipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// Active reports whether a thumbnail is being transferred.
func (p *ThumbnailPipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.active != nil
}

// Shutdown stops the pipeline: the running request is cancelled and its empty
// destination deleted, queued requests complete with ErrAborted and empty files
// left by earlier failures are removed. It waits for the worker until ctx ends.
func (p *ThumbnailPipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	started := p.started

	if p.cancelActive != nil {
		p.cancelActive()
	}

	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	// An idle worker is parked in next(); wake it so it sees closed.
	select {
	case p.wake <- struct{}{}:
	default:
	}

	var err error
	if started {
		err = waitOrDone(ctx, p.done)
		if err != nil {
			logctx.LoggerFromContext(ctx).Warn("thumbnail worker did not stop in time", "err", err)
		}
	}

	for _, req := range queued {
		p.complete(req, transfer.Event{Type: transfer.ThumbnailFailed, Err: transfer.ErrAborted})
	}

	p.mu.Lock()
	leftovers := p.leftovers
	p.leftovers = nil
	p.mu.Unlock()

	for _, path := range leftovers {
		p.opts.remover.RemoveIfEmpty(ctx, path)
	}

	return err
}

func (p *ThumbnailPipeline) run(ctx context.Context) {
	defer close(p.done)

	for {
		req, reqCtx, ok := p.next(ctx)
		if !ok {
			return
		}

		p.process(reqCtx, req)
	}
}

// next blocks until a request is available and marks it active.
func (p *ThumbnailPipeline) next(ctx context.Context) (*transfer.Pending, context.Context, bool) {
	for {
		p.mu.Lock()

		if p.closed {
			p.mu.Unlock()

			return nil, nil, false
		}

		if len(p.queue) > 0 {
			req := p.queue[0]
			p.queue = p.queue[1:]

			reqCtx, cancel := context.WithCancel(ctx)
			p.active = req
			p.cancelActive = cancel
			p.mu.Unlock()

			return req, reqCtx, true
		}

		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-ctx.Done():
			return nil, nil, false
		}
	}
}

func (p *ThumbnailPipeline) process(ctx context.Context, req *transfer.Pending) {
	logger := logctx.LoggerFromContext(ctx).With("id", req.ID(), "thumbnail", req.Name())

	ev := p.transfer(ctx, req)

	p.mu.Lock()
	if p.cancelActive != nil {
		p.cancelActive()
	}

	p.active = nil
	p.cancelActive = nil
	p.mu.Unlock()

	if ev.Err != nil {
		logger.Warn("thumbnail download failed", "url", req.URL(), "err", ev.Err)
	} else {
		logger.Info("thumbnail saved", "path", ev.Path)
	}

	p.complete(req, ev)
}

func (p *ThumbnailPipeline) transfer(ctx context.Context, req *transfer.Pending) transfer.Event {
	failed := transfer.Event{Type: transfer.ThumbnailFailed}

	out, err := p.store.CreateThumbnail(req.Name())
	if err != nil {
		failed.Err = err

		return failed
	}

	path := out.Name()

	data, err := p.fetcher.Fetch(ctx, req.URL())
	if err == nil {
		data, err = p.resizer.Resize(req.Name(), data, p.width, p.height)
	}

	if err != nil {
		failed.Err = err
		p.abandon(ctx, out, &failed)

		return failed
	}

	if err := writeAndClose(out, data); err != nil {
		if rmErr := p.opts.remover.RemovePartial(ctx, path); rmErr != nil {
			logctx.LoggerFromContext(ctx).Error("failed to remove partial thumbnail", "path", path, "err", rmErr)
		}

		failed.Err = err

		return failed
	}

	return transfer.Event{
		Type: transfer.ThumbnailSaved,
		File: filepath.Base(path),
		Path: path,
	}
}

// abandon closes a destination nothing was written to. During shutdown it is
// deleted at once, otherwise it is kept until Shutdown.
func (p *ThumbnailPipeline) abandon(ctx context.Context, out *os.File, ev *transfer.Event) {
	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.leftovers = append(p.leftovers, out.Name())
	}
	p.mu.Unlock()

	if closed {
		ev.Err = fmt.Errorf("%w: %w", transfer.ErrAborted, ev.Err)
		p.opts.remover.CloseAndRemoveIfEmpty(ctx, out)

		return
	}

	_ = out.Close()
}

func (p *ThumbnailPipeline) complete(req *transfer.Pending, ev transfer.Event) {
	if !req.Complete(ev) {
		return
	}

	ev = req.Event()

	p.opts.telemetry.AddThumbnailQueueDepth(-1)
	p.opts.telemetry.RecordThumbnail(statusOf(ev))

	if p.opts.emit != nil {
		p.opts.emit(ev)
	}
}
