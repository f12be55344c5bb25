package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/ambience_downloader/internal/cache"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/transfer"
)

// FullImageTransfer downloads full resolution images into the cache. Only one
// transfer runs at a time; starting another while it is active fails with ErrBusy.
type FullImageTransfer struct {
	store   *cache.Store
	fetcher transfer.Fetcher
	opts    options

	mu        sync.Mutex
	active    *transfer.Pending
	cancel    context.CancelFunc
	leftovers []string
	closed    bool
	wg        sync.WaitGroup
}

func NewFullImageTransfer(store *cache.Store, fetcher transfer.Fetcher, opts ...Option) *FullImageTransfer {
	return &FullImageTransfer{
		store:   store,
		fetcher: fetcher,
		opts:    buildOptions(opts),
	}
}

// Start opens the destination and begins fetching url in the background.
// ctx supplies the logger; the transfer itself outlives it and is only
// cancelled by Shutdown.
func (t *FullImageTransfer) Start(ctx context.Context, url, name string) (*transfer.Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, transfer.ErrClosed
	}

	if t.active != nil {
		return nil, &transfer.BusyError{Active: t.active.Name()}
	}

	out, err := t.store.CreateFullImage(name)
	if err != nil {
		return nil, err
	}

	req := transfer.NewPending(t.opts.nextID(), url, name)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.active = req
	t.cancel = cancel

	t.opts.telemetry.IncrementActiveFullImages()
	t.wg.Add(1)

	go t.run(runCtx, req, out)

	return req, nil
}

// Active returns the name of the image being transferred, if any.
func (t *FullImageTransfer) Active() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return "", false
	}

	return t.active.Name(), true
}

// Shutdown cancels the active transfer, waits for it until ctx ends and
// deletes the empty destinations left by failed transfers.
func (t *FullImageTransfer) Shutdown(ctx context.Context) error {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return nil
	}

	t.closed = true

	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	err := waitOrDone(ctx, done)
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("full image transfer did not stop in time", "err", err)
	}

	t.mu.Lock()
	leftovers := t.leftovers
	t.leftovers = nil
	t.mu.Unlock()

	for _, path := range leftovers {
		t.opts.remover.RemoveIfEmpty(ctx, path)
	}

	return err
}

func (t *FullImageTransfer) run(ctx context.Context, req *transfer.Pending, out *os.File) {
	defer t.wg.Done()

	logger := logctx.LoggerFromContext(ctx).With("id", req.ID(), "full_image", req.Name())
	start := time.Now()

	ev := t.transfer(ctx, req, out)

	t.mu.Lock()
	t.cancel()
	t.active = nil
	t.cancel = nil
	t.mu.Unlock()

	t.opts.telemetry.DecrementActiveFullImages()

	if ev.Err != nil {
		logger.Warn("full image download failed", "url", req.URL(), "err", ev.Err)
	} else {
		logger.Info("full image saved", "path", ev.Path, "duration", time.Since(start).String())
	}

	if !req.Complete(ev) {
		return
	}

	ev = req.Event()
	t.opts.telemetry.RecordFullImage(statusOf(ev))

	if t.opts.emit != nil {
		t.opts.emit(ev)
	}
}

func (t *FullImageTransfer) transfer(ctx context.Context, req *transfer.Pending, out *os.File) transfer.Event {
	path := out.Name()
	failed := transfer.Event{Type: transfer.FullImageFailed}

	data, err := t.fetcher.Fetch(ctx, req.URL())
	if err != nil {
		t.mu.Lock()
		closed := t.closed
		if !closed {
			t.leftovers = append(t.leftovers, path)
		}
		t.mu.Unlock()

		if closed {
			t.opts.remover.CloseAndRemoveIfEmpty(ctx, out)
			failed.Err = fmt.Errorf("%w: %w", transfer.ErrAborted, err)

			return failed
		}

		_ = out.Close()
		failed.Err = err

		return failed
	}

	logctx.LoggerFromContext(ctx).Debug("writing full image", "path", path, "size", humanize.Bytes(uint64(len(data))))

	if err := writeAndClose(out, data); err != nil {
		if rmErr := t.opts.remover.RemovePartial(ctx, path); rmErr != nil {
			logctx.LoggerFromContext(ctx).Error("failed to remove partial full image", "path", path, "err", rmErr)
		}

		failed.Err = err

		return failed
	}

	return transfer.Event{
		Type: transfer.FullImageSaved,
		File: filepath.Base(path),
		Path: path,
	}
}
