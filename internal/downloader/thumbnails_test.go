package downloader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/italolelis/ambience_downloader/internal/cache"
	"github.com/italolelis/ambience_downloader/internal/thumbnail"
	"github.com/italolelis/ambience_downloader/internal/transfer"
	"github.com/italolelis/ambience_downloader/internal/transfer/transfertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// passthrough returns fetched bytes unchanged, and rejects the body "garbage".
type passthrough struct{}

func (passthrough) Resize(name string, data []byte, _, _ int) ([]byte, error) {
	if string(data) == "garbage" {
		return nil, &transfer.DecodeError{Name: name, Stage: transfer.StageDecode, Err: errors.New("unknown format")}
	}

	return data, nil
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()

	return cache.New(t.TempDir(), "ambience-", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func collector() (Emitter, <-chan transfer.Event) {
	ch := make(chan transfer.Event, 64)

	return func(ev transfer.Event) { ch <- ev }, ch
}

func nextEvent(t *testing.T, events <-chan transfer.Event) transfer.Event {
	t.Helper()

	select {
	case ev := <-events:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")

		return transfer.Event{}
	}
}

func wait(t *testing.T, p *transfer.Pending) transfer.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	ev, err := p.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "timed out waiting for request %d", p.ID())

	return ev
}

func startPipeline(t *testing.T, store *cache.Store, f transfer.Fetcher, r thumbnail.Resizer, opts ...Option) *ThumbnailPipeline {
	t.Helper()

	p := NewThumbnailPipeline(store, f, r, 250, 740, opts...)
	p.Start(context.Background())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	return p
}

func TestThumbnailPipeline_SavesInRequestOrder(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().
		Serve("http://cdn/a", []byte("a")).
		Serve("http://cdn/b", []byte("b")).
		Serve("http://cdn/c", []byte("c")).
		Hold("http://cdn/a")

	emit, events := collector()
	p := startPipeline(t, store, fetcher, passthrough{}, WithEmitter(emit))

	pa := p.Enqueue("http://cdn/a", "a.jpg")
	pb := p.Enqueue("http://cdn/b", "b.jpg")
	pc := p.Enqueue("http://cdn/c", "c.jpg")

	<-fetcher.Started("http://cdn/a")
	assert.True(t, p.Active())
	assert.Equal(t, 2, p.QueueLen())
	assert.Equal(t, []string{"http://cdn/a"}, fetcher.Calls(), "b must not start while a is in flight")

	fetcher.Release("http://cdn/a")

	for _, want := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		ev := nextEvent(t, events)
		assert.Equal(t, transfer.ThumbnailSaved, ev.Type)
		assert.Equal(t, want, ev.File)
		assert.Equal(t, store.ThumbnailPath(want), ev.Path)
	}

	assert.Equal(t, []string{"http://cdn/a", "http://cdn/b", "http://cdn/c"}, fetcher.Calls())
	assert.Equal(t, 1, fetcher.MaxInFlight())
	assert.Less(t, pa.ID(), pb.ID())
	assert.Less(t, pb.ID(), pc.ID())

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		assert.True(t, store.HasThumbnail(name))
	}
}

func TestThumbnailPipeline_FailureDoesNotStallQueue(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().
		Fail("http://cdn/broken", &transfer.FetchError{URL: "http://cdn/broken", StatusCode: 500}).
		Serve("http://cdn/garbage", []byte("garbage")).
		Serve("http://cdn/ok", []byte("ok"))

	p := startPipeline(t, store, fetcher, passthrough{})

	broken := wait(t, p.Enqueue("http://cdn/broken", "broken.jpg"))
	garbage := wait(t, p.Enqueue("http://cdn/garbage", "garbage.jpg"))
	ok := wait(t, p.Enqueue("http://cdn/ok", "ok.jpg"))

	var fetchErr *transfer.FetchError
	assert.Equal(t, transfer.ThumbnailFailed, broken.Type)
	require.ErrorAs(t, broken.Err, &fetchErr)

	var decodeErr *transfer.DecodeError
	assert.Equal(t, transfer.ThumbnailFailed, garbage.Type)
	require.ErrorAs(t, garbage.Err, &decodeErr)

	assert.Equal(t, transfer.ThumbnailSaved, ok.Type)
	assert.Equal(t, "ok.jpg", ok.File)

	// Failed requests leave an empty destination behind until shutdown.
	assert.FileExists(t, store.ThumbnailPath("broken.jpg"))
	assert.False(t, store.HasThumbnail("broken.jpg"))

	require.NoError(t, p.Shutdown(context.Background()))

	assert.NoFileExists(t, store.ThumbnailPath("broken.jpg"))
	assert.NoFileExists(t, store.ThumbnailPath("garbage.jpg"))
	assert.FileExists(t, store.ThumbnailPath("ok.jpg"))
}

func TestThumbnailPipeline_ResizesToBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 600, 400))
	img.Set(1, 1, color.White)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	store := newStore(t)
	fetcher := transfertest.NewFetcher().Serve("http://cdn/forest.png", buf.Bytes())

	p := startPipeline(t, store, fetcher, thumbnail.ImagingResizer{})

	ev := wait(t, p.Enqueue("http://cdn/forest.png", "forest.png"))
	require.NoError(t, ev.Err)

	f, err := os.Open(store.ThumbnailPath("forest.png"))
	require.NoError(t, err)
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Width)
	assert.Equal(t, 740, cfg.Height)
}

func TestThumbnailPipeline_CancelQueued(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().
		Serve("http://cdn/first", []byte("1")).
		Serve("http://cdn/second", []byte("2")).
		Serve("http://cdn/third", []byte("3")).
		Hold("http://cdn/first")

	emit, events := collector()
	p := startPipeline(t, store, fetcher, passthrough{}, WithEmitter(emit))

	first := p.Enqueue("http://cdn/first", "first.jpg")
	second := p.Enqueue("http://cdn/second", "second.jpg")
	third := p.Enqueue("http://cdn/third", "third.jpg")

	<-fetcher.Started("http://cdn/first")

	assert.False(t, p.Cancel(first.ID()), "active request cannot be cancelled")
	assert.True(t, p.Cancel(second.ID()))
	assert.False(t, p.Cancel(second.ID()))
	assert.False(t, p.Cancel(9999))

	canceled := nextEvent(t, events)
	assert.Equal(t, second.ID(), canceled.ID)
	assert.ErrorIs(t, canceled.Err, transfer.ErrCanceled)

	fetcher.Release("http://cdn/first")

	assert.NoError(t, wait(t, first).Err)
	assert.NoError(t, wait(t, third).Err)

	assert.NoFileExists(t, store.ThumbnailPath("second.jpg"))
	assert.NotContains(t, fetcher.Calls(), "http://cdn/second")
}

func TestThumbnailPipeline_Shutdown(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().
		Serve("http://cdn/slow", []byte("slow")).
		Serve("http://cdn/queued", []byte("queued")).
		Hold("http://cdn/slow")

	p := NewThumbnailPipeline(store, fetcher, passthrough{}, 250, 740)
	p.Start(context.Background())

	slow := p.Enqueue("http://cdn/slow", "slow.jpg")
	queued := p.Enqueue("http://cdn/queued", "queued.jpg")

	<-fetcher.Started("http://cdn/slow")
	assert.FileExists(t, store.ThumbnailPath("slow.jpg"), "destination is opened before the fetch")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.ErrorIs(t, wait(t, slow).Err, transfer.ErrAborted)
	assert.ErrorIs(t, wait(t, queued).Err, transfer.ErrAborted)
	assert.NoFileExists(t, store.ThumbnailPath("slow.jpg"))
	assert.NoFileExists(t, store.ThumbnailPath("queued.jpg"))

	late := p.Enqueue("http://cdn/queued", "late.jpg")
	assert.ErrorIs(t, wait(t, late).Err, transfer.ErrClosed)

	require.NoError(t, p.Shutdown(ctx), "second shutdown is a no-op")
}

func TestThumbnailPipeline_EnqueueBeforeStart(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().Serve("http://cdn/a", []byte("a"))

	p := NewThumbnailPipeline(store, fetcher, passthrough{}, 250, 740)
	pending := p.Enqueue("http://cdn/a", "a.jpg")

	select {
	case <-pending.Done():
		t.Fatal("request completed before the worker started")
	case <-time.After(20 * time.Millisecond):
	}

	p.Start(context.Background())
	assert.NoError(t, wait(t, pending).Err)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestThumbnailPipeline_SameNameOverwrites(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().
		Serve("http://cdn/v1", []byte("version-one")).
		Serve("http://cdn/v2", []byte("v2"))

	p := startPipeline(t, store, fetcher, passthrough{})

	require.NoError(t, wait(t, p.Enqueue("http://cdn/v1", "x.jpg")).Err)
	require.NoError(t, wait(t, p.Enqueue("http://cdn/v2", "x.jpg")).Err)

	data, err := os.ReadFile(store.ThumbnailPath("x.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestThumbnailPipeline_ShutdownWhenIdle(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().Serve("http://cdn/a", []byte("a"))

	p := NewThumbnailPipeline(store, fetcher, passthrough{}, 250, 740)
	p.Start(context.Background())

	require.NoError(t, wait(t, p.Enqueue("http://cdn/a", "a.jpg")).Err)

	// Let the worker park waiting for the next request.
	require.Eventually(t, func() bool { return !p.Active() && p.QueueLen() == 0 }, waitTimeout, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Shutdown(context.Background()) }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("shutdown of an idle pipeline did not return")
	}

	assert.True(t, store.HasThumbnail("a.jpg"))
}

func TestThumbnailPipeline_ShutdownIdleWithDeadline(t *testing.T) {
	p := NewThumbnailPipeline(newStore(t), transfertest.NewFetcher(), passthrough{}, 250, 740)
	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, p.Shutdown(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitOrDone_PrefersClosedDone(t *testing.T) {
	done := make(chan struct{})
	close(done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 100 {
		require.NoError(t, waitOrDone(ctx, done))
	}

	assert.ErrorIs(t, waitOrDone(ctx, make(chan struct{})), context.Canceled)
}
