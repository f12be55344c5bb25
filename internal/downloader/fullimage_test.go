package downloader

import (
	"context"
	"os"
	"testing"

	"github.com/italolelis/ambience_downloader/internal/transfer"
	"github.com/italolelis/ambience_downloader/internal/transfer/transfertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullImageTransfer_Saves(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().Serve("http://cdn/forest-full.jpg", []byte("full resolution"))

	emit, events := collector()
	tr := NewFullImageTransfer(store, fetcher, WithEmitter(emit))
	defer tr.Shutdown(context.Background())

	pending, err := tr.Start(context.Background(), "http://cdn/forest-full.jpg", "forest.jpg")
	require.NoError(t, err)

	ev := wait(t, pending)
	require.NoError(t, ev.Err)
	assert.Equal(t, transfer.FullImageSaved, ev.Type)
	assert.Equal(t, store.FullImagePath("forest.jpg"), ev.Path)
	assert.Equal(t, "ambience-forest.jpg", ev.File)

	assert.Equal(t, ev, nextEvent(t, events))

	data, err := os.ReadFile(store.FullImagePath("forest.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "full resolution", string(data))

	_, active := tr.Active()
	assert.False(t, active)
}

func TestFullImageTransfer_BusyWhileActive(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().
		Serve("http://cdn/a", []byte("a")).
		Serve("http://cdn/b", []byte("b")).
		Hold("http://cdn/a")

	tr := NewFullImageTransfer(store, fetcher)
	defer tr.Shutdown(context.Background())

	first, err := tr.Start(context.Background(), "http://cdn/a", "a.jpg")
	require.NoError(t, err)

	<-fetcher.Started("http://cdn/a")

	name, active := tr.Active()
	assert.True(t, active)
	assert.Equal(t, "a.jpg", name)

	_, err = tr.Start(context.Background(), "http://cdn/b", "b.jpg")

	var busy *transfer.BusyError
	require.ErrorAs(t, err, &busy)
	assert.ErrorIs(t, err, transfer.ErrBusy)
	assert.Equal(t, "a.jpg", busy.Active)
	assert.NoFileExists(t, store.FullImagePath("b.jpg"), "rejected request has no side effects")

	fetcher.Release("http://cdn/a")
	require.NoError(t, wait(t, first).Err)

	second, err := tr.Start(context.Background(), "http://cdn/b", "b.jpg")
	require.NoError(t, err)
	require.NoError(t, wait(t, second).Err)
	assert.True(t, store.HasFullImage("b.jpg"))
}

func TestFullImageTransfer_FailureKeepsEmptyFileUntilShutdown(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().
		Fail("http://cdn/gone", &transfer.FetchError{URL: "http://cdn/gone", StatusCode: 410})

	tr := NewFullImageTransfer(store, fetcher)

	pending, err := tr.Start(context.Background(), "http://cdn/gone", "gone.jpg")
	require.NoError(t, err)

	ev := wait(t, pending)
	assert.Equal(t, transfer.FullImageFailed, ev.Type)

	var fetchErr *transfer.FetchError
	require.ErrorAs(t, ev.Err, &fetchErr)
	assert.Equal(t, 410, fetchErr.StatusCode)

	info, err := os.Stat(store.FullImagePath("gone.jpg"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NoError(t, tr.Shutdown(context.Background()))
	assert.NoFileExists(t, store.FullImagePath("gone.jpg"))
}

func TestFullImageTransfer_ShutdownAbortsActive(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().Hold("http://cdn/slow")

	tr := NewFullImageTransfer(store, fetcher)

	pending, err := tr.Start(context.Background(), "http://cdn/slow", "slow.jpg")
	require.NoError(t, err)

	<-fetcher.Started("http://cdn/slow")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, tr.Shutdown(ctx))

	assert.ErrorIs(t, wait(t, pending).Err, transfer.ErrAborted)
	assert.NoFileExists(t, store.FullImagePath("slow.jpg"))

	_, err = tr.Start(context.Background(), "http://cdn/slow", "again.jpg")
	assert.ErrorIs(t, err, transfer.ErrClosed)
}

func TestFullImageTransfer_RequestContextDoesNotCancel(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().Serve("http://cdn/a", []byte("a")).Hold("http://cdn/a")

	tr := NewFullImageTransfer(store, fetcher)
	defer tr.Shutdown(context.Background())

	reqCtx, cancel := context.WithCancel(context.Background())
	pending, err := tr.Start(reqCtx, "http://cdn/a", "a.jpg")
	require.NoError(t, err)

	<-fetcher.Started("http://cdn/a")
	cancel()
	fetcher.Release("http://cdn/a")

	assert.NoError(t, wait(t, pending).Err)
}

func TestFullImageTransfer_CreateFailure(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.Mkdir(store.FullImagePath("dir.jpg"), 0o755))

	tr := NewFullImageTransfer(store, transfertest.NewFetcher())
	defer tr.Shutdown(context.Background())

	_, err := tr.Start(context.Background(), "http://cdn/a", "dir.jpg")

	var fsErr *transfer.FileSystemError
	require.ErrorAs(t, err, &fsErr)

	_, active := tr.Active()
	assert.False(t, active)
}

func TestFullImageTransfer_ShutdownWhenIdle(t *testing.T) {
	store := newStore(t)
	fetcher := transfertest.NewFetcher().Serve("http://cdn/a", []byte("a"))

	tr := NewFullImageTransfer(store, fetcher)

	pending, err := tr.Start(context.Background(), "http://cdn/a", "a.jpg")
	require.NoError(t, err)
	require.NoError(t, wait(t, pending).Err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, tr.Shutdown(ctx))
	assert.True(t, store.HasFullImage("a.jpg"))
}
