// Package ambience wires the cache, the download components and the gallery
// exporter into the AmbienceManager and owns their shutdown.
package ambience

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/italolelis/ambience_downloader/internal/ambienced"
	"github.com/italolelis/ambience_downloader/internal/cache"
	"github.com/italolelis/ambience_downloader/internal/cleanup"
	"github.com/italolelis/ambience_downloader/internal/downloader"
	"github.com/italolelis/ambience_downloader/internal/gallery"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/storage"
	"github.com/italolelis/ambience_downloader/internal/telemetry"
	"github.com/italolelis/ambience_downloader/internal/thumbnail"
	"github.com/italolelis/ambience_downloader/internal/transfer"
)

const (
	DefaultThumbnailWidth  = 250
	DefaultThumbnailHeight = 740
	DefaultEventBuffer     = 64
)

// Options configures a Manager. CacheDir and PicturesDir are required.
type Options struct {
	CacheDir        string
	PicturesDir     string
	FullImagePrefix string
	ThumbnailWidth  int
	ThumbnailHeight int
	EventBuffer     int

	Fetcher transfer.Fetcher
	Resizer thumbnail.Resizer
	Service ambienced.Service

	// Journal, when set, persists gallery exports so copies leaked by a
	// previous run are deleted on the next start.
	Journal   storage.ExportRepository
	SessionID string

	Telemetry *telemetry.Telemetry
}

// Manager is the public face of the ambience downloader.
type Manager struct {
	store      *cache.Store
	thumbnails *downloader.ThumbnailPipeline
	fullImages *downloader.FullImageTransfer
	exporter   *gallery.Exporter
	logger     *slog.Logger

	// Exports hold lifecycleMu for reading so Shutdown cannot clean the
	// gallery while a copy is being recorded.
	lifecycleMu sync.RWMutex
	closed      bool

	eventsMu   sync.RWMutex
	events     chan transfer.Event
	feedClosed bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the manager and starts the thumbnail worker. ctx carries the
// logger and bounds the worker's lifetime together with Shutdown.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.CacheDir == "" || opts.PicturesDir == "" {
		return nil, errors.New("cache and pictures directories are required")
	}

	if opts.Fetcher == nil {
		return nil, errors.New("a fetcher is required")
	}

	if opts.Resizer == nil {
		opts.Resizer = thumbnail.ImagingResizer{}
	}

	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = DefaultThumbnailWidth
	}

	if opts.ThumbnailHeight <= 0 {
		opts.ThumbnailHeight = DefaultThumbnailHeight
	}

	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	if opts.SessionID == "" {
		opts.SessionID = storage.GenerateSessionID()
	}

	logger := logctx.LoggerFromContext(ctx)

	m := &Manager{
		store:  cache.New(opts.CacheDir, opts.FullImagePrefix, logger),
		logger: logger,
		events: make(chan transfer.Event, opts.EventBuffer),
	}

	if m.store.InitErr() != nil {
		opts.Telemetry.RecordSystemError("cache", "mkdir")
	}

	remover := cleanup.NewRemover(opts.Telemetry)
	ids := downloader.NewIDSource()

	common := []downloader.Option{
		downloader.WithTelemetry(opts.Telemetry),
		downloader.WithRemover(remover),
		downloader.WithEmitter(m.publish),
		downloader.WithIDs(ids),
	}

	m.thumbnails = downloader.NewThumbnailPipeline(m.store, opts.Fetcher, opts.Resizer, opts.ThumbnailWidth, opts.ThumbnailHeight, common...)
	m.fullImages = downloader.NewFullImageTransfer(m.store, opts.Fetcher, common...)

	exporterOpts := []gallery.Option{
		gallery.WithTelemetry(opts.Telemetry),
		gallery.WithRemover(remover),
		gallery.WithEmitter(m.publish),
	}

	if opts.Journal != nil {
		exporterOpts = append(exporterOpts, gallery.WithJournal(opts.Journal, opts.SessionID))

		n, err := remover.DeleteLeakedExports(ctx, opts.Journal, opts.SessionID)
		if err != nil {
			logger.Warn("failed to recover leaked gallery exports", "err", err)
		} else if n > 0 {
			logger.Info("deleted gallery exports left by a previous run", "count", n)
		}
	}

	m.exporter = gallery.NewExporter(m.store, opts.PicturesDir, opts.Service, exporterOpts...)

	m.thumbnails.Start(ctx)

	logger.Info("ambience manager started",
		"cache_dir", m.store.Dir(),
		"pictures_dir", opts.PicturesDir,
		"session_id", opts.SessionID,
	)

	return m, nil
}

// ThumbnailPath returns where thumbnail name is cached. No I/O is performed.
func (m *Manager) ThumbnailPath(name string) string {
	return m.store.ThumbnailPath(name)
}

// HasThumbnail reports whether a non-empty thumbnail named name is cached.
func (m *Manager) HasThumbnail(name string) bool {
	return m.store.HasThumbnail(name)
}

// FullImagePath returns where full image name is cached.
func (m *Manager) FullImagePath(name string) string {
	return m.store.FullImagePath(name)
}

// SaveThumbnail queues a thumbnail download. Thumbnails are fetched one at a
// time in request order.
func (m *Manager) SaveThumbnail(url, name string) *transfer.Pending {
	return m.thumbnails.Enqueue(url, name)
}

// CancelThumbnail drops a queued thumbnail request that has not started.
func (m *Manager) CancelThumbnail(id uint64) bool {
	return m.thumbnails.Cancel(id)
}

// ThumbnailQueueLen returns the number of thumbnail requests waiting to start.
func (m *Manager) ThumbnailQueueLen() int {
	return m.thumbnails.QueueLen()
}

// SaveFullImage starts downloading a full image. It fails with a BusyError
// while another full image is transferring.
func (m *Manager) SaveFullImage(ctx context.Context, url, name string) (*transfer.Pending, error) {
	return m.fullImages.Start(ctx, url, name)
}

// ThumbnailActive reports whether a thumbnail is being transferred.
func (m *Manager) ThumbnailActive() bool {
	return m.thumbnails.Active()
}

// ActiveFullImage returns the name of the full image being transferred, if any.
func (m *Manager) ActiveFullImage() (string, bool) {
	return m.fullImages.Active()
}

// ExportedImages returns the gallery copies that Shutdown will delete.
func (m *Manager) ExportedImages() []string {
	return m.exporter.Exported()
}

// SaveImageToGallery copies the cached full image name into the gallery. The
// copy is deleted again on Shutdown.
func (m *Manager) SaveImageToGallery(ctx context.Context, name string) (string, error) {
	m.lifecycleMu.RLock()
	defer m.lifecycleMu.RUnlock()

	if m.closed {
		return "", transfer.ErrClosed
	}

	return m.exporter.Export(ctx, name)
}

// SaveImageToGalleryAndApplyAmbience exports name and makes it the current ambience.
func (m *Manager) SaveImageToGalleryAndApplyAmbience(ctx context.Context, name string) (string, error) {
	m.lifecycleMu.RLock()
	defer m.lifecycleMu.RUnlock()

	if m.closed {
		return "", transfer.ErrClosed
	}

	return m.exporter.ExportAndApply(ctx, name)
}

// Events returns the feed of completion events. It is closed by Shutdown.
func (m *Manager) Events() <-chan transfer.Event {
	return m.events
}

// Shutdown aborts in-flight and queued transfers, removes empty files they left
// in the cache and deletes every gallery export. Only the first call does work;
// later calls return its result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.logger.Info("shutting down ambience manager")

		// Waits for running exports; later ones see closed.
		m.lifecycleMu.Lock()
		m.closed = true
		m.lifecycleMu.Unlock()

		var errs []error

		if err := m.thumbnails.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		if err := m.fullImages.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		if err := m.exporter.Cleanup(ctx); err != nil {
			m.logger.Warn("failed to delete some gallery exports", "err", err)
		}

		m.eventsMu.Lock()
		m.feedClosed = true
		close(m.events)
		m.eventsMu.Unlock()

		m.shutdownErr = errors.Join(errs...)
	})

	return m.shutdownErr
}

// publish forwards ev to the events feed without blocking. Events produced
// after the feed is closed are dropped.
func (m *Manager) publish(ev transfer.Event) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()

	if m.feedClosed {
		return
	}

	select {
	case m.events <- ev:
	default:
		m.logger.Warn("event feed full, dropping event", "type", ev.Type, "name", ev.Name)
	}
}
