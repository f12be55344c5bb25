// Package gallery copies cached full images into the public pictures directory
// and hands them to the theming service.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/italolelis/ambience_downloader/internal/ambienced"
	"github.com/italolelis/ambience_downloader/internal/cache"
	"github.com/italolelis/ambience_downloader/internal/cleanup"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/storage"
	"github.com/italolelis/ambience_downloader/internal/telemetry"
	"github.com/italolelis/ambience_downloader/internal/transfer"
)

// Exporter copies full images out of the cache. Every copy it makes is
// remembered and deleted again by Cleanup.
type Exporter struct {
	store     *cache.Store
	dir       string
	service   ambienced.Service
	journal   storage.ExportRepository
	sessionID string
	remover   *cleanup.Remover
	telemetry *telemetry.Telemetry
	emit      func(transfer.Event)

	mu       sync.Mutex
	exported []string
}

type Option func(*Exporter)

// WithJournal records every export under sessionID so a later run can delete
// copies this one failed to clean up.
func WithJournal(repo storage.ExportRepository, sessionID string) Option {
	return func(e *Exporter) {
		e.journal = repo
		e.sessionID = sessionID
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Exporter) { e.telemetry = t }
}

func WithRemover(r *cleanup.Remover) Option {
	return func(e *Exporter) { e.remover = r }
}

func WithEmitter(emit func(transfer.Event)) Option {
	return func(e *Exporter) { e.emit = emit }
}

// NewExporter writes copies into picturesDir using the cache's full image prefix.
// A nil service disables ambience application.
func NewExporter(store *cache.Store, picturesDir string, service ambienced.Service, opts ...Option) *Exporter {
	if service == nil {
		service = ambienced.Disabled{}
	}

	e := &Exporter{
		store:   store,
		dir:     picturesDir,
		service: service,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.remover == nil {
		e.remover = cleanup.NewRemover(e.telemetry)
	}

	return e
}

// Path returns where the gallery copy of name is written.
func (e *Exporter) Path(name string) string {
	return filepath.Join(e.dir, e.store.Prefix()+name)
}

// Export copies the cached full image name into the gallery and returns the
// copy's path. It fails with a NotFoundError, without touching the gallery,
// when no non-empty full image is cached under name.
func (e *Exporter) Export(ctx context.Context, name string) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("name", name)

	src := e.store.FullImagePath(name)
	if !e.store.HasFullImage(name) {
		e.telemetry.RecordGalleryExport("not_found")

		return "", &transfer.NotFoundError{Name: name, Path: src}
	}

	dst := e.Path(name)

	if err := copyFile(src, dst); err != nil {
		logger.Error("failed to export image to gallery", "dst", dst, "err", err)
		e.telemetry.RecordGalleryExport("failed")

		return "", err
	}

	e.mu.Lock()
	e.exported = append(e.exported, dst)
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.TrackExport(dst, e.sessionID); err != nil {
			logger.Warn("failed to journal gallery export", "path", dst, "err", err)
		}
	}

	logger.Info("image saved to gallery", "path", dst)
	e.telemetry.RecordGalleryExport("saved")
	e.send(transfer.Event{Type: transfer.GalleryImageSaved, Name: name, File: filepath.Base(dst), Path: dst})

	return dst, nil
}

// ExportAndApply exports name and asks the theming service to create an
// ambience from the copy and activate it. Only the export can fail; service
// errors are logged and reported as a failed ambience_applied event.
func (e *Exporter) ExportAndApply(ctx context.Context, name string) (string, error) {
	path, err := e.Export(ctx, name)
	if err != nil {
		return "", err
	}

	ref := FileURL(path)
	ev := transfer.Event{Type: transfer.AmbienceApplied, Name: name, File: filepath.Base(path), Path: path}

	if err := e.service.CreateAmbience(ctx, ref); err != nil {
		ev.Err = err
	} else if err := e.service.SetAmbience(ctx, ref); err != nil {
		ev.Err = err
	}

	if ev.Err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to apply ambience", "name", name, "ref", ref, "err", ev.Err)
	}

	e.send(ev)

	return path, nil
}

// Exported returns the gallery copies made so far, oldest first.
func (e *Exporter) Exported() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.exported...)
}

// Cleanup deletes every gallery copy made by this exporter, including those
// only found in the journal under its session. Failures are logged and
// returned joined; the remaining files are still attempted.
func (e *Exporter) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	paths := e.exported
	e.exported = nil
	e.mu.Unlock()

	if e.journal != nil {
		paths = e.withJournaled(ctx, paths)
	}

	if len(paths) == 0 {
		return nil
	}

	gone, err := e.remover.DeleteFiles(ctx, paths, cleanup.KindGalleryExport)

	if e.journal != nil {
		for _, path := range gone {
			if rmErr := e.journal.RemoveExport(path); rmErr != nil && !errors.Is(rmErr, storage.ErrExportNotTracked) {
				logctx.LoggerFromContext(ctx).Warn("failed to drop journaled export", "path", path, "err", rmErr)
			}
		}
	}

	return err
}

func (e *Exporter) withJournaled(ctx context.Context, paths []string) []string {
	records, err := e.journal.GetExportsBySession(e.sessionID)
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to read journaled exports", "session_id", e.sessionID, "err", err)

		return paths
	}

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		seen[path] = true
	}

	for _, rec := range records {
		if !seen[rec.Path] {
			seen[rec.Path] = true
			paths = append(paths, rec.Path)
		}
	}

	return paths
}

func (e *Exporter) send(ev transfer.Event) {
	if e.emit == nil {
		return
	}

	ev.At = time.Now()
	e.emit(ev)
}

// FileURL converts an absolute path into the location reference the theming service expects.
func FileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}

	return u.String()
}

// copyFile writes src to a temporary file next to dst and renames it into place,
// so an interrupted copy never leaves a truncated image in the gallery.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &transfer.FileSystemError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}

	in, err := os.Open(src)
	if err != nil {
		return &transfer.FileSystemError{Op: "copy", Path: src, Err: err}
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return &transfer.FileSystemError{Op: "copy", Path: dst, Err: err}
	}

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return &transfer.FileSystemError{Op: "copy", Path: dst, Err: fmt.Errorf("write: %w", err)}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return &transfer.FileSystemError{Op: "copy", Path: dst, Err: err}
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())

		return &transfer.FileSystemError{Op: "copy", Path: dst, Err: err}
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())

		return &transfer.FileSystemError{Op: "copy", Path: dst, Err: err}
	}

	return nil
}
