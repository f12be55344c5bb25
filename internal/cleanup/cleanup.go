package cleanup

import (
	"context"
	"errors"
	"os"

	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/storage"
	"github.com/italolelis/ambience_downloader/internal/telemetry"
	"github.com/italolelis/ambience_downloader/internal/transfer"
)

// Removal kinds reported to telemetry.
const (
	KindEmptyLeftover = "empty_leftover"
	KindPartial       = "partial"
	KindGalleryExport = "gallery_export"
	KindLeakedExport  = "leaked_export"
)

// Remover deletes the files the download components leave behind.
// A nil *Remover is valid and records no metrics.
type Remover struct {
	telemetry *telemetry.Telemetry
}

func NewRemover(tel *telemetry.Telemetry) *Remover {
	return &Remover{telemetry: tel}
}

// CloseAndRemoveIfEmpty closes an in-flight destination and deletes it when nothing was written.
func (r *Remover) CloseAndRemoveIfEmpty(ctx context.Context, f *os.File) bool {
	if f == nil {
		return false
	}

	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		logctx.LoggerFromContext(ctx).Warn("failed to close in-flight file", "file", f.Name(), "err", err)
	}

	return r.RemoveIfEmpty(ctx, f.Name())
}

// RemoveIfEmpty deletes path when it is a zero-length regular file.
func (r *Remover) RemoveIfEmpty(ctx context.Context, path string) bool {
	logger := logctx.LoggerFromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to stat file", "file", path, "err", err)
		}

		return false
	}

	if !info.Mode().IsRegular() || info.Size() > 0 {
		return false
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove empty file", "file", path, "err", err)

		return false
	}

	logger.Debug("removed empty file", "file", path)
	r.record(KindEmptyLeftover)

	return true
}

// RemovePartial deletes a file whose write did not complete.
func (r *Remover) RemovePartial(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &transfer.FileSystemError{Op: "remove", Path: path, Err: err}
	}

	logctx.LoggerFromContext(ctx).Debug("removed partial file", "file", path)
	r.record(KindPartial)

	return nil
}

// DeleteFiles removes every path, continuing past failures. Already missing
// files are not errors. The returned slice holds the paths that are gone.
func (r *Remover) DeleteFiles(ctx context.Context, paths []string, kind string) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		gone []string
		errs []error
	)

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete file", "file", path, "kind", kind, "err", err)
			errs = append(errs, &transfer.FileSystemError{Op: "remove", Path: path, Err: err})

			continue
		}

		logger.Info("deleted file", "file", path, "kind", kind)
		r.record(kind)

		gone = append(gone, path)
	}

	return gone, errors.Join(errs...)
}

// DeleteLeakedExports deletes gallery copies journaled by other sessions, which
// ended without running their shutdown cleanup, and drops their journal rows.
func (r *Remover) DeleteLeakedExports(ctx context.Context, repo storage.ExportRepository, currentSession string) (int, error) {
	records, err := repo.GetExports()
	if err != nil {
		return 0, err
	}

	var leaked []string

	for _, rec := range records {
		if rec.SessionID != currentSession {
			leaked = append(leaked, rec.Path)
		}
	}

	if len(leaked) == 0 {
		return 0, nil
	}

	logctx.LoggerFromContext(ctx).Info("recovering leaked gallery exports", "count", len(leaked))

	gone, err := r.DeleteFiles(ctx, leaked, KindLeakedExport)

	for _, path := range gone {
		if rmErr := repo.RemoveExport(path); rmErr != nil && !errors.Is(rmErr, storage.ErrExportNotTracked) {
			err = errors.Join(err, rmErr)
		}
	}

	return len(gone), err
}

func (r *Remover) record(kind string) {
	if r != nil {
		r.telemetry.RecordCleanupRemoval(kind)
	}
}
