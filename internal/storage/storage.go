package storage

import "errors"

// ErrExportNotTracked is returned when removing a path the journal does not hold.
var ErrExportNotTracked = errors.New("export not tracked")

// ExportRecord represents a gallery copy written by a session.
type ExportRecord struct {
	Path       string
	SessionID  string
	ExportedAt string
}

type ExportReadRepository interface {
	GetExports() ([]ExportRecord, error)
	GetExportsBySession(sessionID string) ([]ExportRecord, error)
}

type ExportWriteRepository interface {
	TrackExport(path, sessionID string) error
	RemoveExport(path string) error
}

// ExportRepository is the journal of gallery copies that still have to be deleted.
type ExportRepository interface {
	ExportReadRepository
	ExportWriteRepository
}
