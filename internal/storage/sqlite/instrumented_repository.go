package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/ambience_downloader/internal/storage"
	"github.com/italolelis/ambience_downloader/internal/telemetry"
)

// InstrumentedExportRepository combines the export read and write repositories with telemetry.
type InstrumentedExportRepository struct {
	read      *ExportReadRepository
	write     *ExportWriteRepository
	telemetry *telemetry.Telemetry
}

var _ storage.ExportRepository = (*InstrumentedExportRepository)(nil)

// NewInstrumentedExportRepository creates a new instrumented export repository.
func NewInstrumentedExportRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedExportRepository {
	return &InstrumentedExportRepository{
		read:      NewExportReadRepository(dbConn),
		write:     NewExportWriteRepository(dbConn),
		telemetry: tel,
	}
}

// GetExports retrieves all exports with telemetry.
func (r *InstrumentedExportRepository) GetExports() ([]storage.ExportRecord, error) {
	var result []storage.ExportRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_exports", func(ctx context.Context) error {
		var err error

		result, err = r.read.GetExports()

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetExportsBySession retrieves the exports of one session with telemetry.
func (r *InstrumentedExportRepository) GetExportsBySession(sessionID string) ([]storage.ExportRecord, error) {
	var result []storage.ExportRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_exports_by_session", func(ctx context.Context) error {
		var err error

		result, err = r.read.GetExportsBySession(sessionID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// TrackExport records an export with telemetry.
func (r *InstrumentedExportRepository) TrackExport(path, sessionID string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "track_export", func(ctx context.Context) error {
		return r.write.TrackExport(path, sessionID)
	})
}

// RemoveExport deletes an export record with telemetry.
func (r *InstrumentedExportRepository) RemoveExport(path string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "remove_export", func(ctx context.Context) error {
		return r.write.RemoveExport(path)
	})
}
