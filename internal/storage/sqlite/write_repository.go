package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/ambience_downloader/internal/storage"
)

// ExportWriteRepository implements storage.ExportWriteRepository
// and stores export records in SQLite.
type ExportWriteRepository struct {
	db *sql.DB
}

func NewExportWriteRepository(db *sql.DB) *ExportWriteRepository {
	return &ExportWriteRepository{db: db}
}

// TrackExport records path for sessionID. Exporting the same path again moves it to the new session.
func (r *ExportWriteRepository) TrackExport(path, sessionID string) error {
	_, err := r.db.Exec(`
		INSERT INTO exports (path, session_id, exported_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			session_id = excluded.session_id,
			exported_at = excluded.exported_at
	`, path, sessionID, time.Now().UTC().Format(time.RFC3339))

	return err
}

func (r *ExportWriteRepository) RemoveExport(path string) error {
	res, err := r.db.Exec(`DELETE FROM exports WHERE path = ?`, path)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrExportNotTracked
	}

	return nil
}
