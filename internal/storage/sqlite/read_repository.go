package sqlite

import (
	"database/sql"

	"github.com/italolelis/ambience_downloader/internal/storage"
)

type ExportReadRepository struct {
	db *sql.DB
}

func NewExportReadRepository(dbConn *sql.DB) *ExportReadRepository {
	return &ExportReadRepository{db: dbConn}
}

func (r *ExportReadRepository) GetExports() ([]storage.ExportRecord, error) {
	rows, err := r.db.Query(`SELECT path, session_id, exported_at FROM exports ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExports(rows)
}

// GetExportsBySession returns the exports written by one session, oldest first.
func (r *ExportReadRepository) GetExportsBySession(sessionID string) ([]storage.ExportRecord, error) {
	rows, err := r.db.Query(
		`SELECT path, session_id, exported_at FROM exports WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExports(rows)
}

func scanExports(rows *sql.Rows) ([]storage.ExportRecord, error) {
	var exports []storage.ExportRecord

	for rows.Next() {
		var record storage.ExportRecord
		if err := rows.Scan(&record.Path, &record.SessionID, &record.ExportedAt); err != nil {
			return nil, err
		}

		exports = append(exports, record)
	}

	return exports, rows.Err()
}
