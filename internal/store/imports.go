package store

import (
	"context"
	"time"

	"github.com/pavelanni/gradebook/internal/model"
)

var now = func() time.Time { return time.Now().UTC() }

// CreateImport opens an audit row for an import attempt.
func (q *Queries) CreateImport(ctx context.Context, sessionID int64, filename string, totalRows int, status model.ImportStatus) (int64, error) {
	t := now()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO zipgrade_imports (exam_session_id, filename, total_rows, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, filename, totalRows, status, t, t,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishImport sets the final status of an audit row.
func (q *Queries) FinishImport(ctx context.Context, id int64, status model.ImportStatus, errMsg string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE zipgrade_imports SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, now(), id,
	)
	return err
}

// ListImports returns the audit history of a session, newest first.
func (q *Queries) ListImports(ctx context.Context, sessionID int64) ([]model.ZipgradeImport, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, exam_session_id, filename, total_rows, status, error_message, created_at, updated_at
		 FROM zipgrade_imports WHERE exam_session_id = ? ORDER BY id DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ZipgradeImport
	for rows.Next() {
		var zi model.ZipgradeImport
		if err := rows.Scan(&zi.ID, &zi.ExamSessionID, &zi.Filename, &zi.TotalRows, &zi.Status,
			&zi.ErrorMessage, &zi.CreatedAt, &zi.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, zi)
	}
	return out, rows.Err()
}
