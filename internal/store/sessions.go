package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pavelanni/gradebook/internal/model"
)

const sessionColumns = `id, exam_id, session_number, name, zipgrade_quiz_name, total_questions`

func scanSession(row interface{ Scan(...any) error }) (model.ExamSession, error) {
	var s model.ExamSession
	err := row.Scan(&s.ID, &s.ExamID, &s.SessionNumber, &s.Name, &s.ZipgradeQuizName, &s.TotalQuestions)
	return s, err
}

// GetSession returns the session numbered sessionNumber of an exam, or nil.
func (q *Queries) GetSession(ctx context.Context, examID int64, sessionNumber int) (*model.ExamSession, error) {
	s, err := scanSession(q.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_id = ? AND session_number = ?`,
		examID, sessionNumber,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindOrCreateSession returns the session, creating an empty one when missing.
func (q *Queries) FindOrCreateSession(ctx context.Context, examID int64, sessionNumber int) (*model.ExamSession, error) {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO exam_sessions (exam_id, session_number, name) VALUES (?, ?, ?)
		 ON CONFLICT(exam_id, session_number) DO NOTHING`,
		examID, sessionNumber, fmt.Sprintf("Sesión %d", sessionNumber),
	)
	if err != nil {
		return nil, err
	}
	s, err := q.GetSession(ctx, examID, sessionNumber)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("session %d of exam %d vanished after insert", sessionNumber, examID)
	}
	return s, nil
}

// ListSessions returns the sessions of an exam in session order.
func (q *Queries) ListSessions(ctx context.Context, examID int64) ([]model.ExamSession, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_id = ? ORDER BY session_number`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RefreshSessionTotals recounts the session's questions and stores the count.
// A non-empty quizName replaces the stored vendor quiz name.
func (q *Queries) RefreshSessionTotals(ctx context.Context, sessionID int64, quizName string) (int, error) {
	var total int
	err := q.db.QueryRowContext(ctx,
		`UPDATE exam_sessions SET
			total_questions = (SELECT COUNT(*) FROM exam_questions WHERE exam_session_id = ?),
			zipgrade_quiz_name = COALESCE(NULLIF(?, ''), zipgrade_quiz_name)
		 WHERE id = ?
		 RETURNING total_questions`,
		sessionID, quizName, sessionID,
	).Scan(&total)
	return total, err
}
