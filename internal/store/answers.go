package store

import (
	"context"

	"github.com/pavelanni/gradebook/internal/model"
)

// UpsertAnswer stores whether an enrollment answered a question correctly,
// overwriting any earlier value.
func (q *Queries) UpsertAnswer(ctx context.Context, questionID, enrollmentID int64, correct bool) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO student_answers (exam_question_id, enrollment_id, is_correct) VALUES (?, ?, ?)
		 ON CONFLICT(exam_question_id, enrollment_id) DO UPDATE SET is_correct = excluded.is_correct`,
		questionID, enrollmentID, correct,
	)
	return err
}

// ListAnswers returns every answer recorded for a session.
func (q *Queries) ListAnswers(ctx context.Context, sessionID int64) ([]model.StudentAnswer, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT sa.id, sa.exam_question_id, sa.enrollment_id, sa.is_correct
		 FROM student_answers sa
		 JOIN exam_questions eq ON eq.id = sa.exam_question_id
		 WHERE eq.exam_session_id = ?
		 ORDER BY sa.enrollment_id, eq.question_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.StudentAnswer
	for rows.Next() {
		var a model.StudentAnswer
		if err := rows.Scan(&a.ID, &a.ExamQuestionID, &a.EnrollmentID, &a.IsCorrect); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// CountAnswers returns the number of answers recorded for a session.
func (q *Queries) CountAnswers(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM student_answers sa
		 JOIN exam_questions eq ON eq.id = sa.exam_question_id
		 WHERE eq.exam_session_id = ?`, sessionID,
	).Scan(&count)
	return count, err
}
