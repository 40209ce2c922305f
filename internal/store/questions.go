package store

import (
	"context"
	"database/sql"

	"github.com/pavelanni/gradebook/internal/model"
)

// UpsertQuestion stores a question keyed by (session, number), overwriting
// the correct answer, and returns its ID. Response statistics are left alone.
func (q *Queries) UpsertQuestion(ctx context.Context, sessionID int64, number int, correctAnswer string) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO exam_questions (exam_session_id, question_number, correct_answer) VALUES (?, ?, ?)
		 ON CONFLICT(exam_session_id, question_number) DO UPDATE SET correct_answer = excluded.correct_answer
		 RETURNING id`,
		sessionID, number, correctAnswer,
	).Scan(&id)
	return id, err
}

// UpdateQuestionStats overwrites the answer key and response statistics of an
// existing question. It reports false when the question does not exist.
func (q *Queries) UpdateQuestionStats(ctx context.Context, sessionID int64, number int, correctAnswer string, stats [model.MaxResponseStats]model.ResponseStat) (bool, error) {
	args := []any{correctAnswer}
	for _, st := range stats {
		var pct sql.NullFloat64
		if st.Pct != nil {
			pct = sql.NullFloat64{Float64: *st.Pct, Valid: true}
		}
		args = append(args, st.Response, pct)
	}
	args = append(args, sessionID, number)
	res, err := q.db.ExecContext(ctx,
		`UPDATE exam_questions SET
			correct_answer = COALESCE(NULLIF(?, ''), correct_answer),
			response_1 = ?, response_1_pct = ?,
			response_2 = ?, response_2_pct = ?,
			response_3 = ?, response_3_pct = ?,
			response_4 = ?, response_4_pct = ?
		 WHERE exam_session_id = ? AND question_number = ?`,
		args...,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListQuestions returns the questions of a session ordered by number.
func (q *Queries) ListQuestions(ctx context.Context, sessionID int64) ([]model.ExamQuestion, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, exam_session_id, question_number, correct_answer,
			response_1, response_1_pct, response_2, response_2_pct,
			response_3, response_3_pct, response_4, response_4_pct
		 FROM exam_questions WHERE exam_session_id = ? ORDER BY question_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.ExamQuestion
	for rows.Next() {
		var eq model.ExamQuestion
		var pcts [model.MaxResponseStats]sql.NullFloat64
		dest := []any{&eq.ID, &eq.ExamSessionID, &eq.QuestionNumber, &eq.CorrectAnswer}
		for i := range eq.Responses {
			dest = append(dest, &eq.Responses[i].Response, &pcts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, p := range pcts {
			if p.Valid {
				v := p.Float64
				eq.Responses[i].Pct = &v
			}
		}
		questions = append(questions, eq)
	}
	return questions, rows.Err()
}

// CountQuestions returns the number of questions stored for a session.
func (q *Queries) CountQuestions(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_questions WHERE exam_session_id = ?`, sessionID,
	).Scan(&count)
	return count, err
}
