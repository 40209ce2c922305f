package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pavelanni/gradebook/internal/model"
)

// questionAreas returns the area of every question linked to an area tag,
// keyed by question ID.
func (q *Queries) questionAreas(ctx context.Context, sessionID int64) (map[int64]model.Area, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT qt.exam_question_id, qt.inferred_area
		 FROM question_tags qt
		 JOIN exam_questions eq ON eq.id = qt.exam_question_id
		 JOIN tag_hierarchy th ON th.id = qt.tag_hierarchy_id
		 WHERE eq.exam_session_id = ? AND th.tag_type = ? AND qt.inferred_area IS NOT NULL
		 ORDER BY qt.id`,
		sessionID, model.TagTypeArea,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]model.Area)
	for rows.Next() {
		var id int64
		var area string
		if err := rows.Scan(&id, &area); err != nil {
			return nil, err
		}
		if _, seen := out[id]; !seen {
			out[id] = model.Area(area)
		}
	}
	return out, rows.Err()
}

// ExportSession builds the question list and per-student results of a
// session. It returns nil when the exam or session does not exist.
func (q *Queries) ExportSession(ctx context.Context, examID int64, sessionNumber int) (*model.SessionExport, error) {
	exam, err := q.GetExam(ctx, examID)
	if err != nil || exam == nil {
		return nil, err
	}
	sess, err := q.GetSession(ctx, examID, sessionNumber)
	if err != nil || sess == nil {
		return nil, err
	}

	questions, err := q.ListQuestions(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	links, err := q.ListQuestionTags(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list question tags: %w", err)
	}
	areas, err := q.questionAreas(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("question areas: %w", err)
	}

	export := &model.SessionExport{
		ExamID:             exam.ID,
		ExamName:           exam.Name,
		SessionNumber:      sess.SessionNumber,
		QuizName:           sess.ZipgradeQuizName,
		TotalQuestions:     sess.TotalQuestions,
		AreaQuestionCounts: make(map[model.Area]int),
	}
	for _, eq := range questions {
		info := model.QuestionInfo{
			Number:        eq.QuestionNumber,
			CorrectAnswer: eq.CorrectAnswer,
			Area:          areas[eq.ID],
			Tags:          []string{},
		}
		for _, l := range links[eq.ID] {
			info.Tags = append(info.Tags, l.TagName)
		}
		if info.Area != "" {
			export.AreaQuestionCounts[info.Area]++
		}
		export.Questions = append(export.Questions, info)
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT sa.enrollment_id, s.zipgrade_id, s.first_name, s.last_name, eq.question_number, sa.is_correct
		 FROM student_answers sa
		 JOIN exam_questions eq ON eq.id = sa.exam_question_id
		 JOIN enrollments e ON e.id = sa.enrollment_id
		 JOIN students s ON s.id = e.student_id
		 WHERE eq.exam_session_id = ?
		 ORDER BY s.last_name, s.first_name, sa.enrollment_id, eq.question_number`, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var current *model.StudentResult
	for rows.Next() {
		var enrollmentID int64
		var zg sql.NullString
		var first, last string
		var ar model.AnswerResult
		if err := rows.Scan(&enrollmentID, &zg, &first, &last, &ar.QuestionNumber, &ar.IsCorrect); err != nil {
			return nil, err
		}
		if current == nil || current.EnrollmentID != enrollmentID {
			export.Results = append(export.Results, model.StudentResult{
				EnrollmentID: enrollmentID,
				ZipgradeID:   zg.String,
				DisplayName:  displayName(first, last),
			})
			current = &export.Results[len(export.Results)-1]
		}
		current.Answered++
		if ar.IsCorrect {
			current.Correct++
		}
		current.Answers = append(current.Answers, ar)
	}
	return export, rows.Err()
}

// GetSessionOverview summarizes a stored session, or returns nil if it does not exist.
func (q *Queries) GetSessionOverview(ctx context.Context, examID int64, sessionNumber int) (*model.SessionOverview, error) {
	sess, err := q.GetSession(ctx, examID, sessionNumber)
	if err != nil || sess == nil {
		return nil, err
	}
	areas, err := q.questionAreas(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("question areas: %w", err)
	}
	answers, err := q.CountAnswers(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("count answers: %w", err)
	}
	imports, err := q.ListImports(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}

	ov := &model.SessionOverview{
		Session:            *sess,
		AreaQuestionCounts: make(map[model.Area]int),
		AnswerCount:        answers,
		Imports:            imports,
	}
	for _, a := range areas {
		ov.AreaQuestionCounts[a]++
	}
	ov.UnassignedCount = sess.TotalQuestions - len(areas)
	if ov.UnassignedCount < 0 {
		ov.UnassignedCount = 0
	}
	return ov, nil
}
