package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/zipgrade"
)

// StatsRequest attaches a per-question statistics file to a stored session.
type StatsRequest struct {
	ExamID        int64 `validate:"gt=0"`
	SessionNumber int   `validate:"gte=1"`
	File          FileInput
}

// StatsResult reports how many stored questions were updated.
type StatsResult struct {
	QuestionsUpdated int   `json:"questions_updated"`
	QuestionsSkipped []int `json:"questions_skipped"`
	ImportID         int64 `json:"import_id"`
}

// ImportStats updates the answer keys and response distributions of the
// questions of an existing session. Rows for questions the session does not
// have are skipped.
func (s *Service) ImportStats(ctx context.Context, req StatsRequest) (*StatsResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &ValidationError{Message: "invalid stats request", Problems: structProblems(err)}
	}
	if req.File.Reader == nil {
		return nil, &ValidationError{Message: "invalid stats request", Problems: []string{"stats file is required"}}
	}
	if _, err := s.loadExam(ctx, req.ExamID); err != nil {
		return nil, err
	}
	sess, err := s.store.GetSession(ctx, req.ExamID, req.SessionNumber)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, &NotFoundError{Resource: "session", ID: fmt.Sprintf("%d/%d", req.ExamID, req.SessionNumber)}
	}

	parseCtx, cancel := context.WithTimeout(ctx, s.parseTimeout)
	defer cancel()
	rows, err := zipgrade.ParseStats(parseCtx, req.File.Name, req.File.Reader)
	if err != nil {
		return nil, parseProblem("stats", err)
	}

	importID, err := s.store.CreateImport(ctx, sess.ID, req.File.Name, len(rows), model.ImportProcessing)
	if err != nil {
		return nil, fmt.Errorf("create import record: %w", err)
	}

	res := &StatsResult{QuestionsSkipped: []int{}, ImportID: importID}
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		for _, r := range rows {
			ok, err := q.UpdateQuestionStats(ctx, sess.ID, r.Number, r.CorrectAnswer, r.Responses)
			if err != nil {
				return fmt.Errorf("update question %d: %w", r.Number, err)
			}
			if !ok {
				res.QuestionsSkipped = append(res.QuestionsSkipped, r.Number)
				continue
			}
			res.QuestionsUpdated++
		}
		return nil
	})
	if err != nil {
		if ferr := s.store.FinishImport(ctx, importID, model.ImportError, err.Error()); ferr != nil {
			slog.Error("failed to record import error", "import_id", importID, "error", ferr)
		}
		return nil, &PersistenceError{ImportID: importID, Err: err}
	}
	if err := s.store.FinishImport(ctx, importID, model.ImportCompleted, ""); err != nil {
		return nil, fmt.Errorf("complete import record: %w", err)
	}

	slog.Info("imported question statistics",
		"exam_id", req.ExamID,
		"session", req.SessionNumber,
		"import_id", importID,
		"updated", res.QuestionsUpdated,
		"skipped", len(res.QuestionsSkipped),
	)
	return res, nil
}
