package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/store"
)

// RosterResult reports what a roster load wrote.
type RosterResult struct {
	Exams       int  `json:"exams"`
	Students    int  `json:"students"`
	Enrollments int  `json:"enrollments"`
	Unchanged   bool `json:"unchanged"`
}

// ImportRoster loads exams, students and enrollments from a JSON roster
// file. A file whose content hash matches the last load of the same name is
// skipped. Everything is written in one transaction.
func (s *Service) ImportRoster(ctx context.Context, name string, data []byte) (*RosterResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	stored, err := s.store.GetImportedFileHash(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check roster %s: %w", name, err)
	}
	if stored == hash {
		slog.Info("roster unchanged, skipping", "file", name)
		return &RosterResult{Unchanged: true}, nil
	}

	var roster model.RosterImport
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, &ValidationError{Message: "invalid roster file", Problems: []string{err.Error()}, Err: err}
	}
	if err := s.validate.Struct(roster); err != nil {
		return nil, &ValidationError{Message: "invalid roster file", Problems: structProblems(err)}
	}

	res := &RosterResult{}
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		for _, e := range roster.Exams {
			exam := model.Exam{Name: e.Name, AcademicYear: e.AcademicYear}
			if e.Date != "" {
				// Validated above.
				exam.ExamDate, _ = time.Parse(time.DateOnly, e.Date)
			}
			if _, err := q.UpsertExam(ctx, exam); err != nil {
				return fmt.Errorf("upsert exam %q: %w", e.Name, err)
			}
			res.Exams++
		}
		for _, st := range roster.Students {
			id, err := q.UpsertStudent(ctx, model.Student{
				FirstName:  st.FirstName,
				LastName:   st.LastName,
				DocumentID: st.DocumentID,
				ZipgradeID: st.ZipgradeID,
			})
			if err != nil {
				return fmt.Errorf("upsert student %q: %w", st.DocumentID, err)
			}
			res.Students++
			if st.AcademicYear == 0 {
				continue
			}
			_, err = q.UpsertEnrollment(ctx, model.Enrollment{
				StudentID:    id,
				AcademicYear: st.AcademicYear,
				Grade:        st.Grade,
				Group:        st.Group,
				Status:       st.Status,
			})
			if err != nil {
				return fmt.Errorf("upsert enrollment of %q: %w", st.DocumentID, err)
			}
			res.Enrollments++
		}
		return q.SetImportedFileHash(ctx, name, hash)
	})
	if err != nil {
		return nil, err
	}

	if stored != "" {
		slog.Warn("roster changed since last load, updated", "file", name)
	}
	slog.Info("loaded roster", "file", name, "exams", res.Exams, "students", res.Students, "enrollments", res.Enrollments)
	return res, nil
}
