package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/staging"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/taxonomy"
)

// Override is a manual classification of one CSV tag.
type Override struct {
	Tag     string        `json:"tag" validate:"required"`
	Area    model.Area    `json:"area" validate:"required"`
	Type    model.TagType `json:"type" validate:"required"`
	TagName string        `json:"tag_name,omitempty"`
}

// ImportRequest commits a staged preview.
type ImportRequest struct {
	ExamID             int64      `validate:"gt=0"`
	SessionNumber      int        `validate:"gte=1"`
	Token              string     `validate:"required"`
	Overrides          []Override `validate:"dive"`
	SaveNormalizations bool
}

// ImportResult reports what was written.
type ImportResult struct {
	QuestionsImported int   `json:"questions_imported"`
	AnswersImported   int   `json:"answers_imported"`
	StudentsMatched   int   `json:"students_matched"`
	TagsLinked        int   `json:"tags_linked"`
	TagsSkipped       int   `json:"tags_skipped"`
	ImportID          int64 `json:"import_id"`
}

// Import writes a staged preview to the database. Questions, tag links,
// answers, normalizations and the session total are written in a single
// transaction. The attempt is audited whether it commits or not.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &ValidationError{Message: "invalid import request", Problems: structProblems(err)}
	}

	art, err := s.loadArtifact(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(art.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if art.ExamID != req.ExamID || art.SessionNumber != req.SessionNumber {
		slog.Warn("preview token used for another session",
			"token_exam_id", art.ExamID, "token_session", art.SessionNumber,
			"exam_id", req.ExamID, "session", req.SessionNumber)
		return nil, ErrTokenMismatch
	}

	final, manual, err := finalClassifications(art, req.Overrides)
	if err != nil {
		return nil, err
	}

	exam, err := s.loadExam(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.FindOrCreateSession(ctx, exam.ID, req.SessionNumber)
	if err != nil {
		return nil, fmt.Errorf("find or create session: %w", err)
	}
	enrollments, err := s.store.ActiveEnrollmentsByZipgradeID(ctx, exam.AcademicYear)
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}

	importID, err := s.store.CreateImport(ctx, sess.ID, art.ResponsesFilename, len(art.Responses.Rows), model.ImportProcessing)
	if err != nil {
		return nil, fmt.Errorf("create import record: %w", err)
	}

	res := &ImportResult{ImportID: importID}
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		return s.write(ctx, q, sess.ID, art, final, manual, enrollments, req.SaveNormalizations, res)
	})
	if err != nil {
		if ferr := s.store.FinishImport(ctx, importID, model.ImportError, err.Error()); ferr != nil {
			slog.Error("failed to record import error", "import_id", importID, "error", ferr)
		}
		slog.Error("session import failed", "exam_id", exam.ID, "session", req.SessionNumber, "import_id", importID, "error", err)
		return nil, &PersistenceError{ImportID: importID, Err: err}
	}
	if err := s.store.FinishImport(ctx, importID, model.ImportCompleted, ""); err != nil {
		return nil, fmt.Errorf("complete import record: %w", err)
	}

	// A token is good for one successful import.
	if err := s.staging.Delete(ctx, previewKey(req.Token)); err != nil {
		slog.Warn("failed to delete preview token", "import_id", importID, "error", err)
	}

	slog.Info("imported session",
		"exam_id", exam.ID,
		"session", req.SessionNumber,
		"import_id", importID,
		"questions", res.QuestionsImported,
		"answers", res.AnswersImported,
		"students", res.StudentsMatched,
		"tags_linked", res.TagsLinked,
		"tags_skipped", res.TagsSkipped,
		"overrides", len(manual),
	)
	return res, nil
}

func (s *Service) loadArtifact(ctx context.Context, token string) (*Artifact, error) {
	data, err := s.staging.Get(ctx, previewKey(token))
	if errors.Is(err, staging.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load preview: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode preview: %w", err)
	}
	if art.Token != token || art.Blueprint == nil || art.Responses == nil {
		return nil, ErrTokenNotFound
	}
	return &art, nil
}

// finalClassifications merges overrides into the staged suggestions. The
// second result holds the tags that were overridden.
func finalClassifications(art *Artifact, overrides []Override) (map[string]model.Classification, map[string]bool, error) {
	final := make(map[string]model.Classification, len(art.Suggestions))
	for _, sg := range art.Suggestions {
		final[sg.Tag] = sg.Classification()
	}

	manual := make(map[string]bool)
	var problems []string
	for _, o := range overrides {
		if _, ok := final[o.Tag]; !ok {
			problems = append(problems, fmt.Sprintf("tag %q is not in the analyzed blueprint", o.Tag))
			continue
		}
		if !taxonomy.IsArea(o.Area) {
			problems = append(problems, fmt.Sprintf("tag %q: unknown area %q", o.Tag, o.Area))
			continue
		}
		if !taxonomy.IsValidType(o.Area, o.Type) {
			problems = append(problems, fmt.Sprintf("tag %q: type %q is not allowed for area %q", o.Tag, o.Type, o.Area))
			continue
		}
		if manual[o.Tag] {
			problems = append(problems, fmt.Sprintf("tag %q is classified more than once", o.Tag))
			continue
		}
		name := o.TagName
		switch {
		case o.Type == model.TagTypeArea:
			name = taxonomy.Label(o.Area)
		case name == "":
			name = o.Tag
		}
		final[o.Tag] = model.Classification{Area: o.Area, Type: o.Type, Source: model.SourceManual, TagName: name}
		manual[o.Tag] = true
	}
	if len(problems) > 0 {
		return nil, nil, &ValidationError{Message: "invalid classifications", Problems: problems}
	}
	return final, manual, nil
}

// parentArea is the hierarchy parent of a classification: the area label,
// or nothing for area tags.
func parentArea(c model.Classification) *string {
	if c.Type == model.TagTypeArea {
		return nil
	}
	l := taxonomy.Label(c.Area)
	return &l
}

func (s *Service) write(
	ctx context.Context,
	q *store.Queries,
	sessionID int64,
	art *Artifact,
	final map[string]model.Classification,
	manual map[string]bool,
	enrollments map[string]store.EnrollmentMatch,
	saveNormalizations bool,
	res *ImportResult,
) error {
	tagIDs := make(map[string]int64)
	tagID := func(raw string, c model.Classification) (int64, error) {
		if id, ok := tagIDs[c.TagName]; ok && !manual[raw] {
			return id, nil
		}
		id, err := q.UpsertTag(ctx, model.TagHierarchy{
			TagName:    c.TagName,
			TagType:    c.Type,
			ParentArea: parentArea(c),
		}, manual[raw])
		if err != nil {
			return 0, fmt.Errorf("upsert tag %q: %w", c.TagName, err)
		}
		tagIDs[c.TagName] = id
		return id, nil
	}

	skipped := make(map[string]bool)
	questionIDs := make(map[int]int64, len(art.Blueprint.Questions))
	for _, bq := range art.Blueprint.Questions {
		qid, err := q.UpsertQuestion(ctx, sessionID, bq.Number, bq.CorrectAnswer)
		if err != nil {
			return fmt.Errorf("upsert question %d: %w", bq.Number, err)
		}
		questionIDs[bq.Number] = qid

		var questionArea model.Area
		for _, raw := range bq.Tags {
			if c := final[raw]; c.Type == model.TagTypeArea && c.Classified() {
				questionArea = c.Area
				break
			}
		}

		var links []model.QuestionTag
		linked := make(map[int64]bool)
		for _, raw := range bq.Tags {
			c := final[raw]
			if !c.Classified() {
				skipped[raw] = true
				continue
			}
			id, err := tagID(raw, c)
			if err != nil {
				return err
			}
			if linked[id] {
				continue
			}
			linked[id] = true
			// Only an explicit area marker attributes a question to an area.
			link := model.QuestionTag{ExamQuestionID: qid, TagHierarchyID: id}
			if questionArea != "" {
				area := questionArea
				link.InferredArea = &area
			}
			links = append(links, link)
		}
		if err := q.SetQuestionTags(ctx, qid, links); err != nil {
			return fmt.Errorf("link tags of question %d: %w", bq.Number, err)
		}
		res.TagsLinked += len(links)
	}
	res.QuestionsImported = len(questionIDs)
	res.TagsSkipped = len(skipped)

	matched := make(map[int64]bool)
	type answerKey struct{ question, enrollment int64 }
	written := make(map[answerKey]bool)
	for _, row := range art.Responses.Rows {
		m, ok := enrollments[row.StudentID]
		if !ok {
			continue
		}
		matched[m.EnrollmentID] = true
		for number, correct := range row.Answers {
			qid, ok := questionIDs[number]
			if !ok {
				continue
			}
			if err := q.UpsertAnswer(ctx, qid, m.EnrollmentID, correct); err != nil {
				return fmt.Errorf("upsert answer of %s to question %d: %w", row.StudentID, number, err)
			}
			written[answerKey{qid, m.EnrollmentID}] = true
		}
	}
	res.StudentsMatched = len(matched)
	res.AnswersImported = len(written)

	if saveNormalizations {
		for _, sg := range art.Suggestions {
			c := final[sg.Tag]
			if !c.Classified() {
				continue
			}
			err := q.UpsertNormalization(ctx, model.TagNormalization{
				TagCSVName:    sg.Tag,
				TagSystemName: c.TagName,
				TagType:       c.Type,
				ParentArea:    parentArea(c),
				IsActive:      true,
			})
			if err != nil {
				return fmt.Errorf("save normalization %q: %w", sg.Tag, err)
			}
		}
	}

	if _, err := q.RefreshSessionTotals(ctx, sessionID, art.Responses.QuizName); err != nil {
		return fmt.Errorf("refresh session totals: %w", err)
	}

	if s.beforeCommit != nil {
		return s.beforeCommit(q)
	}
	return nil
}
