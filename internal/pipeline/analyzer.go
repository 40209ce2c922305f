package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/gradebook/internal/i18n"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/tagresolve"
	"github.com/pavelanni/gradebook/internal/taxonomy"
	"github.com/pavelanni/gradebook/internal/zipgrade"
)

// AnalyzeRequest names the session a pair of vendor files belongs to.
type AnalyzeRequest struct {
	ExamID        int64 `validate:"gt=0"`
	SessionNumber int   `validate:"gte=1"`
	Blueprint     FileInput
	Responses     FileInput
}

// Summary is what a user reviews before importing.
type Summary struct {
	QuizName                    string                  `json:"quiz_name,omitempty"`
	QuestionCountBlueprint      int                     `json:"question_count_blueprint"`
	QuestionCountResponses      int                     `json:"question_count_responses"`
	ResponseRows                int                     `json:"response_rows"`
	StudentsMatched             int                     `json:"students_matched"`
	StudentsUnmatched           int                     `json:"students_unmatched"`
	UnmatchedStudentIDs         []string                `json:"unmatched_student_ids"`
	MissingQuestionsInBlueprint []int                   `json:"missing_questions_in_blueprint"`
	MissingQuestionsInResponses []int                   `json:"missing_questions_in_responses"`
	AreaQuestionCounts          map[model.Area]int      `json:"area_question_counts"`
	UnassignedQuestions         []int                   `json:"unassigned_questions"`
	TagSuggestions              []tagresolve.Suggestion `json:"tag_suggestions"`
	NewTags                     []string                `json:"new_tags"`
	ClassificationCatalog       []taxonomy.AreaEntry    `json:"classification_catalog"`
	Warnings                    []Warning               `json:"warnings"`
}

// Artifact is the staged state of one analysis.
type Artifact struct {
	Token             string                  `json:"token"`
	ExamID            int64                   `json:"exam_id"`
	SessionNumber     int                     `json:"session_number"`
	IssuedAt          time.Time               `json:"issued_at"`
	ExpiresAt         time.Time               `json:"expires_at"`
	BlueprintFilename string                  `json:"blueprint_filename"`
	ResponsesFilename string                  `json:"responses_filename"`
	Blueprint         *zipgrade.Blueprint     `json:"blueprint"`
	Responses         *zipgrade.Responses     `json:"responses"`
	Occurrences       []tagresolve.Occurrence `json:"occurrences"`
	Suggestions       []tagresolve.Suggestion `json:"suggestions"`
	Summary           Summary                 `json:"summary"`
}

// Preview is returned by Analyze.
type Preview struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Summary   Summary   `json:"summary"`
}

// Analyze parses both files, classifies every tag and stages the result.
// Nothing is written to the database.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*Preview, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &ValidationError{Message: "invalid analyze request", Problems: structProblems(err)}
	}
	if req.Blueprint.Reader == nil || req.Responses.Reader == nil {
		return nil, &ValidationError{Message: "invalid analyze request", Problems: []string{"blueprint and responses files are required"}}
	}
	exam, err := s.loadExam(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}

	parseCtx, cancel := context.WithTimeout(ctx, s.parseTimeout)
	defer cancel()
	bp, err := zipgrade.ParseBlueprint(parseCtx, req.Blueprint.Name, req.Blueprint.Reader)
	if err != nil {
		return nil, parseProblem("blueprint", err)
	}
	resp, err := zipgrade.ParseResponses(parseCtx, req.Responses.Name, req.Responses.Reader)
	if err != nil {
		return nil, parseProblem("responses", err)
	}

	resolver, err := s.resolver(ctx)
	if err != nil {
		return nil, err
	}
	questions := make([]tagresolve.QuestionContext, len(bp.Questions))
	for i, q := range bp.Questions {
		questions[i] = tagresolve.QuestionContext{Number: q.Number, Tags: q.Tags}
	}
	resolved := resolver.ResolveAll(ctx, questions)

	enrollments, err := s.store.ActiveEnrollmentsByZipgradeID(ctx, exam.AcademicYear)
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}

	sum := Summary{
		QuizName:                    resp.QuizName,
		QuestionCountBlueprint:      len(bp.Questions),
		QuestionCountResponses:      len(resp.Questions),
		ResponseRows:                len(resp.Rows),
		UnmatchedStudentIDs:         []string{},
		MissingQuestionsInBlueprint: difference(resp.Questions, bp.Numbers()),
		MissingQuestionsInResponses: difference(bp.Numbers(), resp.Questions),
		AreaQuestionCounts:          make(map[model.Area]int),
		UnassignedQuestions:         []int{},
		TagSuggestions:              resolved.Suggestions,
		NewTags:                     []string{},
		ClassificationCatalog:       taxonomy.Catalog(),
	}

	matched := make(map[int64]bool)
	unmatched := make(map[string]bool)
	for _, row := range resp.Rows {
		if m, ok := enrollments[row.StudentID]; ok {
			matched[m.EnrollmentID] = true
			continue
		}
		if !unmatched[row.StudentID] {
			unmatched[row.StudentID] = true
			sum.UnmatchedStudentIDs = append(sum.UnmatchedStudentIDs, row.StudentID)
		}
	}
	sum.StudentsMatched = len(matched)
	sum.StudentsUnmatched = len(unmatched)

	areas := tagresolve.QuestionAreas(resolved.Occurrences)
	for _, q := range bp.Questions {
		if a, ok := areas[q.Number]; ok {
			sum.AreaQuestionCounts[a]++
		} else {
			sum.UnassignedQuestions = append(sum.UnassignedQuestions, q.Number)
		}
	}

	unclassified := 0
	for _, sg := range resolved.Suggestions {
		if sg.IsNew {
			sum.NewTags = append(sum.NewTags, sg.Tag)
		}
		if sg.SuggestedArea == model.AreaUnclassified {
			unclassified++
		}
	}

	previousQuiz := ""
	if sess, err := s.store.GetSession(ctx, exam.ID, req.SessionNumber); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	} else if sess != nil {
		previousQuiz = sess.ZipgradeQuizName
	}

	sum.Warnings = s.warnings(ctx, bp, sum, unclassified, previousQuiz)

	issued := s.now()
	art := Artifact{
		Token:             s.newToken(),
		ExamID:            exam.ID,
		SessionNumber:     req.SessionNumber,
		IssuedAt:          issued,
		ExpiresAt:         issued.Add(s.ttl),
		BlueprintFilename: req.Blueprint.Name,
		ResponsesFilename: req.Responses.Name,
		Blueprint:         bp,
		Responses:         resp,
		Occurrences:       resolved.Occurrences,
		Suggestions:       resolved.Suggestions,
		Summary:           sum,
	}
	data, err := json.Marshal(art)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	// Kept past expiry so a late import is told the token expired.
	if err := s.staging.Put(ctx, previewKey(art.Token), data, s.ttl+s.grace); err != nil {
		return nil, fmt.Errorf("stage preview: %w", err)
	}

	slog.Info("analyzed session files",
		"exam_id", exam.ID,
		"session", req.SessionNumber,
		"questions", sum.QuestionCountBlueprint,
		"rows", sum.ResponseRows,
		"matched", sum.StudentsMatched,
		"unmatched", sum.StudentsUnmatched,
		"tags", len(sum.TagSuggestions),
		"new_tags", len(sum.NewTags),
	)
	return &Preview{Token: art.Token, ExpiresAt: art.ExpiresAt, Summary: sum}, nil
}

func (s *Service) warnings(ctx context.Context, bp *zipgrade.Blueprint, sum Summary, unclassified int, previousQuiz string) []Warning {
	ws := []Warning{}
	for _, c := range bp.Conflicts {
		ws = append(ws, Warning{
			Code: WarnConflictingAnswerKey,
			Message: i18n.Td(ctx, "WarnConflictingAnswerKey", map[string]any{
				"Number": c.Number, "Previous": c.Previous, "Current": c.Current,
			}),
		})
	}
	if len(bp.SkippedRows) > 0 {
		rows := make([]int, len(bp.SkippedRows))
		for i, sr := range bp.SkippedRows {
			rows[i] = sr.Row
		}
		ws = append(ws, Warning{
			Code:    WarnInvalidQuestionRows,
			Message: i18n.Td(ctx, "WarnInvalidQuestionRows", map[string]any{"Rows": joinInts(rows)}),
		})
	}
	if n := sum.StudentsUnmatched; n > 0 {
		ws = append(ws, Warning{Code: WarnUnmatchedStudents, Message: i18n.Tp(ctx, "WarnUnmatchedStudents", n)})
	}
	if len(sum.MissingQuestionsInBlueprint) > 0 {
		ws = append(ws, Warning{
			Code:    WarnMissingInBlueprint,
			Message: i18n.Td(ctx, "WarnMissingInBlueprint", map[string]any{"Questions": joinInts(sum.MissingQuestionsInBlueprint)}),
		})
	}
	if len(sum.MissingQuestionsInResponses) > 0 {
		ws = append(ws, Warning{
			Code:    WarnMissingInResponses,
			Message: i18n.Td(ctx, "WarnMissingInResponses", map[string]any{"Questions": joinInts(sum.MissingQuestionsInResponses)}),
		})
	}
	if unclassified > 0 {
		ws = append(ws, Warning{Code: WarnUnclassifiedTags, Message: i18n.Tp(ctx, "WarnUnclassifiedTags", unclassified)})
	}
	if n := len(sum.NewTags); n > 0 {
		ws = append(ws, Warning{Code: WarnNewTags, Message: i18n.Tp(ctx, "WarnNewTags", n)})
	}
	if n := len(sum.UnassignedQuestions); n > 0 {
		ws = append(ws, Warning{Code: WarnUnassignedQuestions, Message: i18n.Tp(ctx, "WarnUnassignedQuestions", n)})
	}
	if previousQuiz != "" && sum.QuizName != "" && previousQuiz != sum.QuizName {
		ws = append(ws, Warning{
			Code:    WarnQuizNameChanged,
			Message: i18n.Td(ctx, "WarnQuizNameChanged", map[string]any{"Previous": previousQuiz, "Current": sum.QuizName}),
		})
	}
	return ws
}

// difference returns the members of a missing from b, ascending.
func difference(a, b []int) []int {
	in := make(map[int]bool, len(b))
	for _, n := range b {
		in[n] = true
	}
	out := []int{}
	for _, n := range a {
		if !in[n] {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
