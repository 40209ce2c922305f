package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTokenNotFound = errors.New("preview token not found")
	ErrTokenExpired  = errors.New("preview token expired")
	ErrTokenMismatch = errors.New("preview token was issued for another exam session")
)

// ValidationError reports input that cannot be processed: unparseable files,
// missing columns or invalid classification overrides.
type ValidationError struct {
	Message  string
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a missing exam or session.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// PersistenceError wraps a failed import transaction. Nothing from the
// attempt was written.
type PersistenceError struct {
	ImportID int64
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("import %d rolled back: %v", e.ImportID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Warning is a non-fatal finding shown with a preview.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	WarnConflictingAnswerKey = "conflicting_answer_key"
	WarnUnmatchedStudents    = "unmatched_students"
	WarnMissingInBlueprint   = "missing_questions_in_blueprint"
	WarnMissingInResponses   = "missing_questions_in_responses"
	WarnUnclassifiedTags     = "unclassified_tags"
	WarnNewTags              = "new_tags"
	WarnUnassignedQuestions  = "unassigned_questions"
	WarnQuizNameChanged      = "quiz_name_changed"
	WarnInvalidQuestionRows  = "invalid_question_rows"
)
