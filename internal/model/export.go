package model

// SessionExport is the top-level JSON structure for a session result export.
type SessionExport struct {
	ExamID             int64           `json:"exam_id"`
	ExamName           string          `json:"exam_name"`
	SessionNumber      int             `json:"session_number"`
	QuizName           string          `json:"quiz_name,omitempty"`
	TotalQuestions     int             `json:"total_questions"`
	AreaQuestionCounts map[Area]int    `json:"area_question_counts"`
	Questions          []QuestionInfo  `json:"questions"`
	Results            []StudentResult `json:"results"`
}

// QuestionInfo holds per-question data for export.
type QuestionInfo struct {
	Number        int      `json:"number"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Area          Area     `json:"area,omitempty"`
	Tags          []string `json:"tags"`
}

// StudentResult holds one enrolled student's answers in a session.
type StudentResult struct {
	EnrollmentID int64          `json:"enrollment_id"`
	ZipgradeID   string         `json:"zipgrade_id"`
	DisplayName  string         `json:"display_name"`
	Correct      int            `json:"correct"`
	Answered     int            `json:"answered"`
	Answers      []AnswerResult `json:"answers"`
}

// AnswerResult is one question outcome for a student.
type AnswerResult struct {
	QuestionNumber int  `json:"question_number"`
	IsCorrect      bool `json:"is_correct"`
}

// SessionOverview summarizes what is stored for a session.
type SessionOverview struct {
	Session            ExamSession      `json:"session"`
	AreaQuestionCounts map[Area]int     `json:"area_question_counts"`
	UnassignedCount    int              `json:"unassigned_questions"`
	AnswerCount        int              `json:"answer_count"`
	Imports            []ZipgradeImport `json:"imports"`
}

// RosterImport is used for loading exams, students and enrollments from JSON.
type RosterImport struct {
	Exams    []ExamImport    `json:"exams" validate:"dive"`
	Students []StudentImport `json:"students" validate:"dive"`
}

// ExamImport is one exam entry of a roster file.
type ExamImport struct {
	Name         string `json:"name" validate:"required"`
	AcademicYear int    `json:"academic_year" validate:"gte=2000,lte=2100"`
	Date         string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// StudentImport is one student entry of a roster file. A non-zero academic
// year also enrolls the student for that year.
type StudentImport struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	DocumentID   string `json:"document_id" validate:"required"`
	ZipgradeID   string `json:"zipgrade_id"`
	AcademicYear int    `json:"academic_year" validate:"omitempty,gte=2000,lte=2100"`
	Grade        int    `json:"grade" validate:"gte=0"`
	Group        string `json:"group"`
	Status       string `json:"status" validate:"omitempty,oneof=active inactive withdrawn"`
}
