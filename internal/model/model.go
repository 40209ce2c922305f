package model

import "time"

// Area is a canonical subject-area key.
type Area string

const (
	AreaLectura      Area = "lectura"
	AreaMatematicas  Area = "matematicas"
	AreaSociales     Area = "sociales"
	AreaNaturales    Area = "naturales"
	AreaIngles       Area = "ingles"
	AreaUnclassified Area = "__unclassified"
)

// TagType is the dimension a tag classifies a question along.
type TagType string

const (
	TagTypeArea         TagType = "area"
	TagTypeCompetencia  TagType = "competencia"
	TagTypeComponente   TagType = "componente"
	TagTypeTipoTexto    TagType = "tipo_texto"
	TagTypeNivelLectura TagType = "nivel_lectura"
	TagTypeParte        TagType = "parte"
)

// AllTagTypes lists every tag type in display order.
var AllTagTypes = []TagType{
	TagTypeArea,
	TagTypeCompetencia,
	TagTypeComponente,
	TagTypeTipoTexto,
	TagTypeNivelLectura,
	TagTypeParte,
}

// Source names where a classification came from.
type Source string

const (
	SourceBlueprintHint     Source = "blueprint_hint"
	SourceNormalization     Source = "normalization"
	SourceExistingHierarchy Source = "existing_hierarchy"
	SourceHeuristic         Source = "heuristic"
	SourceAssistant         Source = "assistant"
	SourceDefault           Source = "default"
	SourceManual            Source = "manual"
)

// Classification is the resolved {area, type} of one tag.
// TagName is the system tag name the vendor tag maps to.
type Classification struct {
	Area    Area    `json:"area"`
	Type    TagType `json:"type"`
	Source  Source  `json:"source"`
	TagName string  `json:"tag_name"`
}

// Classified reports whether the classification names a real area.
func (c Classification) Classified() bool {
	return c.Area != "" && c.Area != AreaUnclassified
}

// ImportStatus is the state of a ZipgradeImport audit row.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportError      ImportStatus = "error"
)

// Exam is an exam administered to enrolled students.
type Exam struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	AcademicYear int       `json:"academic_year"`
	ExamDate     time.Time `json:"exam_date"`
}

// Student is a person who can be enrolled.
type Student struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	DocumentID string `json:"document_id"`
	ZipgradeID string `json:"zipgrade_id"`
}

// Enrollment places a student in a group for an academic year.
type Enrollment struct {
	ID           int64  `json:"id"`
	StudentID    int64  `json:"student_id"`
	AcademicYear int    `json:"academic_year"`
	Grade        int    `json:"grade"`
	Group        string `json:"group"`
	Status       string `json:"status"`
}

// EnrollmentActive is the status of an enrollment that can receive answers.
const EnrollmentActive = "active"

// ExamSession is one numbered grading batch of an exam.
type ExamSession struct {
	ID               int64  `json:"id"`
	ExamID           int64  `json:"exam_id"`
	SessionNumber    int    `json:"session_number"`
	Name             string `json:"name"`
	ZipgradeQuizName string `json:"zipgrade_quiz_name,omitempty"`
	TotalQuestions   int    `json:"total_questions"`
}

// ResponseStat is one of the up to four most chosen responses of a question.
type ResponseStat struct {
	Response string   `json:"response"`
	Pct      *float64 `json:"pct,omitempty"`
}

// MaxResponseStats is the number of response/percentage pairs a question keeps.
const MaxResponseStats = 4

// ExamQuestion is one physical question within a session.
type ExamQuestion struct {
	ID             int64                          `json:"id"`
	ExamSessionID  int64                          `json:"exam_session_id"`
	QuestionNumber int                            `json:"question_number"`
	CorrectAnswer  string                         `json:"correct_answer,omitempty"`
	Responses      [MaxResponseStats]ResponseStat `json:"responses"`
}

// TagHierarchy is a named tag in the curated taxonomy.
type TagHierarchy struct {
	ID         int64   `json:"id"`
	TagName    string  `json:"tag_name"`
	TagType    TagType `json:"tag_type"`
	ParentArea *string `json:"parent_area,omitempty"`
}

// TagNormalization maps a vendor CSV tag to a system classification.
type TagNormalization struct {
	ID            int64   `json:"id"`
	TagCSVName    string  `json:"tag_csv_name"`
	TagSystemName string  `json:"tag_system_name"`
	TagType       TagType `json:"tag_type"`
	ParentArea    *string `json:"parent_area,omitempty"`
	IsActive      bool    `json:"is_active"`
}

// QuestionTag links a question to a tag.
type QuestionTag struct {
	ID             int64  `json:"id"`
	ExamQuestionID int64  `json:"exam_question_id"`
	TagHierarchyID int64  `json:"tag_hierarchy_id"`
	InferredArea   *Area  `json:"inferred_area,omitempty"`
	TagName        string `json:"tag_name,omitempty"`
}

// StudentAnswer records whether an enrolled student answered a question correctly.
type StudentAnswer struct {
	ID             int64 `json:"id"`
	ExamQuestionID int64 `json:"exam_question_id"`
	EnrollmentID   int64 `json:"enrollment_id"`
	IsCorrect      bool  `json:"is_correct"`
}

// ZipgradeImport is the audit record of one import attempt.
type ZipgradeImport struct {
	ID            int64        `json:"id"`
	ExamSessionID int64        `json:"exam_session_id"`
	Filename      string       `json:"filename"`
	TotalRows     int          `json:"total_rows"`
	Status        ImportStatus `json:"status"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Config holds runtime settings shared by the CLI and the HTTP server.
type Config struct {
	Lang         string
	PreviewTTL   time.Duration // how long an analysis token can be imported
	PreviewGrace time.Duration // how long an expired token is still reported as expired
	ParseTimeout time.Duration // upper bound for parsing one pair of vendor files
	MaxUploadMB  int64
}
