package zipgrade

import (
	"context"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var groupHeader = regexp.MustCompile(`^(stu|prikey|points|mark)(\d+)$`)

var (
	studentIDColumns = []string{"zipgradeid", "studentid", "externalid"}
	quizNameColumns  = []string{"quizname", "quiz"}
	firstNameColumns = []string{"firstname", "nombre", "nombres"}
	lastNameColumns  = []string{"lastname", "apellido", "apellidos"}
)

// ResponseRow is one student's attempt.
type ResponseRow struct {
	Line      int          `json:"line"`
	StudentID string       `json:"student_id"`
	FirstName string       `json:"first_name,omitempty"`
	LastName  string       `json:"last_name,omitempty"`
	QuizName  string       `json:"quiz_name,omitempty"`
	Answers   map[int]bool `json:"answers"`
}

// Responses is the parsed per-student file.
type Responses struct {
	Rows      []ResponseRow `json:"rows"`
	Questions []int         `json:"questions"`
	QuizName  string        `json:"quiz_name,omitempty"`
}

type questionGroup struct {
	stu, prikey, points, mark int
}

func newGroup() *questionGroup {
	return &questionGroup{stu: -1, prikey: -1, points: -1, mark: -1}
}

// correct decides one answer. The mark column wins; without it points and
// then the student/key comparison are used. ok is false for an all-blank group.
func (g *questionGroup) correct(row []string) (correct, ok bool) {
	stu, key := cell(row, g.stu), cell(row, g.prikey)
	points, mark := cell(row, g.points), cell(row, g.mark)
	if stu == "" && key == "" && points == "" && mark == "" {
		return false, false
	}
	if g.mark >= 0 && mark != "" {
		return strings.EqualFold(mark, "C"), true
	}
	if p, err := strconv.ParseFloat(strings.ReplaceAll(points, ",", "."), 64); err == nil {
		return p > 0, true
	}
	return stu != "" && strings.EqualFold(stu, key), true
}

// ParseResponses reads the Zipgrade per-student export.
func ParseResponses(ctx context.Context, name string, r io.Reader) (*Responses, error) {
	t, err := ReadTable(ctx, name, r)
	if err != nil {
		return nil, err
	}

	cols := indexColumns(t.Header)
	idIdx, hasID := cols.find(studentIDColumns...)
	quizIdx, _ := cols.find(quizNameColumns...)
	firstIdx, _ := cols.find(firstNameColumns...)
	lastIdx, _ := cols.find(lastNameColumns...)

	groups := make(map[int]*questionGroup)
	for i, h := range t.Header {
		m := groupHeader.FindStringSubmatch(NormalizeHeader(h))
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		if n <= 0 {
			continue
		}
		g, ok := groups[n]
		if !ok {
			g = newGroup()
			groups[n] = g
		}
		switch m[1] {
		case "stu":
			g.stu = i
		case "prikey":
			g.prikey = i
		case "points":
			g.points = i
		case "mark":
			g.mark = i
		}
	}

	var problems []string
	if !hasID {
		problems = append(problems, "missing student id column")
	}
	if len(groups) == 0 {
		problems = append(problems, "missing per-question columns")
	}
	if len(problems) > 0 {
		return nil, &ParseError{File: name, Problems: problems}
	}

	numbers := make([]int, 0, len(groups))
	for n := range groups {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := &Responses{Questions: numbers}
	for i, row := range t.Rows {
		rr := ResponseRow{
			Line:      i + 2,
			StudentID: normalizeStudentID(cell(row, idIdx)),
			FirstName: cell(row, firstIdx),
			LastName:  cell(row, lastIdx),
			QuizName:  cell(row, quizIdx),
			Answers:   make(map[int]bool),
		}
		for _, n := range numbers {
			if c, ok := groups[n].correct(row); ok {
				rr.Answers[n] = c
			}
		}
		if out.QuizName == "" {
			out.QuizName = rr.QuizName
		}
		out.Rows = append(out.Rows, rr)
	}
	if len(out.Rows) == 0 {
		return nil, &ParseError{File: name, Problems: []string{"no response rows found"}}
	}
	return out, nil
}

// normalizeStudentID trims spreadsheet float formatting from numeric ids ("1234.0").
func normalizeStudentID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(s, ".0")); err == nil {
			return strings.TrimSuffix(s, ".0")
		}
	}
	return s
}
