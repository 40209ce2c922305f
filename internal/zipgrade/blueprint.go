package zipgrade

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

var (
	questionColumns = []string{"questionnumber", "question", "questionno", "qnumber", "q", "number", "pregunta", "numero", "numeropregunta"}
	keyColumns      = []string{"key", "answerkey", "correctanswer", "primaryanswer", "answer", "prikey", "clave", "respuesta", "respuestacorrecta"}
)

// BlueprintQuestion is one question of the answer key with its raw tags.
type BlueprintQuestion struct {
	Number        int      `json:"number"`
	CorrectAnswer string   `json:"correct_answer"`
	Tags          []string `json:"tags"`
}

// Conflict records a question number listed twice with different answer keys.
type Conflict struct {
	Number   int    `json:"number"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// SkippedRow is a data row whose question number could not be read, such as
// a "Total" footer.
type SkippedRow struct {
	Row   int    `json:"row"`
	Value string `json:"value"`
}

// Blueprint is the parsed question file.
type Blueprint struct {
	Questions   []BlueprintQuestion `json:"questions"`
	Conflicts   []Conflict          `json:"conflicts,omitempty"`
	SkippedRows []SkippedRow        `json:"skipped_rows,omitempty"`
}

// Numbers returns the question numbers in ascending order.
func (b *Blueprint) Numbers() []int {
	out := make([]int, len(b.Questions))
	for i, q := range b.Questions {
		out[i] = q.Number
	}
	return out
}

// ParseBlueprint reads a question/key/tags file. A question number listed more
// than once keeps its last row; differing answer keys are reported as conflicts.
// Rows with an unreadable question number are skipped and reported; the file
// fails only when no question remains.
func ParseBlueprint(ctx context.Context, name string, r io.Reader) (*Blueprint, error) {
	t, err := ReadTable(ctx, name, r)
	if err != nil {
		return nil, err
	}

	cols := indexColumns(t.Header)
	qIdx, hasQ := cols.find(questionColumns...)
	kIdx, hasK := cols.find(keyColumns...)
	var tagIdx []int
	for i, h := range t.Header {
		n := NormalizeHeader(h)
		if strings.HasPrefix(n, "tag") || strings.HasPrefix(n, "etiqueta") {
			tagIdx = append(tagIdx, i)
		}
	}

	var problems []string
	if !hasQ {
		problems = append(problems, "missing question number column")
	}
	if !hasK {
		problems = append(problems, "missing answer key column")
	}
	if len(tagIdx) == 0 {
		problems = append(problems, "missing tag columns")
	}
	if len(problems) > 0 {
		return nil, &ParseError{File: name, Problems: problems}
	}

	byNumber := make(map[int]BlueprintQuestion)
	var conflicts []Conflict
	var skipped []SkippedRow
	for line, row := range t.Rows {
		raw := cell(row, qIdx)
		if raw == "" {
			continue
		}
		n, err := parseQuestionNumber(raw)
		if err != nil {
			skipped = append(skipped, SkippedRow{Row: line + 2, Value: raw})
			continue
		}

		q := BlueprintQuestion{Number: n, CorrectAnswer: strings.ToUpper(cell(row, kIdx))}
		seen := make(map[string]bool)
		for _, i := range tagIdx {
			tag := cell(row, i)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			q.Tags = append(q.Tags, tag)
		}

		if prev, dup := byNumber[n]; dup && prev.CorrectAnswer != "" && q.CorrectAnswer != "" && prev.CorrectAnswer != q.CorrectAnswer {
			conflicts = append(conflicts, Conflict{Number: n, Previous: prev.CorrectAnswer, Current: q.CorrectAnswer})
		}
		byNumber[n] = q
	}

	if len(byNumber) == 0 {
		problems = append(problems, "no questions found")
		for _, sr := range skipped {
			problems = append(problems, fmt.Sprintf("row %d: invalid question number %q", sr.Row, sr.Value))
		}
		return nil, &ParseError{File: name, Problems: problems}
	}

	bp := &Blueprint{Conflicts: conflicts, SkippedRows: skipped}
	for _, q := range byNumber {
		bp.Questions = append(bp.Questions, q)
	}
	sort.Slice(bp.Questions, func(i, j int) bool { return bp.Questions[i].Number < bp.Questions[j].Number })
	return bp, nil
}

// parseQuestionNumber accepts "7", "7.0" (spreadsheets) and "Q7".
func parseQuestionNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "qQ#")
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) && f > 0 {
		return int(f), nil
	}
	return 0, fmt.Errorf("invalid question number %q", s)
}
