package zipgrade

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/gradebook/internal/model"
)

var statsKeyColumns = []string{"primaryanswer", "correctanswer", "answerkey", "key", "prikey", "clave", "respuestacorrecta"}

// StatsQuestion is one row of the per-question statistics export.
type StatsQuestion struct {
	Number        int                                         `json:"number"`
	CorrectAnswer string                                      `json:"correct_answer"`
	Responses     [model.MaxResponseStats]model.ResponseStat `json:"responses"`
}

// ParseStats reads the legacy statistics file: question number, primary
// answer and up to four "Response n" / "Response n %" pairs.
func ParseStats(ctx context.Context, name string, r io.Reader) ([]StatsQuestion, error) {
	t, err := ReadTable(ctx, name, r)
	if err != nil {
		return nil, err
	}

	cols := indexColumns(t.Header)
	qIdx, hasQ := cols.find(questionColumns...)
	kIdx, hasK := cols.find(statsKeyColumns...)
	if !hasQ || !hasK {
		var problems []string
		if !hasQ {
			problems = append(problems, "missing question number column")
		}
		if !hasK {
			problems = append(problems, "missing primary answer column")
		}
		return nil, &ParseError{File: name, Problems: problems}
	}

	var respIdx, pctIdx [model.MaxResponseStats]int
	for n := 1; n <= model.MaxResponseStats; n++ {
		respIdx[n-1], _ = cols.find(fmt.Sprintf("response%d", n), fmt.Sprintf("respuesta%d", n))
		pctIdx[n-1], _ = cols.find(fmt.Sprintf("response%dpct", n), fmt.Sprintf("respuesta%dpct", n))
	}

	byNumber := make(map[int]StatsQuestion)
	var problems []string
	for line, row := range t.Rows {
		raw := cell(row, qIdx)
		if raw == "" {
			continue
		}
		n, err := parseQuestionNumber(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: invalid question number %q", line+2, raw))
			continue
		}
		q := StatsQuestion{Number: n, CorrectAnswer: strings.ToUpper(cell(row, kIdx))}
		for i := range q.Responses {
			q.Responses[i].Response = cell(row, respIdx[i])
			q.Responses[i].Pct = parsePct(cell(row, pctIdx[i]))
		}
		byNumber[n] = q
	}
	if len(problems) > 0 {
		return nil, &ParseError{File: name, Problems: problems}
	}
	if len(byNumber) == 0 {
		return nil, &ParseError{File: name, Problems: []string{"no questions found"}}
	}

	out := make([]StatsQuestion, 0, len(byNumber))
	for _, q := range byNumber {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// parsePct accepts "45", "45%", "45,5" and "0.45" style cells. Blank is nil.
func parsePct(s string) *float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil
	}
	return &f
}
