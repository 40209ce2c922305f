// Package zipgrade parses the files exported by the Zipgrade grading service:
// question blueprints, per-student responses and per-question statistics.
package zipgrade

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/gradebook/internal/taxonomy"
)

// ParseError reports a file that cannot be used at all.
type ParseError struct {
	File     string
	Problems []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, strings.Join(e.Problems, "; "))
}

// Table is a header row plus data rows; every row has len(Header) cells.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// ctxCheckEvery is how many rows are read between cancellation checks.
const ctxCheckEvery = 256

// ReadTable reads a CSV or XLSX file. The format is chosen by extension.
func ReadTable(ctx context.Context, name string, r io.Reader) (*Table, error) {
	var raw [][]string
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		raw, err = readXLSX(ctx, r)
	default:
		raw, err = readCSV(ctx, r)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return nil, &ParseError{File: name, Problems: []string{err.Error()}}
	}

	// Drop leading blank rows.
	for len(raw) > 0 && blankRow(raw[0]) {
		raw = raw[1:]
	}
	if len(raw) == 0 {
		return nil, &ParseError{File: name, Problems: []string{"file is empty"}}
	}

	t := &Table{Name: name, Header: trimAll(raw[0])}
	for _, row := range raw[1:] {
		if blankRow(row) {
			continue
		}
		cells := make([]string, len(t.Header))
		for i := range cells {
			if i < len(row) {
				cells[i] = strings.TrimSpace(row[i])
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

func readCSV(ctx context.Context, r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	first, _ := br.Peek(4096)

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(first)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var rows [][]string
	for i := 0; ; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// sniffDelimiter picks the separator that occurs most on the header line.
// Spreadsheet exports in Spanish locales use ';'.
func sniffDelimiter(sample []byte) rune {
	line := sample
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		line = sample[:i]
	}
	best, bestN := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func readXLSX(ctx context.Context, r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]string
	for i := 0; rows.Next(); i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		out = append(out, cols)
	}
	return out, rows.Error()
}

// NormalizeHeader lowercases a column heading, folds accents, spells '%' as
// "pct" and drops everything that is not a letter or digit.
func NormalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "%", " pct ")
	var b strings.Builder
	for _, r := range taxonomy.Fold(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// columns indexes normalized header names to their first position.
type columns map[string]int

func indexColumns(header []string) columns {
	c := make(columns, len(header))
	for i, h := range header {
		n := NormalizeHeader(h)
		if _, dup := c[n]; !dup && n != "" {
			c[n] = i
		}
	}
	return c
}

// find returns the position of the first candidate present.
func (c columns) find(candidates ...string) (int, bool) {
	for _, name := range candidates {
		if i, ok := c[name]; ok {
			return i, true
		}
	}
	return -1, false
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
