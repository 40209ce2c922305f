package prompts

import (
	"bytes"
	"embed"
	"errors"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/gradebook/internal/taxonomy"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	tagMarkerRegex     = regexp.MustCompile(`(?i)</?\s*tag\b[^>]*>`)
	siblingMarkerRegex = regexp.MustCompile(`(?i)</?\s*sibling-tags\b[^>]*>`)
)

const maxTagRunes = 200

var (
	loadOnce    sync.Once
	loadErr     error
	classifyTpl *template.Template
)

// AreaLine is one area of the catalog as the prompt lists it.
type AreaLine struct {
	Key   string
	Label string
	Types string
}

// ClassifyData holds template data for the tag classification prompt.
type ClassifyData struct {
	Tag      string
	Siblings string
	Areas    []AreaLine
}

func load() error {
	loadOnce.Do(func() {
		content, err := templateFS.ReadFile("templates/classify_tag.txt")
		if err != nil {
			loadErr = errors.New("failed to read prompt template: " + err.Error())
			return
		}
		classifyTpl, err = template.New("classify").Parse(string(content))
		if err != nil {
			loadErr = errors.New("failed to parse prompt template: " + err.Error())
		}
	})
	return loadErr
}

// BuildClassifyPrompt renders the system prompt asking for the area and type
// of one tag. Tag text is sanitized before it is placed in the prompt.
func BuildClassifyPrompt(tag string, siblings []string) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	data := ClassifyData{Tag: sanitizeTag(tag)}
	for _, e := range taxonomy.Catalog() {
		types := make([]string, len(e.Types))
		for i, t := range e.Types {
			types[i] = string(t)
		}
		data.Areas = append(data.Areas, AreaLine{Key: string(e.Key), Label: e.Label, Types: strings.Join(types, ", ")})
	}
	var sib []string
	for _, s := range siblings {
		if s = sanitizeTag(s); s != "" {
			sib = append(sib, s)
		}
	}
	data.Siblings = strings.Join(sib, " | ")

	var buf bytes.Buffer
	if err := classifyTpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitizeTag strips prompt markers and control characters and bounds the length.
func sanitizeTag(tag string) string {
	tag = tagMarkerRegex.ReplaceAllString(tag, "")
	tag = siblingMarkerRegex.ReplaceAllString(tag, "")
	tag = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, tag)
	tag = strings.TrimSpace(tag)

	if utf8.RuneCountInString(tag) > maxTagRunes {
		tag = string([]rune(tag)[:maxTagRunes])
	}
	return tag
}
