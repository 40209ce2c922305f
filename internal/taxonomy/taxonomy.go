// Package taxonomy holds the canonical subject areas, their display labels,
// the alias strings vendor files use for them and the tag types each area accepts.
package taxonomy

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/gradebook/internal/model"
)

// AreaEntry describes one area for classification UIs.
type AreaEntry struct {
	Key         model.Area      `json:"key"`
	Label       string          `json:"label"`
	Types       []model.TagType `json:"types"`
	DefaultType model.TagType   `json:"default_type"`
}

type areaDef struct {
	key     model.Area
	label   string
	aliases []string
	types   []model.TagType
}

var defs = []areaDef{
	{
		key:     model.AreaLectura,
		label:   "Lectura Crítica",
		aliases: []string{"lectura", "lectura critica", "lenguaje", "comprension lectora"},
		types: []model.TagType{
			model.TagTypeArea, model.TagTypeCompetencia, model.TagTypeComponente,
			model.TagTypeTipoTexto, model.TagTypeNivelLectura,
		},
	},
	{
		key:     model.AreaMatematicas,
		label:   "Matemáticas",
		aliases: []string{"matematicas", "matematica"},
		types:   []model.TagType{model.TagTypeArea, model.TagTypeCompetencia, model.TagTypeComponente},
	},
	{
		key:     model.AreaSociales,
		label:   "Ciencias Sociales",
		aliases: []string{"sociales", "ciencias sociales", "sociales y ciudadanas"},
		types:   []model.TagType{model.TagTypeArea, model.TagTypeCompetencia, model.TagTypeComponente},
	},
	{
		key:     model.AreaNaturales,
		label:   "Ciencias Naturales",
		aliases: []string{"naturales", "ciencias naturales", "ciencias"},
		types:   []model.TagType{model.TagTypeArea, model.TagTypeCompetencia, model.TagTypeComponente},
	},
	{
		key:     model.AreaIngles,
		label:   "Inglés",
		aliases: []string{"ingles", "english", "idioma extranjero"},
		types:   []model.TagType{model.TagTypeArea, model.TagTypeParte, model.TagTypeCompetencia},
	},
}

var (
	byKey   map[model.Area]*areaDef
	byAlias map[string]model.Area
)

func init() {
	byKey = make(map[model.Area]*areaDef, len(defs))
	byAlias = make(map[string]model.Area)
	for i := range defs {
		d := &defs[i]
		byKey[d.key] = d
		byAlias[Fold(d.label)] = d.key
		for _, a := range d.aliases {
			byAlias[Fold(a)] = d.key
		}
	}
}

// Fold lowercases s, strips diacritics, turns punctuation into spaces and
// collapses runs of whitespace.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range norm.NFD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		default:
			space = true
		}
	}
	return b.String()
}

// NormalizeAreaName maps a free-text area name to its key.
func NormalizeAreaName(raw string) (model.Area, bool) {
	a, ok := byAlias[Fold(raw)]
	return a, ok
}

// Areas returns the known area keys in display order.
func Areas() []model.Area {
	out := make([]model.Area, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.key)
	}
	return out
}

// IsArea reports whether a is a known area key.
func IsArea(a model.Area) bool {
	_, ok := byKey[a]
	return ok
}

// Label returns the display name of an area, or "" for unknown keys.
func Label(a model.Area) string {
	if d, ok := byKey[a]; ok {
		return d.label
	}
	return ""
}

// ValidTypesForArea returns the classification types allowed for an area.
// Unknown areas accept nothing.
func ValidTypesForArea(a model.Area) []model.TagType {
	d, ok := byKey[a]
	if !ok {
		return nil
	}
	return slices.Clone(d.types)
}

// IsValidType reports whether t may classify a tag of area a.
func IsValidType(a model.Area, t model.TagType) bool {
	d, ok := byKey[a]
	if !ok {
		return false
	}
	return slices.Contains(d.types, t)
}

// DefaultTypeForArea is the type given to a tag of area a when nothing more specific is known.
func DefaultTypeForArea(a model.Area) model.TagType {
	if _, ok := byKey[a]; !ok {
		return model.TagTypeComponente
	}
	return model.TagTypeCompetencia
}

// Catalog lists every area with its accepted types.
func Catalog() []AreaEntry {
	out := make([]AreaEntry, 0, len(defs))
	for _, d := range defs {
		out = append(out, AreaEntry{
			Key:         d.key,
			Label:       d.label,
			Types:       slices.Clone(d.types),
			DefaultType: DefaultTypeForArea(d.key),
		})
	}
	return out
}
