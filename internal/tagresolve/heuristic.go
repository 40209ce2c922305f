package tagresolve

import (
	"regexp"
	"strings"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/taxonomy"
)

var parteRegex = regexp.MustCompile(`^(parte|part) ?\d+$`)

var readingLevelTokens = map[string]bool{
	"literal":     true,
	"inferencial": true,
	"inferential": true,
	"critico":     true,
	"critica":     true,
	"critical":    true,
}

var textTypeTokens = map[string]bool{
	"continuo":      true,
	"continuos":     true,
	"discontinuo":   true,
	"discontinuos":  true,
	"continuous":    true,
	"discontinuous": true,
	"literario":     true,
	"informativo":   true,
	"narrativo":     true,
	"argumentativo": true,
	"expositivo":    true,
}

// IsParte reports whether tag reads like an exam part marker ("PARTE 3").
func IsParte(tag string) bool {
	return parteRegex.MatchString(taxonomy.Fold(tag))
}

// lexical guesses the area and dimension of a tag from its words alone.
// The result never has type area.
func lexical(tag string) (model.Area, model.TagType, bool) {
	folded := taxonomy.Fold(tag)
	if folded == "" {
		return "", "", false
	}
	if parteRegex.MatchString(folded) {
		return model.AreaIngles, model.TagTypeParte, true
	}
	words := strings.Fields(folded)
	for _, w := range words {
		if readingLevelTokens[w] {
			return model.AreaLectura, model.TagTypeNivelLectura, true
		}
	}
	for _, w := range words {
		if textTypeTokens[w] {
			return model.AreaLectura, model.TagTypeTipoTexto, true
		}
	}
	return "", "", false
}

// settle fixes the type of a stored or guessed classification so it fits its area.
// English competency names historically saved as parte are read as competencia.
func settle(tag string, area model.Area, t model.TagType) model.TagType {
	if area == model.AreaIngles && t == model.TagTypeParte && !IsParte(tag) {
		t = model.TagTypeCompetencia
	}
	if !taxonomy.IsValidType(area, t) {
		t = taxonomy.DefaultTypeForArea(area)
	}
	return t
}
