package tagresolve

import (
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/taxonomy"
)

// Known is a read-only snapshot of the saved classification rules.
type Known struct {
	normalizations map[string]model.TagNormalization
	hierarchy      map[string]model.TagHierarchy
}

// NewKnown indexes active normalizations by tag_csv_name and hierarchy rows by tag_name.
func NewKnown(norms []model.TagNormalization, tags []model.TagHierarchy) *Known {
	k := &Known{
		normalizations: make(map[string]model.TagNormalization, len(norms)),
		hierarchy:      make(map[string]model.TagHierarchy, len(tags)),
	}
	for _, n := range norms {
		if !n.IsActive {
			continue
		}
		k.normalizations[n.TagCSVName] = n
	}
	for _, h := range tags {
		k.hierarchy[h.TagName] = h
	}
	return k
}

// IsNew reports whether neither a normalization nor a hierarchy row knows tag.
func (k *Known) IsNew(tag string) bool {
	if k == nil {
		return true
	}
	_, n := k.normalizations[tag]
	_, h := k.hierarchy[tag]
	return !n && !h
}

func (k *Known) normalization(tag string) (model.Classification, bool) {
	if k == nil {
		return model.Classification{}, false
	}
	n, ok := k.normalizations[tag]
	if !ok {
		return model.Classification{}, false
	}
	name := n.TagSystemName
	if name == "" {
		name = n.TagCSVName
	}
	return storedClassification(name, n.TagType, n.ParentArea, model.SourceNormalization)
}

func (k *Known) existing(tag string) (model.Classification, bool) {
	if k == nil {
		return model.Classification{}, false
	}
	h, ok := k.hierarchy[tag]
	if !ok {
		return model.Classification{}, false
	}
	return storedClassification(h.TagName, h.TagType, h.ParentArea, model.SourceExistingHierarchy)
}

// stored returns the first saved rule for tag, normalizations first.
func (k *Known) stored(tag string) (model.Classification, bool) {
	if c, ok := k.normalization(tag); ok {
		return c, true
	}
	return k.existing(tag)
}

func storedClassification(name string, t model.TagType, parent *string, src model.Source) (model.Classification, bool) {
	var area model.Area
	var ok bool
	if t == model.TagTypeArea {
		area, ok = taxonomy.NormalizeAreaName(name)
		if !ok && parent != nil {
			area, ok = taxonomy.NormalizeAreaName(*parent)
		}
		if !ok {
			return model.Classification{}, false
		}
		return model.Classification{Area: area, Type: t, Source: src, TagName: taxonomy.Label(area)}, true
	}
	if parent == nil {
		return model.Classification{}, false
	}
	area, ok = taxonomy.NormalizeAreaName(*parent)
	if !ok {
		return model.Classification{}, false
	}
	return model.Classification{Area: area, Type: t, Source: src, TagName: name}, true
}
