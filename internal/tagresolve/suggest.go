package tagresolve

import (
	"context"

	"github.com/pavelanni/gradebook/internal/model"
)

// Occurrence is the classification of one tag on one question.
type Occurrence struct {
	QuestionNumber int                  `json:"question_number"`
	Tag            string               `json:"tag"`
	Classification model.Classification `json:"classification"`
}

// Suggestion is the proposed classification of one distinct tag across a file.
type Suggestion struct {
	Tag             string        `json:"tag"`
	SuggestedArea   model.Area    `json:"suggested_area"`
	SuggestedType   model.TagType `json:"suggested_type"`
	SuggestedName   string        `json:"suggested_name"`
	Source          model.Source  `json:"source"`
	Occurrences     int           `json:"occurrences"`
	QuestionNumbers []int         `json:"question_numbers"`
	IsNew           bool          `json:"is_new"`
}

// Classification returns the suggestion as a classification.
func (s Suggestion) Classification() model.Classification {
	return model.Classification{
		Area:    s.SuggestedArea,
		Type:    s.SuggestedType,
		Source:  s.Source,
		TagName: s.SuggestedName,
	}
}

// Result holds every occurrence and one suggestion per distinct tag, in first-seen order.
type Result struct {
	Occurrences []Occurrence `json:"occurrences"`
	Suggestions []Suggestion `json:"suggestions"`
}

type voteKey struct {
	area model.Area
	typ  model.TagType
	name string
}

type tally struct {
	order   []voteKey
	counts  map[voteKey]int
	sources map[voteKey]model.Source
	qnums   []int
}

// ResolveAll classifies every tag of every question. A tag's suggestion is the
// classification it received most often; ties go to the earliest question.
func (r *Resolver) ResolveAll(ctx context.Context, questions []QuestionContext) Result {
	var res Result
	var tagOrder []string
	tallies := make(map[string]*tally)

	for _, q := range questions {
		seen := make(map[string]bool, len(q.Tags))
		for _, tag := range q.Tags {
			if seen[tag] {
				continue
			}
			seen[tag] = true

			c := r.Resolve(ctx, tag, q)
			res.Occurrences = append(res.Occurrences, Occurrence{QuestionNumber: q.Number, Tag: tag, Classification: c})

			tl, ok := tallies[tag]
			if !ok {
				tl = &tally{counts: make(map[voteKey]int), sources: make(map[voteKey]model.Source)}
				tallies[tag] = tl
				tagOrder = append(tagOrder, tag)
			}
			k := voteKey{c.Area, c.Type, c.TagName}
			if _, ok := tl.counts[k]; !ok {
				tl.order = append(tl.order, k)
				tl.sources[k] = c.Source
			}
			tl.counts[k]++
			tl.qnums = append(tl.qnums, q.Number)
		}
	}

	for _, tag := range tagOrder {
		tl := tallies[tag]
		best := tl.order[0]
		for _, k := range tl.order[1:] {
			if tl.counts[k] > tl.counts[best] {
				best = k
			}
		}
		res.Suggestions = append(res.Suggestions, Suggestion{
			Tag:             tag,
			SuggestedArea:   best.area,
			SuggestedType:   best.typ,
			SuggestedName:   best.name,
			Source:          tl.sources[best],
			Occurrences:     len(tl.qnums),
			QuestionNumbers: tl.qnums,
			IsNew:           r.known.IsNew(tag),
		})
	}
	return res
}

// QuestionAreas returns the area each question is explicitly marked with.
// Questions whose tags carry no area marker are left out.
func QuestionAreas(occ []Occurrence) map[int]model.Area {
	out := make(map[int]model.Area)
	for _, o := range occ {
		if _, done := out[o.QuestionNumber]; done {
			continue
		}
		if o.Classification.Type == model.TagTypeArea && o.Classification.Classified() {
			out[o.QuestionNumber] = o.Classification.Area
		}
	}
	return out
}
