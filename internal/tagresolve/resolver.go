// Package tagresolve classifies vendor tag strings into {area, type} pairs.
//
// Each tag is run through an ordered chain of strategies and the first one that
// answers wins: the tag naming an area itself, the area marker found among the
// question's other tags, a saved normalization, an existing hierarchy row,
// lexical heuristics, an optional assistant and finally the unclassified default.
package tagresolve

import (
	"context"
	"log/slog"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/taxonomy"
)

// QuestionContext is one blueprint question with its full tag list.
type QuestionContext struct {
	Number int
	Tags   []string
}

// Hint is the area a question's own tag list points to.
type Hint struct {
	Area     model.Area
	Explicit bool // an area marker was present, not just dimension tags
}

// Input is what every strategy sees.
type Input struct {
	Tag      string
	Question QuestionContext
	Hint     Hint
}

// Strategy returns a classification and true when it can decide the tag.
type Strategy interface {
	Resolve(ctx context.Context, in Input) (model.Classification, bool)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, in Input) (model.Classification, bool)

// Resolve calls f.
func (f StrategyFunc) Resolve(ctx context.Context, in Input) (model.Classification, bool) {
	return f(ctx, in)
}

// Assistant suggests a classification for tags nothing else recognizes.
type Assistant interface {
	SuggestTag(ctx context.Context, tag string, siblings []string) (model.Area, model.TagType, error)
}

// Resolver runs the strategy chain against a snapshot of saved rules.
type Resolver struct {
	known     *Known
	assistant Assistant
	chain     []Strategy
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAssistant adds an assistant strategy right before the default.
func WithAssistant(a Assistant) Option {
	return func(r *Resolver) { r.assistant = a }
}

// New builds a resolver. known may be nil when nothing is saved yet.
func New(known *Known, opts ...Option) *Resolver {
	r := &Resolver{known: known}
	for _, o := range opts {
		o(r)
	}
	r.chain = []Strategy{
		StrategyFunc(r.areaMarker),
		StrategyFunc(r.blueprintHint),
		StrategyFunc(r.normalization),
		StrategyFunc(r.existingHierarchy),
		StrategyFunc(r.heuristic),
	}
	if r.assistant != nil {
		r.chain = append(r.chain, StrategyFunc(r.assist))
	}
	return r
}

// Known returns the rule snapshot the resolver was built with.
func (r *Resolver) Known() *Known {
	return r.known
}

// Resolve classifies tag in the context of its question.
func (r *Resolver) Resolve(ctx context.Context, tag string, q QuestionContext) model.Classification {
	in := Input{Tag: tag, Question: q, Hint: r.HintFor(q)}
	for _, s := range r.chain {
		if c, ok := s.Resolve(ctx, in); ok {
			return c
		}
	}
	return model.Classification{
		Area:    model.AreaUnclassified,
		Type:    model.TagTypeComponente,
		Source:  model.SourceDefault,
		TagName: tag,
	}
}

// HintFor finds the area a question's tags point to. An explicit area marker
// wins; otherwise dimension tags give a hint only when they agree on one area.
func (r *Resolver) HintFor(q QuestionContext) Hint {
	for _, tag := range q.Tags {
		if a, ok := r.areaOf(tag); ok {
			return Hint{Area: a, Explicit: true}
		}
	}
	var implied model.Area
	for _, tag := range q.Tags {
		a, _, ok := lexical(tag)
		if !ok {
			continue
		}
		if implied != "" && implied != a {
			return Hint{}
		}
		implied = a
	}
	return Hint{Area: implied}
}

// areaOf reports whether tag is an explicit area marker.
func (r *Resolver) areaOf(tag string) (model.Area, bool) {
	if a, ok := taxonomy.NormalizeAreaName(tag); ok {
		return a, true
	}
	if c, ok := r.known.stored(tag); ok && c.Type == model.TagTypeArea {
		return c.Area, true
	}
	return "", false
}

func (r *Resolver) areaMarker(_ context.Context, in Input) (model.Classification, bool) {
	a, ok := taxonomy.NormalizeAreaName(in.Tag)
	if !ok {
		return model.Classification{}, false
	}
	return model.Classification{Area: a, Type: model.TagTypeArea, Source: model.SourceHeuristic, TagName: taxonomy.Label(a)}, true
}

// blueprintHint moves a tag into the area its question is marked with when the
// saved rules or the lexical guess place it elsewhere.
func (r *Resolver) blueprintHint(_ context.Context, in Input) (model.Classification, bool) {
	hint := in.Hint.Area
	if hint == "" {
		return model.Classification{}, false
	}
	if stored, ok := r.known.stored(in.Tag); ok {
		if stored.Type == model.TagTypeArea || stored.Area == hint {
			return model.Classification{}, false
		}
		return model.Classification{
			Area:    hint,
			Type:    settle(in.Tag, hint, stored.Type),
			Source:  model.SourceBlueprintHint,
			TagName: stored.TagName,
		}, true
	}
	t := taxonomy.DefaultTypeForArea(hint)
	if a, lt, ok := lexical(in.Tag); ok {
		if a == hint {
			return model.Classification{}, false
		}
		t = lt
	}
	return model.Classification{
		Area:    hint,
		Type:    settle(in.Tag, hint, t),
		Source:  model.SourceBlueprintHint,
		TagName: in.Tag,
	}, true
}

func (r *Resolver) normalization(_ context.Context, in Input) (model.Classification, bool) {
	c, ok := r.known.normalization(in.Tag)
	if !ok {
		return c, false
	}
	c.Type = settle(in.Tag, c.Area, c.Type)
	return c, true
}

func (r *Resolver) existingHierarchy(_ context.Context, in Input) (model.Classification, bool) {
	c, ok := r.known.existing(in.Tag)
	if !ok {
		return c, false
	}
	c.Type = settle(in.Tag, c.Area, c.Type)
	return c, true
}

func (r *Resolver) heuristic(_ context.Context, in Input) (model.Classification, bool) {
	a, t, ok := lexical(in.Tag)
	if !ok {
		return model.Classification{}, false
	}
	return model.Classification{Area: a, Type: t, Source: model.SourceHeuristic, TagName: in.Tag}, true
}

func (r *Resolver) assist(ctx context.Context, in Input) (model.Classification, bool) {
	siblings := make([]string, 0, len(in.Question.Tags))
	for _, t := range in.Question.Tags {
		if t != in.Tag {
			siblings = append(siblings, t)
		}
	}
	a, t, err := r.assistant.SuggestTag(ctx, in.Tag, siblings)
	if err != nil {
		slog.Warn("tag assistant failed", "tag", in.Tag, "error", err)
		return model.Classification{}, false
	}
	if !taxonomy.IsValidType(a, t) || t == model.TagTypeArea {
		slog.Debug("tag assistant suggestion rejected", "tag", in.Tag, "area", a, "type", t)
		return model.Classification{}, false
	}
	return model.Classification{Area: a, Type: t, Source: model.SourceAssistant, TagName: in.Tag}, true
}
