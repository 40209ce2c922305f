// Package pipeline turns Zipgrade exports into stored questions, tags and
// answers in two steps. Analyze parses the files, classifies every tag and
// stages the result under an opaque token without touching the database.
// Import commits a staged preview, with optional manual classifications, in
// one transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/staging"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/tagresolve"
	"github.com/pavelanni/gradebook/internal/zipgrade"
)

// Defaults used when the configuration leaves a duration unset.
const (
	DefaultPreviewTTL   = 2 * time.Hour
	DefaultPreviewGrace = 24 * time.Hour
	DefaultParseTimeout = 2 * time.Minute
)

// FileInput is one uploaded vendor file.
type FileInput struct {
	Name   string
	Reader io.Reader
}

// Service runs the analyze and import steps.
type Service struct {
	store     *store.Store
	staging   staging.Store
	assistant tagresolve.Assistant
	validate  *validator.Validate

	ttl          time.Duration
	grace        time.Duration
	parseTimeout time.Duration

	now      func() time.Time
	newToken func() string

	// beforeCommit runs at the end of the import transaction; tests use it
	// to force a rollback.
	beforeCommit func(q *store.Queries) error
}

// Option configures a Service.
type Option func(*Service)

// WithAssistant lets an assistant classify tags no rule recognizes.
func WithAssistant(a tagresolve.Assistant) Option {
	return func(s *Service) { s.assistant = a }
}

// New builds a Service. Zero durations in cfg fall back to the defaults.
func New(st *store.Store, stg staging.Store, cfg model.Config, opts ...Option) *Service {
	s := &Service{
		store:        st,
		staging:      stg,
		validate:     validator.New(),
		ttl:          orDefault(cfg.PreviewTTL, DefaultPreviewTTL),
		grace:        orDefault(cfg.PreviewGrace, DefaultPreviewGrace),
		parseTimeout: orDefault(cfg.ParseTimeout, DefaultParseTimeout),
		now:          time.Now,
		newToken:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func previewKey(token string) string {
	return "preview:" + token
}

// loadExam returns the exam or a NotFoundError.
func (s *Service) loadExam(ctx context.Context, examID int64) (*model.Exam, error) {
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if exam == nil {
		return nil, &NotFoundError{Resource: "exam", ID: fmt.Sprint(examID)}
	}
	return exam, nil
}

// resolver builds a tag resolver over the currently saved rules.
func (s *Service) resolver(ctx context.Context) (*tagresolve.Resolver, error) {
	norms, err := s.store.ListNormalizations(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load normalizations: %w", err)
	}
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tag hierarchy: %w", err)
	}
	var opts []tagresolve.Option
	if s.assistant != nil {
		opts = append(opts, tagresolve.WithAssistant(s.assistant))
	}
	return tagresolve.New(tagresolve.NewKnown(norms, tags), opts...), nil
}

// structProblems flattens validator errors into readable problems.
func structProblems(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return out
}

// parseProblem converts a parser failure into a ValidationError.
func parseProblem(what string, err error) error {
	var pe *zipgrade.ParseError
	if errors.As(err, &pe) {
		return &ValidationError{Message: "invalid " + what + " file", Problems: pe.Problems, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ValidationError{Message: what + " file took too long to parse", Err: err}
	}
	return &ValidationError{Message: "invalid " + what + " file", Problems: []string{err.Error()}, Err: err}
}
