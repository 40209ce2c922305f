package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/pipeline"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/taxonomy"
)

// DefaultMaxUploadMB bounds a multipart upload when the configuration leaves it unset.
const DefaultMaxUploadMB = 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	svc       *pipeline.Service
	validate  *validator.Validate
	maxUpload int64
}

// New creates a new Handler.
func New(s *store.Store, svc *pipeline.Service, cfg model.Config) *Handler {
	mb := cfg.MaxUploadMB
	if mb <= 0 {
		mb = DefaultMaxUploadMB
	}
	return &Handler{store: s, svc: svc, validate: validator.New(), maxUpload: mb << 20}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/taxonomy", h.handleTaxonomy)
		r.Post("/roster", h.handleUploadRoster)
		r.Get("/exams", h.handleListExams)
		r.Get("/exams/{examID}/sessions", h.handleListSessions)
		r.Route("/exams/{examID}/sessions/{session}", func(r chi.Router) {
			r.Get("/", h.handleSessionOverview)
			r.Get("/export", h.handleExport)
			r.Post("/analyze", h.handleAnalyze)
			r.Post("/import", h.handleImport)
			r.Post("/stats", h.handleStats)
		})
		r.Get("/tags/normalizations", h.handleListNormalizations)
		r.Get("/tags/hierarchy", h.handleListHierarchy)
	})
}

func (h *Handler) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, taxonomy.Catalog())
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid exam ID", nil)
		return
	}
	sessions, err := h.store.ListSessions(r.Context(), examID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleSessionOverview(w http.ResponseWriter, r *http.Request) {
	examID, session, ok := sessionParams(w, r)
	if !ok {
		return
	}
	ov, err := h.store.GetSessionOverview(r.Context(), examID, session)
	if err != nil {
		writeError(w, err)
		return
	}
	if ov == nil {
		writeError(w, &pipeline.NotFoundError{Resource: "session", ID: fmt.Sprintf("%d/%d", examID, session)})
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	examID, session, ok := sessionParams(w, r)
	if !ok {
		return
	}
	export, err := h.store.ExportSession(r.Context(), examID, session)
	if err != nil {
		writeError(w, err)
		return
	}
	if export == nil {
		writeError(w, &pipeline.NotFoundError{Resource: "session", ID: fmt.Sprintf("%d/%d", examID, session)})
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleListNormalizations(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	norms, err := h.store.ListNormalizations(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if norms == nil {
		norms = []model.TagNormalization{}
	}
	writeJSON(w, http.StatusOK, norms)
}

func (h *Handler) handleListHierarchy(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store.ListTags(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if tags == nil {
		tags = []model.TagHierarchy{}
	}
	writeJSON(w, http.StatusOK, tags)
}

// sessionParams parses {examID} and {session}, writing a 400 when either is malformed.
func sessionParams(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid exam ID", nil)
		return 0, 0, false
	}
	session, err := strconv.Atoi(chi.URLParam(r, "session"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid session number", nil)
		return 0, 0, false
	}
	return examID, session, true
}
