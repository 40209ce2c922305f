package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/gradebook/internal/pipeline"
)

type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorBody struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successBody{Success: true, Data: data}); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeProblem(w http.ResponseWriter, status int, msg string, details []string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := errorBody{Error: http.StatusText(status), Message: msg, Details: details}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// statusFor maps pipeline error kinds to HTTP statuses.
func statusFor(err error) int {
	var ve *pipeline.ValidationError
	var nf *pipeline.NotFoundError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &nf), errors.Is(err, pipeline.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, pipeline.ErrTokenMismatch):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var details []string
	var ve *pipeline.ValidationError
	if errors.As(err, &ve) {
		details = ve.Problems
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeProblem(w, status, err.Error(), details)
}

// validationProblems flattens validator errors for an error body.
func validationProblems(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+" fails "+fe.Tag())
	}
	return out
}
