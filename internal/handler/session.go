package handler

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/pavelanni/gradebook/internal/pipeline"
)

// importBody is the JSON body of an import request.
type importBody struct {
	Token              string              `json:"token" validate:"required"`
	Classifications    []pipeline.Override `json:"classifications" validate:"dive"`
	SaveNormalizations bool                `json:"save_normalizations"`
}

// parseUpload limits the request body and parses the multipart form.
func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit", nil)
			return false
		}
		writeProblem(w, http.StatusBadRequest, "invalid multipart form: "+err.Error(), nil)
		return false
	}
	return true
}

// formFile opens one uploaded file. The caller closes it.
func formFile(r *http.Request, field string) (multipart.File, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", &pipeline.ValidationError{Message: "missing file", Problems: []string{field + " file is required"}}
	}
	return file, header.Filename, nil
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	examID, session, ok := sessionParams(w, r)
	if !ok {
		return
	}
	if !h.parseUpload(w, r) {
		return
	}

	bp, bpName, err := formFile(r, "blueprint")
	if err != nil {
		writeError(w, err)
		return
	}
	defer bp.Close()
	resp, respName, err := formFile(r, "responses")
	if err != nil {
		writeError(w, err)
		return
	}
	defer resp.Close()

	preview, err := h.svc.Analyze(r.Context(), pipeline.AnalyzeRequest{
		ExamID:        examID,
		SessionNumber: session,
		Blueprint:     pipeline.FileInput{Name: bpName, Reader: bp},
		Responses:     pipeline.FileInput{Name: respName, Reader: resp},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	examID, session, ok := sessionParams(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	var body importBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), nil)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "invalid import request", validationProblems(err))
		return
	}

	res, err := h.svc.Import(r.Context(), pipeline.ImportRequest{
		ExamID:             examID,
		SessionNumber:      session,
		Token:              body.Token,
		Overrides:          body.Classifications,
		SaveNormalizations: body.SaveNormalizations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	examID, session, ok := sessionParams(w, r)
	if !ok {
		return
	}
	if !h.parseUpload(w, r) {
		return
	}

	file, name, err := formFile(r, "file")
	if err != nil {
		writeError(w, err)
		return
	}
	defer file.Close()

	res, err := h.svc.ImportStats(r.Context(), pipeline.StatsRequest{
		ExamID:        examID,
		SessionNumber: session,
		File:          pipeline.FileInput{Name: name, Reader: file},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
