package handler

import (
	"io"
	"log/slog"
	"net/http"
)

func (h *Handler) handleUploadRoster(w http.ResponseWriter, r *http.Request) {
	if !h.parseUpload(w, r) {
		return
	}

	file, name, err := formFile(r, "roster_file")
	if err != nil {
		writeError(w, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "failed to read file", nil)
		return
	}

	res, err := h.svc.ImportRoster(r.Context(), name, data)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("uploaded roster via API", "filename", name, "unchanged", res.Unchanged)
	writeJSON(w, http.StatusOK, res)
}
