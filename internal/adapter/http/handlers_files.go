package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Strob0t/stratos/internal/middleware"
)

const uploadField = "file"

type extendRequest struct {
	Hours int `json:"hours"`
}

// UploadFile handles POST /api/v1/files. The body is multipart/form-data
// with the content in the "file" field; it is streamed to storage without
// buffering.
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart/form-data body required")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		f, err := h.Files.Upload(r.Context(), middleware.OwnerFromContext(r.Context()), part.FileName(), part)
		_ = part.Close()
		if err != nil {
			writeDomainError(w, err, "upload failed")
			return
		}
		writeJSON(w, http.StatusCreated, f)
		return
	}
}

// DownloadFile handles GET /api/v1/files/{id}/content.
func (h *Handlers) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "file")
	if !ok {
		return
	}
	f, rc, err := h.Files.Open(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	if _, err := io.Copy(w, rc); err != nil {
		slog.WarnContext(r.Context(), "file download interrupted", "file_id", id, "error", err)
	}
}

// ExtendFileExpiry handles PATCH /api/v1/files/{id}/expiry.
func (h *Handlers) ExtendFileExpiry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "file")
	if !ok {
		return
	}
	req, ok := readJSON[extendRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	f, err := h.Files.ExtendExpiry(r.Context(), id, req.Hours)
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}
