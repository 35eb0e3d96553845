package http

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/middleware"
)

type submitRequest struct {
	Command string `json:"command"`
}

// outputLink is an output file with the URL it downloads from.
type outputLink struct {
	task.OutputFile
	DownloadURL string `json:"download_url"`
}

type taskDetail struct {
	*task.Task
	Files []outputLink `json:"files,omitempty"`
}

// CreateTask handles POST /api/v1/tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	t, err := h.Tasks.Enqueue(r.Context(), req.Command, middleware.OwnerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask handles GET /api/v1/tasks/{id}. Completed tasks include their
// output files with download links.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "task")
	if !ok {
		return
	}
	t, err := h.Tasks.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	detail := taskDetail{Task: t}
	if t.Status == task.StatusCompleted {
		files, err := h.Tasks.Files(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, "task not found")
			return
		}
		detail.Files = make([]outputLink, 0, len(files))
		for _, f := range files {
			detail.Files = append(detail.Files, outputLink{
				OutputFile:  f,
				DownloadURL: fmt.Sprintf("/api/v1/tasks/%s/files/%s", id, url.PathEscape(f.Name)),
			})
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetTaskStatus handles GET /api/v1/tasks/{id}/status.
func (h *Handlers) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "task")
	if !ok {
		return
	}
	st, err := h.Tasks.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DownloadTaskFile handles GET /api/v1/tasks/{id}/files/{name}.
func (h *Handlers) DownloadTaskFile(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "task")
	if !ok {
		return
	}
	path, err := h.Tasks.OutputPath(r.Context(), id, urlParam(r, "name"))
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	serveFile(w, r, path)
}

// GetPreview handles GET /api/v1/tasks/{id}/preview. With download=1 the
// preview itself is served.
func (h *Handlers) GetPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "task")
	if !ok {
		return
	}
	info, err := h.Previews.Info(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if dl := r.URL.Query().Get("download"); dl != "1" && dl != "true" {
		writeJSON(w, http.StatusOK, info)
		return
	}
	if !info.Available {
		writeError(w, http.StatusNotFound, "preview not available")
		return
	}
	serveFile(w, r, info.Path)
}

// serveFile streams a file as an attachment. It supports range requests.
func serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path) //nolint:gosec // path comes from the task store, not the request
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	name := filepath.Base(path)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
