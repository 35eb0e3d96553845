package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/stratos/internal/service"
)

const maxRequestBodySize = 64 << 10 // 64 KB, JSON bodies only

// Handlers holds the services behind the HTTP API.
type Handlers struct {
	Tasks    *service.TaskService
	Files    *service.FileService
	Streams  *service.StreamService
	Previews *service.PreviewService

	// Health checks are run by GET /health, keyed by component name.
	Health map[string]func(ctx context.Context) error
}

type healthResponse struct {
	Status     string             `json:"status"`
	Components map[string]string  `json:"components,omitempty"`
	Queue      service.QueueStats `json:"queue"`
}

// GetHealth reports "ok" when every registered check passes and "degraded"
// with 503 otherwise.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Components: make(map[string]string, len(h.Health)), Queue: h.Tasks.Stats()}
	code := http.StatusOK
	for name, check := range h.Health {
		if err := check(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}
	writeJSON(w, code, resp)
}

// QueueStats returns the queue's current occupancy.
func (h *Handlers) QueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Tasks.Stats())
}
