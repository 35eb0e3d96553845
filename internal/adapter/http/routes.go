package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/stratos/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. A nil
// submit limiter leaves task submission unthrottled.
func MountRoutes(r chi.Router, h *Handlers, submit *middleware.RateLimiter) {
	r.Get("/health", h.GetHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Owner)

		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Group(func(r chi.Router) {
			if submit != nil {
				r.Use(submit.Handler)
			}
			r.Post("/tasks", h.CreateTask)
		})
		r.Get("/tasks", handlePage(h.Tasks.List, "task"))
		r.Get("/tasks/{id}", h.GetTask)
		r.Delete("/tasks/{id}", handleDelete(h.Tasks.Delete, "task"))
		r.Get("/tasks/{id}/status", h.GetTaskStatus)
		r.Get("/tasks/{id}/progress", h.StreamProgress)
		r.Get("/tasks/{id}/preview", h.GetPreview)
		r.Get("/tasks/{id}/files/{name}", h.DownloadTaskFile)

		// Queue
		r.Get("/queue/stats", h.QueueStats)

		// Commands
		r.Get("/commands", h.ListCommands)
		r.Get("/commands/ai", h.ListAICommands)
		r.Get("/commands/{name}", h.GetCommand)

		// Uploaded files
		r.Post("/files", h.UploadFile)
		r.Get("/files", handlePage(h.Files.List, "file"))
		r.Get("/files/{id}", handleGet(h.Files.Get, "file"))
		r.Delete("/files/{id}", handleDelete(h.Files.Delete, "file"))
		r.Get("/files/{id}/content", h.DownloadFile)
		r.Patch("/files/{id}/expiry", h.ExtendFileExpiry)
	})
}
