package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/stratos/internal/middleware"
)

// ---------------------------------------------------------------------------
// Generic handler factories
// ---------------------------------------------------------------------------

// handlePage creates a handler that lists one page of the caller's
// resources. what names the resource in error messages.
func handlePage[P any](listFn func(ctx context.Context, owner string, limit int, cursor string) (*P, error), what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, cursor := pageParams(r)
		page, err := listFn(r.Context(), middleware.OwnerFromContext(r.Context()), limit, cursor)
		if err != nil {
			writeDomainError(w, err, what+" not found")
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// handleGet creates a handler that retrieves a single resource by URL param "id".
func handleGet[T any](getFn func(ctx context.Context, id string) (*T, error), what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, what)
		if !ok {
			return
		}
		item, err := getFn(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, what+" not found")
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleDelete creates a handler that deletes a resource by URL param "id".
func handleDelete(deleteFn func(ctx context.Context, id string) error, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, what)
		if !ok {
			return
		}
		if err := deleteFn(r.Context(), id); err != nil {
			writeDomainError(w, err, what+" not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
