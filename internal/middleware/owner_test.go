package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/stratos/internal/middleware"
)

func ownerOf(t *testing.T, req *http.Request) string {
	t.Helper()
	var got string
	handler := middleware.Owner(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = middleware.OwnerFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestOwnerFromHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/?owner=query-user", http.NoBody)
	req.Header.Set("X-Owner-ID", "alice")
	if got := ownerOf(t, req); got != "alice" {
		t.Fatalf("expected alice, got %s", got)
	}
}

func TestOwnerFromQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/?owner=bob", http.NoBody)
	if got := ownerOf(t, req); got != "bob" {
		t.Fatalf("expected bob, got %s", got)
	}
}

func TestOwnerDefaultFallback(t *testing.T) {
	if got := ownerOf(t, httptest.NewRequest("GET", "/", http.NoBody)); got != middleware.DefaultOwner {
		t.Fatalf("expected default owner, got %s", got)
	}

	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Owner-ID", strings.Repeat("o", 200))
	if got := ownerOf(t, req); got != middleware.DefaultOwner {
		t.Fatalf("oversized owner accepted: %d chars", len(got))
	}
}

func TestOwnerFromContextMissing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", http.NoBody)
	if got := middleware.OwnerFromContext(req.Context()); got != middleware.DefaultOwner {
		t.Fatalf("expected default owner, got %s", got)
	}
}
