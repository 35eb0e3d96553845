package http

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/stratos/internal/middleware"
)

// captureLog routes the default logger into a buffer for the test's lifetime.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLoggerRecordsRequest(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantLevel string
	}{
		{"created", http.StatusCreated, `{"id":"t-1"}`, "INFO"},
		{"not found", http.StatusNotFound, `{"error":"task not found"}`, "INFO"},
		{"server error", http.StatusInternalServerError, "", "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			h := Logger(middleware.Owner(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
			req.Header.Set("X-Owner-ID", "carol")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("decode log %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", line["level"], tt.wantLevel)
			}
			if line["owner"] != "carol" || line["path"] != "/api/v1/tasks" {
				t.Errorf("log fields = %v", line)
			}
			if got := line["status"].(float64); int(got) != tt.status {
				t.Errorf("logged status = %v", got)
			}
			if got := line["bytes"].(float64); int(got) != len(tt.body) {
				t.Errorf("logged bytes = %v, want %d", got, len(tt.body))
			}
		})
	}
}

type upgradeRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (u *upgradeRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	u.hijacked = true
	return nil, nil, nil
}

func TestResponseWriterCapabilities(t *testing.T) {
	t.Run("hijack delegates for websocket upgrades", func(t *testing.T) {
		inner := &upgradeRecorder{ResponseRecorder: httptest.NewRecorder()}
		rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
		if _, _, err := rw.Hijack(); err != nil {
			t.Fatalf("Hijack: %v", err)
		}
		if !inner.hijacked {
			t.Error("inner writer was not hijacked")
		}
	})

	t.Run("hijack fails without support", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		if _, _, err := rw.Hijack(); err == nil {
			t.Error("expected an error from a non-hijackable writer")
		}
	})

	t.Run("flush reaches the recorder for event streams", func(t *testing.T) {
		inner := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
		_, _ = rw.Write([]byte("event: heartbeat\ndata: 1\n\n"))
		if err := http.NewResponseController(rw).Flush(); err != nil {
			t.Fatalf("Flush through controller: %v", err)
		}
		if !inner.Flushed {
			t.Error("recorder not flushed")
		}
		if rw.written != int64(len("event: heartbeat\ndata: 1\n\n")) {
			t.Errorf("written = %d", rw.written)
		}
	})
}
