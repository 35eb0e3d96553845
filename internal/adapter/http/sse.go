package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/stratos/internal/service"
)

// StreamProgress handles GET /api/v1/tasks/{id}/progress as a server-sent
// event stream of heartbeat and progress events. The stream ends after the
// final progress event of a finished task or when the client goes away.
func (h *Handlers) StreamProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "task")
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{}) // not supported by every writer

	started := false
	sink := func(sig service.Signal) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sig.Event, sig.Data); err != nil {
			return err
		}
		return rc.Flush()
	}

	sess, err := h.Streams.Open(r.Context(), id, sink)
	if err != nil {
		if !started {
			writeDomainError(w, err, "task not found")
		}
		return
	}
	<-sess.Done()
}
