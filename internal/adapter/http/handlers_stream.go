package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Strob0t/StreamForge/internal/adapter/sse"
)

const (
	queryLatestEventID = "latest_event_id"
	headerLastEventID  = "Last-Event-ID"
)

var errInvalidCursor = errors.New("invalid event cursor")

// streamCursor resolves the replay cursor. The latest_event_id query
// parameter takes precedence over the Last-Event-ID header; absent both the
// stream replays from the beginning.
func streamCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get(queryLatestEventID)
	if raw == "" {
		raw = r.Header.Get(headerLastEventID)
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errInvalidCursor
	}
	return n, nil
}

// StreamExecution handles GET /stream/{executionId}
func (h *Handlers) StreamExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "executionId")
	cursor, err := streamCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "latest_event_id / Last-Event-ID must be a non-negative integer")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	worker, release, err := h.Executions.Streams().OpenStream(id, cursor)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	defer release()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache, no-transform")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	// The opening comment commits the headers before the first event.
	out := sse.NewWriter(w, flusher)
	if err := out.WriteComment("execution " + id + " after " + strconv.FormatInt(cursor, 10)); err != nil {
		return
	}

	if err := worker.Run(r.Context(), out); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("stream client detached", "execution_id", id, "cursor", worker.Cursor(), "error", err)
	}
}
