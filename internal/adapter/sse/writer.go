// Package sse encodes execution events as Server-Sent Events frames.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Strob0t/StreamForge/internal/domain/event"
)

// Writer writes one frame per call and flushes it to the client.
type Writer struct {
	bw      *bufio.Writer
	flusher http.Flusher
}

// NewWriter wraps w. flusher may be nil when w is not an HTTP response.
func NewWriter(w io.Writer, flusher http.Flusher) *Writer {
	return &Writer{bw: bufio.NewWriter(w), flusher: flusher}
}

// WriteEvent writes `id: <seq>\nevent: <kind>\ndata: <json>\n\n`.
func (w *Writer) WriteEvent(ev event.Event) error {
	data, err := ev.Data()
	if err != nil {
		return err
	}
	w.field("id", strconv.FormatInt(ev.Sequence, 10))
	w.field("event", string(ev.Kind()))
	w.field("data", string(data))
	return w.end()
}

// WritePing writes a heartbeat frame. Pings carry no id so they never move
// a client's Last-Event-ID.
func (w *Writer) WritePing(p event.Ping) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal ping: %w", err)
	}
	w.field("event", string(event.KindPing))
	w.field("data", string(data))
	return w.end()
}

// WriteComment writes an SSE comment line, ignored by clients.
func (w *Writer) WriteComment(text string) error {
	_, _ = w.bw.WriteString(": " + text + "\n")
	return w.end()
}

func (w *Writer) field(name, value string) {
	_, _ = w.bw.WriteString(name)
	_, _ = w.bw.WriteString(": ")
	_, _ = w.bw.WriteString(value)
	_ = w.bw.WriteByte('\n')
}

// end terminates the frame with a blank line and flushes it.
func (w *Writer) end() error {
	_ = w.bw.WriteByte('\n')
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
