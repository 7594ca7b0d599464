package sse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event names written by Writer in event mode.
const (
	EventMessage = "message"
	EventError   = "error"
	EventDone    = "done"
)

// ErrorMarker prefixes error text in raw mode.
const ErrorMarker = "[error] "

// Writer frames chat chunks onto an HTTP response and flushes after every
// write.
//
// In raw mode each chunk is written as "<text>\n\n" and the end of the
// stream writes nothing. In event mode every chunk is a proper SSE event.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	events  bool
}

// NewWriter wraps w. The flusher is picked up when w implements
// http.Flusher.
func NewWriter(w io.Writer, events bool) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f, events: events}
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

// WriteEvent writes one SSE event. Multi-line data is split over several
// data fields.
func (w *Writer) WriteEvent(ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Event)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return err
	}
	w.flush()
	return nil
}

// Chunk writes a piece of model output.
func (w *Writer) Chunk(text string) error {
	if w.events {
		return w.WriteEvent(Event{Event: EventMessage, Data: text})
	}
	if _, err := io.WriteString(w.w, text+"\n\n"); err != nil {
		return err
	}
	w.flush()
	return nil
}

// Error writes a visible error marker.
func (w *Writer) Error(err error) error {
	if w.events {
		return w.WriteEvent(Event{Event: EventError, Data: err.Error()})
	}
	return w.Chunk(ErrorMarker + err.Error())
}

// Done marks the end of a successful stream.
func (w *Writer) Done() error {
	if w.events {
		return w.WriteEvent(Event{Event: EventDone})
	}
	w.flush()
	return nil
}
