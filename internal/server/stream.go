package server

import (
	"errors"
	"io"
	"net/http"
)

// streamWriter relays agent output to the client as a chunked text stream.
// Headers are committed on the first write so a failure before any output
// can still be answered with a JSON error.
type streamWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	return &streamWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *streamWriter) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *streamWriter) Emit(chunk string) error {
	if !s.started {
		s.start()
	}
	if _, err := io.WriteString(s.w, chunk); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// finish commits the headers of a response that produced no output.
func (s *streamWriter) finish() {
	if !s.started {
		s.start()
	}
}
