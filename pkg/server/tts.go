package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/nawresmhed/guidezella/pkg/speech"
)

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeJSONError(w, http.StatusBadRequest, "No text provided")
		return
	}
	if s.speaker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Speech is not configured")
		return
	}
	audio, err := s.speaker.Speak(r.Context(), text)
	if errors.Is(err, speech.ErrEmptyText) {
		writeJSONError(w, http.StatusBadRequest, "No text provided")
		return
	}
	if err != nil {
		s.logger.Error("speech failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "Speech synthesis failed")
		return
	}
	defer audio.Close()

	w.Header().Set("Content-Type", speech.ContentType)
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if f != nil {
				f.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			s.logger.Warn("speech stream interrupted", "error", err)
			return
		}
	}
}
