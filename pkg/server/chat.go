package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nawresmhed/guidezella/pkg/chat"
	"github.com/nawresmhed/guidezella/pkg/sse"
)

const maxRequestBytes = 1 << 20

type chatRequest struct {
	Message string `json:"message"`
}

// wantsEvents picks SSE event framing over the raw "<text>\n\n" framing.
func wantsEvents(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "sse"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}
	message, err := chat.CheckMessage(req.Message)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "No message provided")
		return
	}

	sess, err := s.engine.NewSession()
	if err != nil {
		s.logger.Error("failed to start a session", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to start a session")
		return
	}
	defer sess.Close()
	logger := s.logger.With("session_id", sess.ID())
	logger.Info("chat request", "remote", r.RemoteAddr)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	out := sse.NewWriter(w, wantsEvents(r))

	for c, err := range sess.Stream(r.Context(), message) {
		if err != nil {
			if errors.Is(err, r.Context().Err()) {
				logger.Info("client went away", "error", err)
				return
			}
			logger.Error("chat failed", "error", err, "state", sess.State().String())
			if werr := out.Error(err); werr != nil {
				logger.Warn("failed to write the error", "error", werr)
			}
			return
		}
		if c.Final {
			if err := out.Done(); err != nil {
				logger.Warn("failed to finish the stream", "error", err)
			}
			return
		}
		if err := out.Chunk(c.Text); err != nil {
			logger.Warn("failed to write a chunk", "error", err)
			return
		}
	}
}
