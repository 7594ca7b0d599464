package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nawresmhed/guidezella/pkg/chat"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	frameChunk = "chunk"
	frameError = "error"
	frameDone  = "done"
)

type wsFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeFrame(conn *websocket.Conn, f wsFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// handleWebSocket runs one session per inbound {"message":...} frame, one
// at a time. Closing the connection cancels the running session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	// The request context outlives a hijacked connection; the read loop
	// owns cancellation instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages := make(chan []byte)
	go func() {
		defer cancel()
		defer close(messages)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket closed", "error", err)
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			select {
			case messages <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var data []byte
		select {
		case <-ctx.Done():
			return
		case d, ok := <-messages:
			if !ok {
				return
			}
			data = d
		}
		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := writeFrame(conn, wsFrame{Type: frameError, Error: "Invalid JSON body"}); err != nil {
				return
			}
			continue
		}
		if err := s.streamFrames(ctx, conn, req.Message); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("websocket write failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// streamFrames returns only errors of the connection itself.
func (s *Server) streamFrames(ctx context.Context, conn *websocket.Conn, message string) error {
	message, err := chat.CheckMessage(message)
	if err != nil {
		return writeFrame(conn, wsFrame{Type: frameError, Error: "No message provided"})
	}
	sess, err := s.engine.NewSession()
	if err != nil {
		s.logger.Error("failed to start a session", "error", err)
		return writeFrame(conn, wsFrame{Type: frameError, Error: "Failed to start a session"})
	}
	defer sess.Close()

	for c, err := range sess.Stream(ctx, message) {
		if err != nil {
			s.logger.Error("chat failed", "session_id", sess.ID(), "error", err)
			return writeFrame(conn, wsFrame{Type: frameError, Error: err.Error()})
		}
		if c.Final {
			return writeFrame(conn, wsFrame{Type: frameDone})
		}
		if err := writeFrame(conn, wsFrame{Type: frameChunk, Text: c.Text}); err != nil {
			return err
		}
	}
	return nil
}
