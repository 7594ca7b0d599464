package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const sessionMetaFile = "session.toml"

type sessionMeta struct {
	SessionID string    `toml:"session_id"`
	Timestamp time.Time `toml:"timestamp"`
}

type logHandler struct {
	f *os.File
	h slog.Handler
}

func newLogHandler(p string, opts *slog.HandlerOptions) (*logHandler, error) {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &logHandler{
		f: f,
		h: slog.NewJSONHandler(f, opts),
	}, nil
}

func (h *logHandler) Close() error {
	return h.f.Close()
}

// Session identifies one chat request from the first user message to the
// end of its response stream. Nothing in it outlives the request except the
// optional log files.
type Session struct {
	meta   sessionMeta
	logger *slog.Logger

	// sessionPath is empty unless per-session log files are enabled.
	sessionPath string

	mu       sync.Mutex
	handlers map[string]*logHandler
}

// New creates a session with a fresh time-ordered id. When logDir is not
// empty, loggers obtained through GetLogger write JSONL files under
// logDir/<session-id>/logs.
func New(base *slog.Logger, logDir string) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	if base == nil {
		base = slog.Default()
	}
	s := &Session{
		meta: sessionMeta{
			SessionID: id.String(),
			Timestamp: time.Now(),
		},
		logger:   base.With("session_id", id.String()),
		handlers: map[string]*logHandler{},
	}
	if logDir != "" {
		s.sessionPath = filepath.Join(logDir, id.String())
		if err := s.init(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) init() error {
	if err := os.MkdirAll(s.sessionPath, 0755); err != nil {
		return err
	}
	encodedMeta, err := toml.Marshal(s.meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.sessionPath, sessionMetaFile), encodedMeta, 0644)
}

func (s *Session) ID() string {
	return s.meta.SessionID
}

func (s *Session) Timestamp() time.Time {
	return s.meta.Timestamp
}

// Logger returns the process logger annotated with the session id.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

func (s *Session) logPath() string {
	return filepath.Join(s.sessionPath, "logs")
}

func (s *Session) newLogHandler(name string) (slog.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[name]
	if ok {
		return h.h, nil
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("malformed log name %s", name)
	}
	var pathName string = name
	if !strings.Contains(name, ".") {
		pathName = name + ".jsonl"
	}
	if err := os.MkdirAll(s.logPath(), 0755); err != nil {
		return nil, err
	}
	h, err := newLogHandler(filepath.Join(s.logPath(), pathName), &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	if err != nil {
		return nil, err
	}
	s.handlers[name] = h
	return h.h, nil
}

// GetLogger returns the logger for a component of this session.
func (s *Session) GetLogger(name string) (*slog.Logger, error) {
	if s.sessionPath == "" {
		return s.logger.With("logger", name), nil
	}
	h, err := s.newLogHandler(name)
	if err != nil {
		return nil, err
	}
	return slog.New(h).With("session_id", s.ID()), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var allerr error
	for name, h := range s.handlers {
		err := h.Close()
		if err != nil {
			allerr = errors.Join(allerr, fmt.Errorf("failed to close %s: %w", name, err))
		}
	}
	s.handlers = map[string]*logHandler{}
	return allerr
}
