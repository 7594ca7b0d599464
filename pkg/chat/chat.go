// Package chat drives a conversation between a user, a language model and
// a set of tools until the model answers without calling a tool.
package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/conversation"
	"github.com/nawresmhed/guidezella/pkg/session"
	"github.com/nawresmhed/guidezella/pkg/tools"
)

// DefaultMaxIterations bounds the model calls of one stream.
const DefaultMaxIterations = 25

var (
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("no message provided")
	// ErrIterationLimit is returned when the model keeps calling tools past
	// the configured limit.
	ErrIterationLimit = fmt.Errorf("%w: iteration limit reached", conversation.ErrProtocolViolation)
	// ErrSessionUsed is returned when Stream is called twice on one session.
	ErrSessionUsed = errors.New("session has already been streamed")
)

// GeneratorError wraps a failure of the model backend. It ends the stream.
type GeneratorError struct {
	Err error
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("generator failed: %v", e.Err)
}

func (e *GeneratorError) Unwrap() error {
	return e.Err
}

// Chunk is one piece of streamed output. The last chunk of a successful
// stream has Final set and no text.
type Chunk struct {
	Text  string
	Final bool
}

type Options struct {
	SystemPrompt string
	// Builtins are the tools visible from the first model call.
	Builtins  []tools.Definition
	Generator ai.Generator
	Invoker   tools.Invoker
	Auth      tools.Auth
	Format    tools.Format

	// MaxIterations caps model calls per stream; 0 means unlimited.
	MaxIterations    int
	GeneratorTimeout time.Duration
	ToolTimeout      time.Duration

	Logger        *slog.Logger
	SessionLogDir string
}

// Engine holds what is shared by all sessions. It is read-only after
// NewEngine and safe for concurrent use.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) (*Engine, error) {
	var allerr error
	if opts.Generator == nil {
		allerr = errors.Join(allerr, errors.New("generator is not set"))
	}
	if opts.Invoker == nil {
		allerr = errors.Join(allerr, errors.New("invoker is not set"))
	}
	if opts.MaxIterations < 0 {
		allerr = errors.Join(allerr, fmt.Errorf("max iterations must not be negative, got %d", opts.MaxIterations))
	}
	if allerr != nil {
		return nil, allerr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Format == "" {
		opts.Format = tools.FormatOpenAI
	}
	opts.Builtins = append([]tools.Definition(nil), opts.Builtins...)
	return &Engine{opts: opts}, nil
}

// Builtins returns the tools every session starts with.
func (e *Engine) Builtins() []tools.Definition {
	return append([]tools.Definition(nil), e.opts.Builtins...)
}

// NewSession starts a session with a fresh transcript and tool set.
func (e *Engine) NewSession() (*Session, error) {
	s, err := session.New(e.opts.Logger, e.opts.SessionLogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create a session: %w", err)
	}
	logger, err := s.GetLogger("chat")
	if err != nil {
		s.Close()
		return nil, err
	}
	return &Session{
		engine:  e,
		sess:    s,
		logger:  logger,
		state:   conversation.New(),
		toolset: tools.NewSet(e.opts.Builtins),
		current: StateInitial,
	}, nil
}

// CheckMessage trims the message and rejects it when nothing is left.
func CheckMessage(message string) (string, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return text, nil
}
