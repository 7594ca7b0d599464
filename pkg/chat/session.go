package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/conversation"
	"github.com/nawresmhed/guidezella/pkg/session"
	"github.com/nawresmhed/guidezella/pkg/tools"
)

// Session is one conversation. Its transcript and tool set belong to it
// alone; Stream may be called only once.
type Session struct {
	engine  *Engine
	sess    *session.Session
	logger  *slog.Logger
	state   *conversation.State
	toolset *tools.Set

	mu      sync.Mutex
	current State
	started bool
}

func (s *Session) ID() string {
	return s.sess.ID()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.current
	s.current = st
	s.mu.Unlock()
	s.logger.Debug("state changed", "from", prev.String(), "to", st.String())
}

// Transcript returns a copy of the turns recorded so far.
func (s *Session) Transcript() []conversation.Turn {
	return s.state.Snapshot()
}

// Tools returns the tools currently offered to the model.
func (s *Session) Tools() []tools.Definition {
	return s.toolset.Snapshot()
}

func (s *Session) Close() error {
	return s.sess.Close()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Stream appends the message to the transcript and runs the model until it
// replies without a tool call. Nothing happens until the sequence is
// iterated. A successful stream ends with a Final chunk; a failed one ends
// with a non-nil error.
func (s *Session) Stream(ctx context.Context, message string) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		s.mu.Lock()
		if s.started {
			s.mu.Unlock()
			yield(Chunk{}, ErrSessionUsed)
			return
		}
		s.started = true
		s.mu.Unlock()

		if err := s.run(s.sess.With(ctx), message, yield); err != nil {
			s.setState(StateFailed)
			s.logger.Error("stream failed", "error", err)
			yield(Chunk{}, err)
		}
	}
}

// errStopped tells run that the consumer stopped pulling.
var errStopped = errors.New("consumer stopped")

func (s *Session) run(ctx context.Context, message string, yield func(Chunk, error) bool) error {
	opts := s.engine.opts
	text, err := CheckMessage(message)
	if err != nil {
		return err
	}
	if err := s.state.Append(conversation.UserTurn(text)); err != nil {
		return err
	}
	s.logger.Info("user message", "message", text)

	emit := func(c Chunk) error {
		if !yield(c, nil) {
			s.setState(StateFailed)
			s.logger.Info("consumer stopped reading")
			return errStopped
		}
		return nil
	}

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.MaxIterations > 0 && iteration >= opts.MaxIterations {
			return fmt.Errorf("%w after %d model calls", ErrIterationLimit, iteration)
		}

		s.setState(StateAwaitingModel)
		s.logger.Info("waiting for model", "iteration", iteration, "tools", s.toolset.Len())
		turn, err := s.generate(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &GeneratorError{Err: err}
		}

		// The turn is recorded before any of its text is emitted, so that a
		// rejected turn never reaches the consumer. An empty reply carries
		// nothing to record.
		if turn.Text != "" || turn.Call != nil {
			if err := s.state.Append(turn); err != nil {
				return &GeneratorError{Err: err}
			}
		}
		s.setState(StateEmittingContent)
		if turn.Text != "" {
			s.logger.Info("model message", "text", turn.Text)
			if err := emit(Chunk{Text: turn.Text}); err != nil {
				return nilIfStopped(err)
			}
		}

		if turn.Call == nil {
			s.setState(StateDone)
			s.logger.Info("task completed", "turns", s.state.Len())
			return nilIfStopped(emit(Chunk{Final: true}))
		}

		s.setState(StateDispatchingTool)
		result := s.dispatch(ctx, *turn.Call)
		if err := s.state.Append(result); err != nil {
			return err
		}
	}
}

func nilIfStopped(err error) error {
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

func (s *Session) generate(ctx context.Context) (conversation.Turn, error) {
	opts := s.engine.opts
	gctx, cancel := withTimeout(ctx, opts.GeneratorTimeout)
	defer cancel()
	return opts.Generator.Generate(gctx, ai.Request{
		SystemPrompt: opts.SystemPrompt,
		Transcript:   s.state.Snapshot(),
		Tools:        s.toolset.Snapshot(),
	})
}

// dispatch runs one tool call and returns the turn holding its outcome.
// Failures become error results so that the model can see them.
func (s *Session) dispatch(ctx context.Context, call conversation.ToolCall) conversation.Turn {
	opts := s.engine.opts
	s.logger.Info("function call", "id", call.ID, "name", call.Name, "args", call.Args)

	var result any
	var err error
	if !s.toolset.Has(call.Name) {
		err = &tools.ToolError{Name: call.Name, Err: tools.ErrUnknownTool}
	} else {
		tctx, cancel := withTimeout(ctx, opts.ToolTimeout)
		result, err = opts.Invoker.Invoke(tctx, tools.Request{
			Name:   call.Name,
			Args:   call.Args,
			Auth:   opts.Auth,
			Format: opts.Format,
		})
		cancel()
	}

	if err == nil && call.Name == tools.SearchFunctionName {
		s.mergeDiscovered(result)
	}
	content, isError := tools.EncodeResult(result, err)
	if isError {
		s.logger.Warn("function result", "id", call.ID, "name", call.Name, "error", err)
	} else {
		s.logger.Info("function result", "id", call.ID, "name", call.Name, "bytes", len(content))
	}
	return conversation.ToolTurn(call.ID, content, isError)
}

func (s *Session) mergeDiscovered(result any) {
	defs, err := tools.ParseDefinitions(result)
	if err != nil {
		s.logger.Warn("failed to read discovered functions", "error", err)
	}
	added := s.toolset.Merge(defs...)
	s.logger.Info("functions discovered", "found", len(defs), "added", added, "total", s.toolset.Len())
}
