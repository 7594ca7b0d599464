package session

import (
	"context"
	"log/slog"
)

type sessionKey struct{}

// With returns a context carrying the session.
func (s *Session) With(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// LoggerFromContext returns the named logger of the session in ctx, or the
// default logger when ctx has no session.
func LoggerFromContext(ctx context.Context, name string) (*slog.Logger, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return slog.Default().With("logger", name), nil
	}
	return s.GetLogger(name)
}

// Logger is LoggerFromContext for callers that cannot fail; loggers that
// cannot be opened are replaced by one that discards everything.
func Logger(ctx context.Context, name string) *slog.Logger {
	l, err := LoggerFromContext(ctx, name)
	if err != nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
