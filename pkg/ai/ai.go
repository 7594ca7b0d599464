// Package ai defines the contract between the chat loop and language model
// backends.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/nawresmhed/guidezella/pkg/conversation"
	"github.com/nawresmhed/guidezella/pkg/tools"
)

// ErrNoCandidates is returned when a backend answers without any message.
var ErrNoCandidates = errors.New("model returned no candidates")

// Request is everything a backend needs for one completion.
type Request struct {
	SystemPrompt string
	Transcript   []conversation.Turn
	Tools        []tools.Definition
}

// Generator produces the next assistant turn. The returned turn carries at
// most one tool call.
type Generator interface {
	Generate(ctx context.Context, req Request) (conversation.Turn, error)
}

// Config describes a configured backend.
type Config interface {
	Name() string
	NewGenerator(ctx context.Context) (Generator, error)
}

// CallPolicy decides what to do when a backend returns several tool calls
// for a single turn.
type CallPolicy string

const (
	PolicyReject CallPolicy = "reject"
	PolicyFirst  CallPolicy = "first"
)

func (p CallPolicy) Valid() bool {
	return p == "" || p == PolicyReject || p == PolicyFirst
}

// SingleCall reduces the calls of one model response to at most one.
func SingleCall(calls []conversation.ToolCall, policy CallPolicy) (*conversation.ToolCall, error) {
	switch {
	case len(calls) == 0:
		return nil, nil
	case len(calls) == 1 || policy == PolicyFirst:
		c := calls[0]
		return &c, nil
	}
	return nil, fmt.Errorf("%w: model requested %d tool calls in one turn", conversation.ErrProtocolViolation, len(calls))
}
