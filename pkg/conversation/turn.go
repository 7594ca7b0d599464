// package conversation holds the append-only transcript of a chat session.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a request from the model to run a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the answer to a ToolCall, serialized for transport.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Turn is one entry of the transcript. Exactly the fields relevant to
// Role are set: Text for user turns, Text and/or Call for assistant turns,
// Result for tool turns.
type Turn struct {
	Role   Role        `json:"role"`
	Text   string      `json:"text,omitempty"`
	Call   *ToolCall   `json:"call,omitempty"`
	Result *ToolResult `json:"result,omitempty"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// AssistantTurn builds an assistant turn; call may be nil.
func AssistantTurn(text string, call *ToolCall) Turn {
	return Turn{Role: RoleAssistant, Text: text, Call: call}
}

func ToolTurn(callID, content string, isError bool) Turn {
	return Turn{
		Role: RoleTool,
		Result: &ToolResult{
			CallID:  callID,
			Content: content,
			IsError: isError,
		},
	}
}

// HasCall reports whether the turn carries a pending tool call.
func (t Turn) HasCall() bool {
	return t.Call != nil
}

// ArgsJSON returns the call arguments encoded as a JSON object.
func (c *ToolCall) ArgsJSON() (string, error) {
	if c == nil || len(c.Args) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(c.Args)
	if err != nil {
		return "", fmt.Errorf("failed to encode arguments of %s: %w", c.Name, err)
	}
	return string(encoded), nil
}

// ParseArgs decodes a JSON argument payload as produced by the model.
// An empty payload is an empty argument map.
func ParseArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Join(ErrMalformedTurn, fmt.Errorf("arguments are not a JSON object: %w", err))
	}
	return args, nil
}
