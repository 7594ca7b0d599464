package conversation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedTurn is returned for turns whose shape does not match their role.
	ErrMalformedTurn = errors.New("malformed turn")
	// ErrProtocolViolation is returned for turns that break the call/result pairing.
	ErrProtocolViolation = errors.New("protocol violation")
)

// State is the ordered transcript of one session. It only grows.
// A State is owned by a single session and is not safe for concurrent use.
type State struct {
	turns []Turn

	// open is the id of the assistant tool call awaiting its result.
	open string
	// calls holds every call id issued so far.
	calls map[string]struct{}
}

func New() *State {
	return &State{calls: map[string]struct{}{}}
}

func (s *State) validate(t Turn) error {
	switch t.Role {
	case RoleUser:
		if strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("%w: user turn without text", ErrMalformedTurn)
		}
		if t.Call != nil || t.Result != nil {
			return fmt.Errorf("%w: user turn with tool data", ErrMalformedTurn)
		}
	case RoleAssistant:
		if t.Result != nil {
			return fmt.Errorf("%w: assistant turn with a tool result", ErrMalformedTurn)
		}
		if t.Text == "" && t.Call == nil {
			return fmt.Errorf("%w: empty assistant turn", ErrMalformedTurn)
		}
		if c := t.Call; c != nil {
			if c.ID == "" || c.Name == "" {
				return fmt.Errorf("%w: tool call needs an id and a name", ErrMalformedTurn)
			}
			if _, ok := s.calls[c.ID]; ok {
				return fmt.Errorf("%w: duplicated call id %s", ErrProtocolViolation, c.ID)
			}
		}
	case RoleTool:
		r := t.Result
		if r == nil || t.Call != nil || t.Text != "" {
			return fmt.Errorf("%w: tool turn must only carry a result", ErrMalformedTurn)
		}
		if r.CallID == "" {
			return fmt.Errorf("%w: tool result without call id", ErrMalformedTurn)
		}
		if r.CallID != s.open {
			return fmt.Errorf("%w: result for unknown or answered call %s", ErrProtocolViolation, r.CallID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", ErrMalformedTurn, t.Role)
	}
	if s.open != "" {
		return fmt.Errorf("%w: call %s is still unanswered", ErrProtocolViolation, s.open)
	}
	return nil
}

// Append adds the turn to the end of the transcript after checking it
// against the pairing rules. The state is left untouched on error.
func (s *State) Append(t Turn) error {
	if err := s.validate(t); err != nil {
		return err
	}
	switch t.Role {
	case RoleAssistant:
		if t.Call != nil {
			call := *t.Call
			t.Call = &call
			s.calls[call.ID] = struct{}{}
			s.open = call.ID
		}
	case RoleTool:
		result := *t.Result
		t.Result = &result
		s.open = ""
	}
	s.turns = append(s.turns, t)
	return nil
}

// Snapshot returns a copy of the transcript in conversation order.
func (s *State) Snapshot() []Turn {
	result := make([]Turn, len(s.turns))
	copy(result, s.turns)
	return result
}

func (s *State) Len() int {
	return len(s.turns)
}

// Open returns the id of the tool call that is waiting for its result.
func (s *State) Open() (string, bool) {
	return s.open, s.open != ""
}
