package chat

// State is the position of a session in its loop.
type State int

const (
	StateInitial State = iota
	StateAwaitingModel
	StateEmittingContent
	StateDispatchingTool
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateEmittingContent:
		return "emitting_content"
	case StateDispatchingTool:
		return "dispatching_tool"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
