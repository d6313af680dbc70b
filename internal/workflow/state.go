package workflow

import "fmt"

// State is the orchestrator's finite-state machine. Exactly one
// workflow may be in flight per service instance: Submit is rejected
// unless the state is Idle, Succeeded or Failed.
type State int

const (
	Idle State = iota
	Triggering
	AwaitingFile
	Mutating
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Triggering:
		return "TRIGGERING"
	case AwaitingFile:
		return "AWAITING_FILE"
	case Mutating:
		return "MUTATING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

// terminal reports whether a new workflow may be submitted from this
// state.
func (s State) terminal() bool {
	return s == Idle || s == Succeeded || s == Failed
}
