package phase

import "fmt"

// TaskState is one agent task's position in the Phase Executor's
// lifecycle, independent of the DisruptionPayload's own Phase label
// (initial/revision). It is a standalone model of that lifecycle (the
// Executor does not track or log TaskState values), generalized from
// the teacher's terminal/non-terminal phase state machine
// (Pending/Processing/.../Completed/Failed/TimedOut) down to the three
// terminal outcomes an agent task can reach.
type TaskState string

const (
	Pending   TaskState = "pending"
	Running   TaskState = "running"
	Completed TaskState = "completed"
	TimedOut  TaskState = "timed_out"
	Failed    TaskState = "failed"
)

var validStates = map[TaskState]bool{
	Pending:   true,
	Running:   true,
	Completed: true,
	TimedOut:  true,
	Failed:    true,
}

// IsTerminal reports whether s is one from which no further transition
// is possible.
func IsTerminal(s TaskState) bool {
	switch s {
	case Completed, TimedOut, Failed:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[TaskState]map[TaskState]bool{
	Pending: {Running: true},
	Running: {Completed: true, TimedOut: true, Failed: true},
}

// CanTransition reports whether the task lifecycle allows moving from
// from to to. Terminal states permit no outgoing transition.
func CanTransition(from, to TaskState) bool {
	return allowedTransitions[from][to]
}

// Validate reports an error if s is not one of the declared states.
func Validate(s TaskState) error {
	if !validStates[s] {
		return fmt.Errorf("invalid phase task state: %q", s)
	}
	return nil
}
