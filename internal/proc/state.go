// Package proc holds the process record, its wait channel, and the process
// table that allocates identifiers.
package proc

// State is the lifecycle state of a process record.
//
//	Running --exit--> Exited --waitpid / orphan reclaim--> Reaped
type State int

const (
	// StateRunning is the state from fork until exit.
	StateRunning State = iota

	// StateExited means exit has published an exit code. A record in this
	// state with a live parent is a zombie.
	StateExited

	// StateReaped means the record has been claimed for destruction and its
	// exit code consumed. No further transition is possible.
	StateReaped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// HasExited reports whether exit has been called.
func (s State) HasExited() bool {
	return s >= StateExited
}

// IsTerminal reports whether the record is reaped.
func (s State) IsTerminal() bool {
	return s == StateReaped
}
