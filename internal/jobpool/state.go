package jobpool

// JobState is the lifecycle state of a job. Transitions only move forward:
// a job starts in StateRunning (or StateError if the process never spawned)
// and ends in exactly one of the terminal states.
type JobState int

const (
	// StateRunning indicates the process has spawned and not yet been
	// observed to exit.
	StateRunning JobState = iota

	// StateCompleted indicates the process exited on its own with an exit
	// code.
	StateCompleted

	// StateTerminated indicates the process was ended by a signal rather
	// than exiting on its own.
	StateTerminated

	// StateError indicates the process either failed to spawn or could not
	// be monitored to completion. The reason is in Status.Message.
	StateError
)

// NOTE: This slice needs to be kept in sync with any changes to the JobState
// values.
var stateNames = []string{
	"running",
	"completed",
	"terminated",
	"error",
}

// String implements the Stringer interface for JobState.
func (s JobState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Terminal reports whether the state permits no further transitions.
func (s JobState) Terminal() bool {
	return s != StateRunning
}

// Status is a point-in-time view of a job's state. ExitCode is only
// meaningful when State is StateCompleted, and Message only when State is
// StateError.
type Status struct {
	State    JobState
	ExitCode int
	Message  string
}
