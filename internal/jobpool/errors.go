package jobpool

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

// TerminationError is returned when the OS failed to deliver the kill signal
// for a job's process. A kill signal cannot be blocked by the target, so in
// practice this is exceptional.
type TerminationError struct {
	ID  uint64
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate job %d: %s", e.ID, e.Err)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}
