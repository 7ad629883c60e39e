package jobpool

import (
	"fmt"
	"sync"

	"cmdworker/internal/jobpool/output"
)

// job ties a supervised process to its output collectors and lifecycle
// state. All state access goes through the job's own lock; the pool lock is
// never held at the same time.
type job struct {
	id      uint64
	command string
	args    []string

	mu       sync.Mutex
	state    JobState
	exitCode int
	message  string

	proc   *process
	stdout *output.Collector
	stderr *output.Collector
}

// newJob spawns the process for command and args and returns the tracking
// record. Spawn failure is absorbed: the job is returned in StateError with
// the OS error message, never an error.
func newJob(id uint64, command string, args []string) *job {
	j := &job{
		id:      id,
		command: command,
		args:    args,
	}

	proc, stdout, stderr, err := spawn(command, args)
	if err != nil {
		j.state = StateError
		j.message = err.Error()

		return j
	}

	j.state = StateRunning
	j.proc = proc
	j.stdout = output.NewCollector(stdout)
	j.stderr = output.NewCollector(stderr)

	return j
}

// status refreshes the job state with a non-blocking poll of the process and
// returns the result.
func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.refreshLocked()

	return Status{
		State:    j.state,
		ExitCode: j.exitCode,
		Message:  j.message,
	}
}

// outputSnapshot returns copies of both output buffers. A job that never
// spawned has no output.
func (j *job) outputSnapshot() (stdout, stderr []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.proc == nil {
		return nil, nil
	}

	return j.stdout.Snapshot(), j.stderr.Snapshot()
}

// kill forces the process to end and blocks until its exit has been
// confirmed and the output drains have finished. It is a no-op for jobs
// already in a terminal state.
func (j *job) kill() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Terminal() {
		return nil
	}

	if err := j.proc.terminate(); err != nil {
		return &TerminationError{ID: j.id, Err: err}
	}

	j.refreshLocked()

	return nil
}

// refreshLocked advances the state machine if the process has exited.
// Callers must hold j.mu.
func (j *job) refreshLocked() {
	if j.state.Terminal() {
		return
	}

	st, exited := j.proc.poll()
	if !exited {
		return
	}

	if st.err != nil {
		j.state = StateError
		j.message = fmt.Sprintf("failed to monitor process: %s", st.err)

		return
	}

	// The drains cannot simply be waited on: a child the process spawned
	// inherits the pipe write ends and can hold off end-of-stream long after
	// the process itself exited. Shutting them down instead keeps this call
	// bounded while still flushing everything written before the exit.
	j.stdout.Close()
	j.stderr.Close()
	<-j.stdout.Done()
	<-j.stderr.Done()

	if st.signaled {
		j.state = StateTerminated
		return
	}

	j.state = StateCompleted
	j.exitCode = st.code
}
