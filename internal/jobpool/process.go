package jobpool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
)

// process supervises a single spawned OS process. It owns the process handle
// exclusively: the reaper goroutine is the only caller of Wait, and the exit
// status is only read after the done channel is closed.
type process struct {
	cmd    *exec.Cmd
	killed atomic.Bool

	// waitErr is written by the reaper goroutine before done is closed.
	waitErr error

	done chan struct{}
}

// exitStatus describes how a process left the running state.
type exitStatus struct {
	code     int
	signaled bool

	// err is non-nil when monitoring failed rather than the process exiting.
	err error
}

// spawn starts command with args, with both output streams piped, and
// returns the supervised process along with the read ends of its stdout and
// stderr pipes. A failure to spawn is returned with the underlying OS error
// message intact.
func spawn(command string, args []string) (*process, io.ReadCloser, io.ReadCloser, error) {
	cmd := exec.Command(command, args...)

	// The job gets its own process group so termination can reach children
	// it spawned, not just the process itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()

		return nil, nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()

		return nil, nil, nil, err
	}

	// The child holds its own duplicates of the write ends. Closing ours
	// makes the read ends return EOF once the child exits and the pipes are
	// flushed.
	stdoutW.Close()
	stderrW.Close()

	p := &process{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()

	return p, stdoutR, stderrR, nil
}

// poll reports whether the process has exited, without blocking. When it
// has, the returned exitStatus distinguishes a normal exit from death by
// signal.
func (p *process) poll() (exitStatus, bool) {
	select {
	case <-p.done:
	default:
		return exitStatus{}, false
	}

	ps := p.cmd.ProcessState
	if ps == nil {
		// Wait returned without reaping, e.g. an I/O error on the handle.
		return exitStatus{err: p.waitErr}, true
	}

	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitStatus{code: -1, signaled: true}, true
	}

	return exitStatus{code: ps.ExitCode()}, true
}

// terminate kills the whole process group and blocks until the reaper has
// observed the job process exit. Signalling the group rather than the single
// process catches children the job spawned, whose inherited pipe descriptors
// would otherwise keep the output streams open. It is idempotent and a no-op
// on an already-exited process.
func (p *process) terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if p.killed.CompareAndSwap(false, true) {
		err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
		if err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
	}

	<-p.done

	return nil
}
