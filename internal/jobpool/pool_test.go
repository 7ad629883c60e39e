package jobpool_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cmdworker/internal/jobpool"
)

func waitForState(
	t *testing.T,
	pool *jobpool.Pool,
	id uint64,
	want jobpool.JobState,
) jobpool.Status {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for {
		status, err := pool.Status(id)
		if err != nil {
			t.Fatalf("expected status not to return error: got '%v'", err)
		}

		if status.State == want {
			return status
		}

		if time.Now().After(deadline) {
			t.Fatalf(
				"timed out waiting for state '%s': last state '%s'",
				want,
				status.State,
			)
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func TestPool(t *testing.T) {
	t.Parallel()

	t.Run("Test run to completion with output", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		id := pool.Submit("echo", []string{"Hello, world!"})

		// A just-returned id is immediately queryable.
		status, err := pool.Status(id)
		if err != nil {
			t.Fatalf("expected status not to return error: got '%v'", err)
		}

		if status.State != jobpool.StateRunning &&
			status.State != jobpool.StateCompleted {
			t.Errorf("unexpected state after submit: got '%s'", status.State)
		}

		status = waitForState(t, pool, id, jobpool.StateCompleted)

		if status.ExitCode != 0 {
			t.Errorf("expected exit code: got '%d', want '0'", status.ExitCode)
		}

		stdout, stderr, err := pool.Output(id)
		if err != nil {
			t.Fatalf("expected output not to return error: got '%v'", err)
		}

		if string(stdout) != "Hello, world!\n" {
			t.Errorf(
				"expected stdout: got '%s', want 'Hello, world!\\n'",
				stdout,
			)
		}

		if len(stderr) != 0 {
			t.Errorf("expected empty stderr: got '%s'", stderr)
		}
	})

	t.Run("Test non-zero exit with stderr", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		id := pool.Submit("sh", []string{"-c", "echo oops 1>&2; exit 3"})

		status := waitForState(t, pool, id, jobpool.StateCompleted)

		if status.ExitCode != 3 {
			t.Errorf("expected exit code: got '%d', want '3'", status.ExitCode)
		}

		stdout, stderr, err := pool.Output(id)
		if err != nil {
			t.Fatalf("expected output not to return error: got '%v'", err)
		}

		if len(stdout) != 0 {
			t.Errorf("expected empty stdout: got '%s'", stdout)
		}

		if string(stderr) != "oops\n" {
			t.Errorf("expected stderr: got '%s', want 'oops\\n'", stderr)
		}
	})

	t.Run("Test nonexistent binary", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		id := pool.Submit("definitely-not-a-real-binary", nil)

		status, err := pool.Status(id)
		if err != nil {
			t.Fatalf("expected status not to return error: got '%v'", err)
		}

		if status.State != jobpool.StateError {
			t.Errorf(
				"expected state: got '%s', want '%s'",
				status.State,
				jobpool.StateError,
			)
		}

		if status.Message == "" {
			t.Error("expected a spawn failure message")
		}

		stdout, stderr, err := pool.Output(id)
		if err != nil {
			t.Fatalf("expected output not to return error: got '%v'", err)
		}

		if len(stdout) != 0 || len(stderr) != 0 {
			t.Errorf(
				"expected empty output for failed spawn: got '%s' / '%s'",
				stdout,
				stderr,
			)
		}
	})

	t.Run("Test killed by signal reports terminated", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		id := pool.Submit("sh", []string{"-c", "kill -9 $$"})

		waitForState(t, pool, id, jobpool.StateTerminated)
	})

	t.Run("Test delete long-running job", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		id := pool.Submit("sleep", []string{"30"})

		status, err := pool.Status(id)
		if err != nil {
			t.Fatalf("expected status not to return error: got '%v'", err)
		}

		if status.State != jobpool.StateRunning {
			t.Fatalf(
				"expected state: got '%s', want '%s'",
				status.State,
				jobpool.StateRunning,
			)
		}

		if err := pool.Delete(id); err != nil {
			t.Fatalf("expected delete not to return error: got '%v'", err)
		}

		if _, err := pool.Status(id); !errors.Is(err, jobpool.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound from status: got '%v'", err)
		}

		if _, _, err := pool.Output(id); !errors.Is(err, jobpool.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound from output: got '%v'", err)
		}

		if err := pool.Delete(id); !errors.Is(err, jobpool.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound from delete: got '%v'", err)
		}
	})

	t.Run("Test status does not wait for a lingering grandchild", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		// The background sleep inherits the pipe write ends and keeps them
		// open long after the shell itself exits.
		id := pool.Submit("sh", []string{"-c", "echo started; sleep 10 & exit 0"})

		start := time.Now()
		status := waitForState(t, pool, id, jobpool.StateCompleted)

		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf(
				"expected status to return promptly after exit: took '%s'",
				elapsed,
			)
		}

		if status.ExitCode != 0 {
			t.Errorf("expected exit code: got '%d', want '0'", status.ExitCode)
		}

		stdout, _, err := pool.Output(id)
		if err != nil {
			t.Fatalf("expected output not to return error: got '%v'", err)
		}

		if string(stdout) != "started\n" {
			t.Errorf("expected stdout: got '%s', want 'started\\n'", stdout)
		}
	})

	t.Run("Test delete kills the whole process group", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		id := pool.Submit("sh", []string{"-c", "sleep 30 & exec sleep 30"})

		status, err := pool.Status(id)
		if err != nil {
			t.Fatalf("expected status not to return error: got '%v'", err)
		}

		if status.State != jobpool.StateRunning {
			t.Fatalf(
				"expected state: got '%s', want '%s'",
				status.State,
				jobpool.StateRunning,
			)
		}

		start := time.Now()

		if err := pool.Delete(id); err != nil {
			t.Fatalf("expected delete not to return error: got '%v'", err)
		}

		// Bounded even though the job spawned a child of its own: the kill
		// reaches the whole group, so neither process can hold things up.
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("expected delete to return promptly: took '%s'", elapsed)
		}

		if _, err := pool.Status(id); !errors.Is(err, jobpool.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound from status: got '%v'", err)
		}
	})

	t.Run("Test job visible until delete confirms the kill", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		id := pool.Submit("sleep", []string{"30"})

		waitForState(t, pool, id, jobpool.StateRunning)

		deleted := make(chan struct{})

		go func() {
			defer close(deleted)

			if err := pool.Delete(id); err != nil {
				t.Errorf("expected delete not to return error: got '%v'", err)
			}
		}()

		deadline := time.Now().Add(5 * time.Second)

		for {
			if time.Now().After(deadline) {
				t.Fatal("timed out waiting for the job to disappear")
			}

			_, err := pool.Status(id)
			if err == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if !errors.Is(err, jobpool.ErrJobNotFound) {
				t.Fatalf("expected ErrJobNotFound from status: got '%v'", err)
			}

			// The job only disappears once the kill is confirmed, so the
			// delete must be about to return.
			select {
			case <-deleted:
			case <-time.After(2 * time.Second):
				t.Error("job disappeared while delete was still in progress")
			}

			break
		}
	})

	t.Run("Test delete nonexistent job", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		if err := pool.Delete(99); !errors.Is(err, jobpool.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound: got '%v'", err)
		}
	})

	t.Run("Test ids increase and are never reused", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		first := pool.Submit("true", nil)
		second := pool.Submit("true", nil)
		third := pool.Submit("true", nil)

		if first != 0 || second != 1 || third != 2 {
			t.Errorf(
				"expected sequential ids: got '%d', '%d', '%d'",
				first,
				second,
				third,
			)
		}

		if err := pool.Delete(second); err != nil {
			t.Fatalf("expected delete not to return error: got '%v'", err)
		}

		if fourth := pool.Submit("true", nil); fourth != 3 {
			t.Errorf("expected id not to be reused: got '%d', want '3'", fourth)
		}

		listed := pool.List()

		wantIDs := []uint64{0, 2, 3}

		if len(listed) != len(wantIDs) {
			t.Fatalf("expected job count: got '%d', want '%d'", len(listed), len(wantIDs))
		}

		for i, summary := range listed {
			if summary.ID != wantIDs[i] {
				t.Errorf(
					"expected list position %d: got id '%d', want '%d'",
					i,
					summary.ID,
					wantIDs[i],
				)
			}
		}
	})

	t.Run("Test list includes command and args", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		pool.Submit("echo", []string{"a", "b"})

		listed := pool.List()
		if len(listed) != 1 {
			t.Fatalf("expected one job: got '%d'", len(listed))
		}

		if listed[0].Command != "echo" {
			t.Errorf("expected command: got '%s', want 'echo'", listed[0].Command)
		}

		if strings.Join(listed[0].Args, " ") != "a b" {
			t.Errorf("expected args: got '%v', want '[a b]'", listed[0].Args)
		}
	})

	t.Run("Test output larger than pipe buffer", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		// 1MiB is well beyond the 64KB a pipe typically holds; this only
		// completes if draining runs concurrently with the process.
		id := pool.Submit("sh", []string{"-c", "head -c 1048576 /dev/zero"})

		status := waitForState(t, pool, id, jobpool.StateCompleted)

		if status.ExitCode != 0 {
			t.Errorf("expected exit code: got '%d', want '0'", status.ExitCode)
		}

		stdout, _, err := pool.Output(id)
		if err != nil {
			t.Fatalf("expected output not to return error: got '%v'", err)
		}

		if len(stdout) != 1048576 {
			t.Errorf(
				"expected all output captured: got '%d' bytes, want '1048576'",
				len(stdout),
			)
		}
	})

	t.Run("Test concurrent submits allocate unique ids", func(t *testing.T) {
		t.Parallel()

		pool := jobpool.NewPool()

		const jobs = 20

		ids := make(chan uint64, jobs)

		var wg sync.WaitGroup

		for range jobs {
			wg.Go(func() {
				ids <- pool.Submit("true", nil)
			})
		}

		wg.Wait()
		close(ids)

		seen := make(map[uint64]bool, jobs)
		for id := range ids {
			if seen[id] {
				t.Errorf("expected unique ids: got '%d' twice", id)
			}

			seen[id] = true
		}

		if len(seen) != jobs {
			t.Errorf("expected id count: got '%d', want '%d'", len(seen), jobs)
		}
	})
}
