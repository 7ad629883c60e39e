package jobpool

import (
	"maps"
	"slices"
	"sync"
)

// Pool owns the jobs of a single tenant. Job ids are allocated from a
// per-pool counter: monotonically increasing and never reused, even after
// deletion.
type Pool struct {
	// NOTE: The jobs map grows until jobs are explicitly deleted; there's no
	// eviction. The stated assumption is 'everything fits in memory'.
	jobs   map[uint64]*job
	nextID uint64

	mu sync.Mutex
}

// JobSummary describes one job in a listing.
type JobSummary struct {
	ID      uint64
	Command string
	Args    []string
}

// NewPool creates an empty Pool.
func NewPool() *Pool {
	return &Pool{jobs: make(map[uint64]*job)}
}

// Submit creates a job for command and args and returns its id. It never
// fails: a spawn failure leaves the job in the error state, visible only
// through Status.
func (p *Pool) Submit(command string, args []string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++

	p.jobs[id] = newJob(id, command, args)

	return id
}

// List returns summaries of all jobs not yet deleted, in ascending id order.
func (p *Pool) List() []JobSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := slices.Sorted(maps.Keys(p.jobs))

	summaries := make([]JobSummary, 0, len(ids))
	for _, id := range ids {
		j := p.jobs[id]

		summaries = append(summaries, JobSummary{
			ID:      id,
			Command: j.command,
			Args:    slices.Clone(j.args),
		})
	}

	return summaries
}

// Status returns the current state of the job with the given id, refreshing
// it with a non-blocking poll first, or ErrJobNotFound.
func (p *Pool) Status(id uint64) (Status, error) {
	j, err := p.get(id)
	if err != nil {
		return Status{}, err
	}

	return j.status(), nil
}

// Output returns snapshot copies of the stdout and stderr captured so far
// for the job with the given id, or ErrJobNotFound.
func (p *Pool) Output(id uint64) (stdout, stderr []byte, err error) {
	j, err := p.get(id)
	if err != nil {
		return nil, nil, err
	}

	stdout, stderr = j.outputSnapshot()

	return stdout, stderr, nil
}

// Delete removes the job with the given id. A running job's process is
// killed first and Delete blocks until the exit is confirmed; the job is
// only removed once that has happened, so it never reports ErrJobNotFound
// while its process could still be alive. The id is permanently gone
// afterwards: later calls with it return ErrJobNotFound.
func (p *Pool) Delete(id uint64) error {
	j, err := p.get(id)
	if err != nil {
		return err
	}

	if err := j.kill(); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.jobs, id)
	p.mu.Unlock()

	return nil
}

// Shutdown makes a best-effort attempt to kill any still-running jobs. The
// pool is not usable afterwards in any meaningful sense; this exists for
// server shutdown.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	jobs := slices.Collect(maps.Values(p.jobs))
	p.mu.Unlock()

	var wg sync.WaitGroup

	for _, j := range jobs {
		wg.Go(func() {
			// Errors are ignored: we're about to exit and SIGKILL delivery
			// failing leaves nothing further to do.
			j.kill()
		})
	}

	wg.Wait()
}

func (p *Pool) get(id uint64) (*job, error) {
	p.mu.Lock()
	j, exists := p.jobs[id]
	p.mu.Unlock()

	if !exists {
		return nil, ErrJobNotFound
	}

	return j, nil
}
