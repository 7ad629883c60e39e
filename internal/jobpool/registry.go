package jobpool

import "sync"

// Registry maps authenticated identities to their job pools. Pools are
// created lazily on first use and never removed; distinct identities are
// strictly isolated from each other's jobs.
type Registry struct {
	pools map[string]*Pool

	mu sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Resolve returns the pool owned by identity, creating it on the identity's
// first request. Lookups of existing pools share a read lock; only creation
// takes the write lock, so established tenants never block each other.
func (r *Registry) Resolve(identity string) *Pool {
	r.mu.RLock()
	pool, exists := r.pools[identity]
	r.mu.RUnlock()

	if exists {
		return pool
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: a concurrent first request from the same identity may have
	// created the pool between the locks. Exactly one pool per identity
	// ever exists.
	if pool, exists := r.pools[identity]; exists {
		return pool
	}

	pool = NewPool()
	r.pools[identity] = pool

	return pool
}

// Shutdown makes a best-effort attempt to kill all running jobs across all
// tenant pools.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, pool := range r.pools {
		pools = append(pools, pool)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup

	for _, pool := range pools {
		wg.Go(pool.Shutdown)
	}

	wg.Wait()
}
