// Package output provides background draining of a process output stream
// into an in-memory buffer that can be snapshotted at any time.
//
// Draining runs independently of any caller reading the buffer. OS pipes
// have bounded capacity, so a chatty process would block writing and hang if
// nothing drained its output between queries.
package output

import (
	"io"
	"sync"
	"time"
)

const (
	// initialBufferCapacity is the starting size for the output buffer.
	// 4KB seems like a reasonable default.
	initialBufferCapacity = 4096

	// readBufferSize is the temporary buffer size for reading from the
	// source pipe. 4KB aligns with typical pipe buffer sizes.
	readBufferSize = 4096

	// closeGrace bounds how long the drain keeps reading after Close. Data
	// already in the pipe is read out well within it; only a writer that
	// outlived the watched process could still add more.
	closeGrace = 50 * time.Millisecond
)

// Collector reads from a source io.ReadCloser as data becomes available and
// appends it to an internal buffer until the source reaches end-of-stream.
type Collector struct {
	// NOTE: the buffer grows indefinitely with no upper bound. The
	// assumption is that 'everything fits in memory'. In a production
	// system we'd look at alternative strategies, such as spilling to disk
	// or keeping only the last N bytes.
	buffer []byte

	source io.ReadCloser
	done   chan struct{}
	mu     sync.Mutex
}

// readDeadliner is satisfied by *os.File for pollable descriptors such as
// pipes.
type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// NewCollector creates a Collector that reads from source and immediately
// begins draining. It continues until source returns io.EOF, which for a
// process pipe means the process exited and all buffered data was flushed.
func NewCollector(source io.ReadCloser) *Collector {
	c := &Collector{
		buffer: make([]byte, 0, initialBufferCapacity),
		source: source,
		done:   make(chan struct{}),
	}

	go c.drain(source)

	return c
}

// Close forces the drain to finish even if the source never reaches
// end-of-stream, as when a child of the watched process inherited the pipe's
// write end and kept it open. Data already written is still collected; after
// a short grace the drain stops and closes the source. Close is safe to call
// after the drain has already finished.
func (c *Collector) Close() {
	select {
	case <-c.done:
		return
	default:
	}

	// Preferred over closing outright: reads of data already in the pipe
	// still succeed, only the final blocked read is cut off at the deadline.
	if d, ok := c.source.(readDeadliner); ok {
		if d.SetReadDeadline(time.Now().Add(closeGrace)) == nil {
			return
		}
	}

	c.source.Close()
}

func (c *Collector) drain(source io.ReadCloser) {
	defer func() {
		close(c.done)
		source.Close()
	}()

	buffer := make([]byte, readBufferSize)

	for {
		n, err := source.Read(buffer)
		if n > 0 {
			c.mu.Lock()
			c.buffer = append(c.buffer, buffer[:n]...)
			c.mu.Unlock()
		}

		if err != nil {
			// A non-EOF read error also ends the drain; there's nothing
			// more to collect from a broken pipe.
			return
		}
	}
}

// Snapshot returns a copy of everything collected so far. It never blocks
// waiting for more data.
func (c *Collector) Snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.buffer...)
}

// Done returns a channel that is closed when the source has been fully
// drained and no further appends can happen.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}
