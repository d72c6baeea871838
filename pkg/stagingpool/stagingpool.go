// Package stagingpool implements the threaded build's two bounded
// single-producer/single-consumer rings that decouple the classifier
// goroutine from the blocking system calls of sending a kernel verdict and
// writing an upstream notification.
//
// The ring is a fixed-capacity buffer with a read and a write counter
// (write >= read, write-read <= capacity, index = counter & mask),
// guarded by a mutex and two condition variables — retained verbatim from
// the design this module generalizes, rather than swapped for a channel,
// so that a full ring can log its "pool full" warning exactly once per
// blocked producer rather than once per failed non-blocking attempt.
package stagingpool

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultSize is NL_POOL_SIZE: the default ring capacity. It must be a
// power of two; 1 is legal and degenerates the ring to lock-step handoff.
const DefaultSize = 1024

// Ring is a bounded SPSC ring buffer of T.
type Ring[T any] struct {
	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond

	slots []T
	mask  uint64
	read  uint64
	write uint64

	name string
}

// NewRing creates an empty ring of the given capacity, which must be a
// power of two. name is used only in the "pool full" log line, to
// distinguish the verdict ring from the header ring in logs.
func NewRing[T any](name string, capacity int) *Ring[T] {
	if capacity < 1 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("stagingpool: capacity %d is not a power of two", capacity))
	}

	r := &Ring[T]{
		slots: make([]T, capacity),
		mask:  uint64(capacity - 1),
		name:  name,
	}
	r.notFull.L = &r.mu
	r.notEmpty.L = &r.mu
	return r
}

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int {
	return len(r.slots)
}

// Put enqueues v, blocking while the ring is full. It logs a warning once
// per blocking wait, matching the "pool full" back-pressure signal the
// design requires.
func (r *Ring[T]) Put(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.write-r.read+1 > uint64(len(r.slots)) {
		logrus.WithField("pool", r.name).Warn("stagingpool: pool is full")
		for r.write-r.read+1 > uint64(len(r.slots)) {
			r.notFull.Wait()
		}
	}

	r.slots[r.write&r.mask] = v
	r.write++

	r.notEmpty.Signal()
}

// Get dequeues the next value, blocking while the ring is empty.
func (r *Ring[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.read >= r.write {
		r.notEmpty.Wait()
	}

	v := r.slots[r.read&r.mask]
	r.read++

	r.notFull.Signal()

	return v
}

// Occupancy returns the current number of buffered-but-unread elements,
// for tests and diagnostics. It is always in [0, capacity].
func (r *Ring[T]) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.write - r.read)
}
