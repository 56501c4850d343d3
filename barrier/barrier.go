// Package barrier provides a reusable rendezvous point for a fixed number of
// goroutines.
//
// A Barrier trips when all parties have called Wait; the waiters are then
// released together and the barrier is ready for the next round. A Wait that
// runs out of time withdraws its arrival and leaves the barrier intact, so an
// idle party can poll. Reset releases the parties of the current round with
// ErrBroken, and Abort additionally makes every later Wait fail until the next
// Reset.
package barrier

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Wait when the barrier did not trip in time. The
// caller's arrival has been withdrawn.
var ErrTimeout = errors.New("barrier: wait timed out")

// ErrBroken is returned by Wait when the round was reset or the barrier was
// aborted.
var ErrBroken = errors.New("barrier: broken")

type generation struct {
	done   chan struct{}
	broken bool
}

func newGeneration() *generation {
	return &generation{done: make(chan struct{})}
}

// A Barrier is a cyclic rendezvous point for a fixed number of parties.
type Barrier struct {
	lock    sync.Mutex
	parties int
	count   int
	gen     *generation
	aborted bool
	trips   uint64
}

// New creates a barrier for the given number of parties.
func New(parties int) *Barrier {
	if parties < 1 {
		panic("barrier: parties must be at least 1")
	}

	return &Barrier{
		parties: parties,
		gen:     newGeneration(),
	}
}

// Parties returns the number of parties required to trip the barrier.
func (b *Barrier) Parties() int {
	return b.parties
}

// Waiting returns the number of parties currently blocked in Wait.
func (b *Barrier) Waiting() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.count
}

// Trips returns how many rounds have completed.
func (b *Barrier) Trips() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.trips
}

// Aborted tells whether the barrier refuses waiters until the next Reset.
func (b *Barrier) Aborted() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.aborted
}

// Wait blocks until all parties have arrived, the round is broken, or the
// timeout passes. A timeout of zero or less waits without a bound.
func (b *Barrier) Wait(timeout time.Duration) error {
	b.lock.Lock()
	if b.aborted {
		b.lock.Unlock()
		return ErrBroken
	}

	g := b.gen
	b.count++

	if b.count == b.parties {
		b.count = 0
		b.trips++
		close(g.done)
		b.gen = newGeneration()
		b.lock.Unlock()

		return nil
	}
	b.lock.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-g.done:
		return b.outcome(g)
	case <-expired:
		return b.withdraw(g)
	}
}

func (b *Barrier) outcome(g *generation) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if g.broken {
		return ErrBroken
	}

	return nil
}

func (b *Barrier) withdraw(g *generation) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	select {
	case <-g.done:
		// The round finished while the timer fired.
		if g.broken {
			return ErrBroken
		}

		return nil
	default:
	}

	b.count--

	return ErrTimeout
}

// Reset releases the parties of the current round with ErrBroken and clears
// an abort. The barrier is usable again afterwards.
func (b *Barrier) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.count > 0 {
		b.breakLocked()
	}

	b.aborted = false
}

// Abort releases the parties of the current round with ErrBroken and makes
// all later Wait calls fail until Reset is called.
func (b *Barrier) Abort() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.breakLocked()
	b.aborted = true
}

func (b *Barrier) breakLocked() {
	g := b.gen
	g.broken = true
	close(g.done)

	b.gen = newGeneration()
	b.count = 0
}
