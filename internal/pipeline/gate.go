package pipeline

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Gate.Admit when the gate is closed while a
// caller is waiting for room.
var ErrClosed = errors.New("pipeline: gate closed")

// roomChecker is the subset of *sorter.Sorter the Gate depends on. A
// narrow interface keeps the gate testable without a real Sorter.
type roomChecker interface {
	HasRoom() bool
}

// Gate is the single condition-variable-style admission primitive of
// spec.md §9: it supports both the has-room wait and the post-drain
// wake-up with one mutex, and also guards the input-finished flag the
// ingest worker sets when it stops reading. Grounded on
// internal/cursor.streamCursor's mutex+cond fetch/wait loop.
type Gate struct {
	mu   sync.Mutex
	cond *sync.Cond
	room roomChecker

	closed        bool
	inputFinished bool
}

// NewGate creates a Gate that waits on room.HasRoom.
func NewGate(room roomChecker) *Gate {
	g := &Gate{room: room}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Admit waits until room is available for one more request, then calls
// push while still holding the gate, closing the check-then-act race
// between HasRoom and the push. Call it once per request, not once per
// batch, so backpressure engages mid-batch (spec.md §8 scenario 2).
// Returns ErrClosed if the gate was closed before or while waiting.
func (g *Gate) Admit(push func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.closed && !g.room.HasRoom() {
		g.cond.Wait()
	}
	if g.closed {
		return ErrClosed
	}
	push()
	return nil
}

// Signal wakes every goroutine blocked in Admit. Call after any
// operation that may have freed room: a drained pair, an eviction.
func (g *Gate) Signal() {
	g.mu.Lock()
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Close wakes every waiter permanently and makes future Admit calls fail
// with ErrClosed. Used to unwind the ingest worker on shutdown.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()
}

// SetInputFinished records that the ingest worker has read everything it
// will read from standard input.
func (g *Gate) SetInputFinished() {
	g.mu.Lock()
	g.inputFinished = true
	g.mu.Unlock()
}

// InputFinished reports whether SetInputFinished has been called.
func (g *Gate) InputFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputFinished
}
