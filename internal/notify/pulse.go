// Package notify implements the "edge-triggered, single-pulse, coalescing"
// wake-up primitive spec.md §9 calls for: the Scheduler's Notify signal and
// the Event Bus's per-publish wake share this same shape, so it lives in one
// place rather than being reinvented per component.
package notify

import "sync"

// Pulse lets any number of waiters block until the next Notify call, without
// polling. A pulse fired while nobody is waiting is not lost for the next
// Wait call, but repeated pulses between two Wait calls coalesce into one
// wake — exactly the semantics spec.md §4.8 requires ("a pulse while the
// scheduler is computing is idempotent").
type Pulse struct {
	mu    sync.Mutex
	ch    chan struct{}
	fired bool // ch is closed and has not yet been handed out by Wait
}

// New returns a ready-to-use Pulse.
func New() *Pulse {
	return &Pulse{ch: make(chan struct{})}
}

// Wait returns a channel that closes the next time Notify is called, or one
// that is already closed if a Notify arrived since the previous Wait. Select
// on it alongside a timer or ctx.Done().
func (p *Pulse) Wait() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.ch
	if p.fired {
		p.ch = make(chan struct{})
		p.fired = false
	}
	return ch
}

// Notify wakes every current waiter. Notify calls before the next Wait
// coalesce into a single wake, since they all close the same channel
// generation (the second call is a no-op).
func (p *Pulse) Notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fired {
		close(p.ch)
		p.fired = true
	}
}
