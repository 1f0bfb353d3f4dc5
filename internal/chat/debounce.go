package chat

import (
	"sync"
	"time"
)

// Debouncer keeps at most one pending timer per key. Scheduling again for
// the same key replaces the pending timer instead of stacking a second one.
type Debouncer struct {
	clock Clock

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	timer Timer
}

// NewDebouncer creates a Debouncer on the given clock.
func NewDebouncer(clock Clock) *Debouncer {
	return &Debouncer{clock: clock, pending: make(map[string]*pendingCall)}
}

// Schedule runs fn after d unless key is scheduled again or cancelled first.
func (d *Debouncer) Schedule(key string, after time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}

	call := &pendingCall{}
	d.pending[key] = call
	call.timer = d.clock.AfterFunc(after, func() {
		d.mu.Lock()
		if d.pending[key] != call {
			// replaced or cancelled after the timer had already fired
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()

		fn()
	})
}

// Cancel drops the pending call for key and reports whether there was one.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

func (d *Debouncer) scheduled(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// CancelAll drops every pending call.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}
