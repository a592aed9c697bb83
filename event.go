package qtnetworkng

import "sync"

// Event is a level-triggered condition flag. Waiters arriving after Set
// return immediately; Clear makes subsequent waiters block until the next
// Set. Destroy releases every waiter with a false result, after which the
// event stays unusable.
//
// The three per-socket events (sending queue empty, sending queue not full,
// receiving queue not empty) are all instances of this type.
type Event struct {
	mu        sync.Mutex
	set       bool
	destroyed bool
	waitCh    chan struct{}
}

// NewEvent creates an Event in the cleared state.
func NewEvent() *Event {
	return &Event{waitCh: make(chan struct{})}
}

// Set raises the flag and releases all current waiters.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set || e.destroyed {
		return
	}
	e.set = true
	close(e.waitCh)
}

// Clear lowers the flag. Waiters that arrived before a previous Set are not
// affected; only later waiters block.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set || e.destroyed {
		return
	}
	e.set = false
	e.waitCh = make(chan struct{})
}

// IsSet reports whether the flag is currently raised.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the flag is raised. It returns false if the event was
// destroyed, either before the call or while waiting.
func (e *Event) Wait() bool {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return false
	}
	ch := e.waitCh
	e.mu.Unlock()

	<-ch

	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.destroyed
}

// Destroy releases every waiter with a false result. Further Set/Clear calls
// are no-ops and further Wait calls fail immediately.
func (e *Event) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.destroyed = true
	if !e.set {
		close(e.waitCh)
	}
	e.set = true
}
