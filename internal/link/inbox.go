package link

import "sync"

// Inbox gives drivers whose receptions arrive asynchronously (callbacks,
// reader goroutines) the two-phase receive semantics of Radio. Receptions
// are queued up to a fixed depth; beyond it they are dropped, as a radio FIFO
// overflows.
type Inbox struct {
	mu      sync.Mutex
	armed   bool
	done    bool
	current Reception
	queue   chan Reception
}

// NewInbox creates an inbox holding up to depth queued receptions.
func NewInbox(depth int) *Inbox {
	return &Inbox{queue: make(chan Reception, depth)}
}

// Deliver queues a reception without blocking. It reports false when the
// queue was full and the reception was dropped.
func (in *Inbox) Deliver(r Reception) bool {
	select {
	case in.queue <- r:
		return true
	default:
		return false
	}
}

// Arm clears the previous reception and enters receive mode.
func (in *Inbox) Arm() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.armed = true
	in.done = false
	in.current = Reception{}
}

// Ready reports whether a reception completed since the last Arm.
func (in *Inbox) Ready() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.done {
		return true
	}
	if !in.armed {
		return false
	}
	select {
	case r := <-in.queue:
		in.current = r
		in.done = true
		in.armed = false
		return true
	default:
		return false
	}
}

// Reception returns the completed reception, or the zero value.
func (in *Inbox) Reception() Reception {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.current
}
