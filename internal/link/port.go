package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the receive state of a Port.
type State int

const (
	Idle  State = iota // not listening
	Armed              // receive mode entered, nothing completed yet
	Done               // a reception is waiting to be consumed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Port wraps one Radio with its receive state machine and transmit pacing.
//
//	Idle  -> Armed  on arm
//	Armed -> Done   when the driver reports a completed reception
//	Armed -> Idle   when the arm deadline passes (the port re-arms right away)
//	Done  -> Idle   when the reception is consumed (the port re-arms right away)
//
// A transmit also leaves the radio out of receive mode, so it returns an
// Armed port to Idle. A Done port keeps its reception until it is consumed.
// All radio calls are serialized by the port's mutex, so at most one
// transmit is in flight per physical link.
type Port struct {
	id      ID
	radio   Radio
	limiter *rate.Limiter
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	state    State
	armedAt  time.Time
	timeouts int
}

// NewPort wraps radio. spacing is the minimum time between two transmissions;
// armTimeout bounds how long the port stays armed without a reception
// (zero disables the deadline).
func NewPort(id ID, radio Radio, spacing, armTimeout time.Duration) *Port {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Port{
		id:      id,
		radio:   radio,
		limiter: rate.NewLimiter(limit, 1),
		timeout: armTimeout,
		now:     time.Now,
	}
}

// ID returns which link this port drives.
func (p *Port) ID() ID { return p.id }

// State returns the current receive state.
func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Timeouts returns how many times the arm deadline expired.
func (p *Port) Timeouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeouts
}

// Transmit waits for the spacing limiter, then sends payload.
func (p *Port) Transmit(ctx context.Context, to uint8, payload []byte) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Armed {
		p.state = Idle
	}
	if err := p.radio.Transmit(to, payload); err != nil {
		return fmt.Errorf("%w: link %s transmit: %v", ErrLinkUnavailable, p.id, err)
	}
	return nil
}

// advance moves the state machine forward without consuming anything and
// reports whether a reception is waiting.
func (p *Port) advance() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Idle:
		if err := p.arm(); err != nil {
			return false, err
		}
	case Armed:
		if p.timeout > 0 && p.now().Sub(p.armedAt) >= p.timeout {
			p.timeouts++
			p.state = Idle
			if err := p.arm(); err != nil {
				return false, err
			}
		}
	}

	if p.state == Armed && p.radio.ReceiveReady() {
		p.state = Done
	}
	return p.state == Done, nil
}

// consume returns the waiting reception and re-arms the radio. It reports
// false when no reception is waiting.
func (p *Port) consume() (Reception, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Done {
		return Reception{}, false, nil
	}
	r := p.radio.Reception()
	p.state = Idle
	return r, true, p.arm()
}

// arm must be called with mu held.
func (p *Port) arm() error {
	if err := p.radio.ArmReceive(); err != nil {
		return fmt.Errorf("%w: link %s arm: %v", ErrLinkUnavailable, p.id, err)
	}
	p.state = Armed
	p.armedAt = p.now()
	return nil
}

// Close shuts the radio down.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Idle
	return p.radio.Close()
}
