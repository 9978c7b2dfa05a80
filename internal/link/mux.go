package link

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/1ureka/rftun/internal/util"
)

// Mode decides which link carries which outbound traffic.
type Mode string

const (
	// ModeDuplex sends everything on the node's primary transmit link; the
	// two nodes use opposite links, so each band carries one direction.
	ModeDuplex Mode = "duplex"
	// ModeSplit sends data on link B and control records on link A.
	ModeSplit Mode = "split"
	// ModeStripe alternates data frames across both links; control records
	// use the primary transmit link.
	ModeStripe Mode = "stripe"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDuplex, ModeSplit, ModeStripe:
		return m, nil
	default:
		return "", fmt.Errorf("unknown link mode %q (want duplex, split or stripe)", s)
	}
}

// PrimaryTransmit returns the link a node transmits data on by default. The
// node with the lower identifier of the pair transmits on link B and listens
// on link A; its peer does the reverse.
func PrimaryTransmit(self, peer uint8) ID {
	if self < peer {
		return LinkB
	}
	return LinkA
}

// MuxConfig configures a Multiplexer.
type MuxConfig struct {
	Self         uint8
	Peer         uint8
	Mode         Mode
	Spacing      time.Duration // minimum gap between transmissions on one link
	PollInterval time.Duration // receive poll period of Receive
	ArmTimeout   time.Duration // Armed -> Idle deadline
	MaxFrame     int           // largest frame a link carries; zero means unchecked
	Prefer       ID            // wins when both links completed a reception
}

// Frame is a reception tagged with the link it arrived on.
type Frame struct {
	Link ID
	Reception
}

// Multiplexer owns the two links of a node.
type Multiplexer struct {
	ports        [2]*Port
	self         uint8
	peer         uint8
	mode         Mode
	primary      ID
	prefer       ID
	pollInterval time.Duration
	maxFrame     int
	stripe       atomic.Uint32
}

// NewMultiplexer takes ownership of both radios; Close releases them.
func NewMultiplexer(a, b Radio, cfg MuxConfig) (*Multiplexer, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: both links are required", ErrLinkUnavailable)
	}
	if cfg.Self == cfg.Peer {
		return nil, fmt.Errorf("node and peer share address %d", cfg.Self)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDuplex
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}

	m := &Multiplexer{
		ports: [2]*Port{
			NewPort(LinkA, a, cfg.Spacing, cfg.ArmTimeout),
			NewPort(LinkB, b, cfg.Spacing, cfg.ArmTimeout),
		},
		self:         cfg.Self,
		peer:         cfg.Peer,
		mode:         cfg.Mode,
		primary:      PrimaryTransmit(cfg.Self, cfg.Peer),
		prefer:       cfg.Prefer,
		pollInterval: cfg.PollInterval,
		maxFrame:     cfg.MaxFrame,
	}
	return m, nil
}

// Port returns the port of one link.
func (m *Multiplexer) Port(id ID) *Port { return m.ports[id] }

// Primary returns the node's primary transmit link.
func (m *Multiplexer) Primary() ID { return m.primary }

// dataLink returns the link the next data fragment uses, advancing the
// stripe position in ModeStripe.
func (m *Multiplexer) dataLink() ID {
	switch m.mode {
	case ModeSplit:
		return LinkB
	case ModeStripe:
		if m.stripe.Add(1)%2 == 1 {
			return m.primary
		}
		return m.primary.Other()
	default:
		return m.primary
	}
}

func (m *Multiplexer) controlLink() ID {
	if m.mode == ModeSplit {
		return LinkA
	}
	return m.primary
}

// TransmitFragment sends one data frame to the peer on the data link
// selected by the mode.
func (m *Multiplexer) TransmitFragment(ctx context.Context, frame []byte) error {
	return m.transmit(ctx, m.dataLink(), frame)
}

// TransmitControl sends one control record to the peer.
func (m *Multiplexer) TransmitControl(ctx context.Context, frame []byte) error {
	return m.transmit(ctx, m.controlLink(), frame)
}

// TransmitOn sends frame on a specific link.
func (m *Multiplexer) TransmitOn(ctx context.Context, id ID, frame []byte) error {
	return m.transmit(ctx, id, frame)
}

func (m *Multiplexer) transmit(ctx context.Context, id ID, frame []byte) error {
	if m.maxFrame > 0 && len(frame) > m.maxFrame {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(frame), m.maxFrame)
	}
	if err := m.ports[id].Transmit(ctx, m.peer, frame); err != nil {
		return err
	}
	util.Stats.AddSent(len(frame))
	util.LogDebug("TX >> %d: link %s len=%d", m.peer, id, len(frame))
	return nil
}

// PollReceive advances both links and returns a waiting reception, if any.
// When both links hold one, the preferred link wins and the other stays
// waiting for the next poll.
func (m *Multiplexer) PollReceive() (Frame, bool, error) {
	var ready [2]bool
	for _, id := range []ID{m.prefer, m.prefer.Other()} {
		ok, err := m.ports[id].advance()
		if err != nil {
			return Frame{}, false, err
		}
		ready[id] = ok
	}

	for _, id := range []ID{m.prefer, m.prefer.Other()} {
		if !ready[id] {
			continue
		}
		r, ok, err := m.ports[id].consume()
		if err != nil {
			return Frame{}, false, err
		}
		if !ok {
			continue
		}
		util.Stats.AddRecv(len(r.Payload))
		util.LogDebug("RX << %d: link %s rssi=%s len=%d", r.Sender, id, r.Signal(), len(r.Payload))
		return Frame{Link: id, Reception: r}, true, nil
	}
	return Frame{}, false, nil
}

// Receive blocks until a frame arrives on either link or ctx is done.
func (m *Multiplexer) Receive(ctx context.Context) (Frame, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		f, ok, err := m.PollReceive()
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return f, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Close shuts down both radios.
func (m *Multiplexer) Close() error {
	return errors.Join(m.ports[LinkA].Close(), m.ports[LinkB].Close())
}
