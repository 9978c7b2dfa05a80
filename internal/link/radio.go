// Package link owns the two physical radio links of a node: their receive
// state machines, transmit pacing, and the choice of which link carries which
// traffic.
package link

import (
	"errors"
	"fmt"
)

// Broadcast is the destination address every node accepts.
const Broadcast uint8 = 0xFF

// ErrLinkUnavailable reports a driver or setup failure on a radio link.
var ErrLinkUnavailable = errors.New("link unavailable")

// ErrFrameTooLarge is returned when a frame exceeds the link's single
// transmission size.
var ErrFrameTooLarge = errors.New("frame exceeds link payload size")

// Radio is the primitive contract of one half-duplex radio channel.
//
// Receiving is two-phase: ArmReceive puts the radio in receive mode, then
// ReceiveReady is polled until it reports a completed reception, which
// Reception exposes until the next ArmReceive.
type Radio interface {
	// Transmit sends payload to the node at address to. Fire-and-forget.
	Transmit(to uint8, payload []byte) error
	ArmReceive() error
	// ReceiveReady is a non-blocking poll.
	ReceiveReady() bool
	Reception() Reception
	Close() error
}

// Reception is one completed receive on a radio.
type Reception struct {
	Sender  uint8
	RSSI    int // negative dBm; zero or positive means no reading
	Payload []byte
}

// SignalValid reports whether RSSI holds a plausible reading.
func (r Reception) SignalValid() bool { return r.RSSI < 0 }

// Signal formats the RSSI for logs.
func (r Reception) Signal() string {
	if !r.SignalValid() {
		return "n/a"
	}
	return fmt.Sprintf("%d dBm", r.RSSI)
}

// ID names one of the two links of a node.
type ID int

const (
	LinkA ID = iota // control band, 433 MHz
	LinkB           // data band, 915 or 868 MHz
)

func (id ID) String() string {
	switch id {
	case LinkA:
		return "A"
	case LinkB:
		return "B"
	default:
		return fmt.Sprintf("link(%d)", int(id))
	}
}

// Other returns the opposite link.
func (id ID) Other() ID {
	if id == LinkA {
		return LinkB
	}
	return LinkA
}
