// Package protocol defines the on-air frame format shared by both radio links.
//
// Every frame starts with a 4-byte header: MessageID(2) + Sequence(2), both
// big-endian. Sequence 0xFFFF marks the End-of-Message record of a message;
// MessageID 0 is never allocated for data and carries control records.
package protocol

import "errors"

// HeaderSize is the fixed header size: MessageID(2) + Sequence(2).
const HeaderSize = 4

// EndPayloadSize is the End-of-Message payload size: TotalFragments(2) + OriginalLength(2).
const EndPayloadSize = 4

// Reserved values.
const (
	SequenceEnd    uint16 = 0xFFFF // End-of-Message marker
	MaxSequence    uint16 = 0xFFFE // highest data fragment index
	ControlID      uint16 = 0      // message id used by control records
	MaxMessageID   uint16 = 0xFFFF
	MaxOrigLength         = 0xFFFF // original_length is clamped to this
	MaxFragments          = int(MaxSequence) + 1
)

// Control record kinds, carried in the sequence field of a ControlID frame.
const (
	KindRepairRequest uint16 = 0x0001 // ask the peer to resend a message or fragment
	KindHello         uint16 = 0x0002 // neighbour discovery
)

// ErrMalformedHeader reports a frame too short to carry its header or the
// payload its header announces.
var ErrMalformedHeader = errors.New("malformed header")

// Header identifies one frame on the air.
type Header struct {
	MessageID uint16
	Sequence  uint16
}

// IsEnd reports whether the header marks an End-of-Message record.
func (h Header) IsEnd() bool { return h.Sequence == SequenceEnd }

// IsControl reports whether the header carries a control record.
func (h Header) IsControl() bool { return h.MessageID == ControlID }

// End is the End-of-Message payload.
type End struct {
	TotalFragments uint16
	OriginalLength uint16 // clamped to MaxOrigLength
}

// RepairRequest asks the sender of MessageID to transmit it again.
// Sequence == SequenceEnd asks for every fragment of the message.
type RepairRequest struct {
	MessageID uint16
	Sequence  uint16
}

// WholeMessage reports whether the request covers every fragment.
func (r RepairRequest) WholeMessage() bool { return r.Sequence == SequenceEnd }
