// Package fragment splits outbound blobs into radio-sized frames and puts
// inbound frames back together.
package fragment

import (
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/1ureka/rftun/internal/protocol"
)

// ErrMessageTooLarge is returned when a blob would need more fragments than
// the sequence space can number.
var ErrMessageTooLarge = errors.New("message too large")

// Fragmenter assigns message identifiers and cuts blobs into frames.
type Fragmenter struct {
	ids *IDAllocator
}

// NewFragmenter creates a Fragmenter drawing identifiers from ids.
func NewFragmenter(ids *IDAllocator) *Fragmenter {
	return &Fragmenter{ids: ids}
}

// Outbound is one fragmented message, ready to be transmitted in order.
type Outbound struct {
	ID     uint16
	Total  uint16 // number of data fragments, excluding the end marker
	Length int    // original blob length

	blob       []byte
	maxPayload int
	consumed   atomic.Bool
}

// Fragment allocates a message identifier for blob and prepares its frames.
// An empty blob still produces one (empty) data fragment.
func (f *Fragmenter) Fragment(blob []byte, maxPayload int) (*Outbound, error) {
	if maxPayload < 1 {
		return nil, fmt.Errorf("invalid fragment payload size %d", maxPayload)
	}

	count := (len(blob) + maxPayload - 1) / maxPayload
	if count == 0 {
		count = 1
	}
	if count > protocol.MaxFragments {
		return nil, fmt.Errorf("%w: %d bytes need %d fragments of %d (max %d)",
			ErrMessageTooLarge, len(blob), count, maxPayload, protocol.MaxFragments)
	}

	return &Outbound{
		ID:         f.ids.Next(),
		Total:      uint16(count),
		Length:     len(blob),
		blob:       blob,
		maxPayload: maxPayload,
	}, nil
}

// FrameCount returns the number of frames Frames yields, end marker included.
func (o *Outbound) FrameCount() int {
	return int(o.Total) + 1
}

// Frames yields every data fragment in ascending sequence order followed by
// the End-of-Message record. Frames are built lazily from the blob, which
// must not be modified until iteration finishes. The sequence can be
// consumed only once; later iterations yield nothing.
func (o *Outbound) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if o.consumed.Swap(true) {
			return
		}

		for seq := 0; seq < int(o.Total); seq++ {
			start := seq * o.maxPayload
			end := min(start+o.maxPayload, len(o.blob))
			if start > end {
				start = end
			}
			if !yield(protocol.EncodeData(o.ID, uint16(seq), o.blob[start:end])) {
				return
			}
		}

		yield(protocol.EncodeEnd(o.ID, protocol.End{
			TotalFragments: o.Total,
			OriginalLength: protocol.ClampLength(o.Length),
		}))
	}
}
