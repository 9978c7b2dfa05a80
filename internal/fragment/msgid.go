package fragment

import (
	"sync/atomic"

	"github.com/1ureka/rftun/internal/protocol"
)

// IDAllocator hands out message identifiers in [1, 0xFFFF], wrapping from
// 0xFFFF back to 1. Zero is never returned.
//
// It is shared by the egress loop and anything else that originates messages,
// so all operations are atomic.
type IDAllocator struct {
	last atomic.Uint32
}

// NewIDAllocator creates an allocator whose first call to Next returns 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// NewIDAllocatorAfter creates an allocator whose first call to Next returns
// the identifier following last.
func NewIDAllocatorAfter(last uint16) *IDAllocator {
	a := &IDAllocator{}
	a.last.Store(uint32(last))
	return a
}

// Next returns the next message identifier.
func (a *IDAllocator) Next() uint16 {
	for {
		cur := a.last.Load()
		next := cur + 1
		if next > uint32(protocol.MaxMessageID) {
			next = 1
		}
		if a.last.CompareAndSwap(cur, next) {
			return uint16(next)
		}
	}
}
