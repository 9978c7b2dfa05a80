package fragment

import (
	"sync"

	"github.com/1ureka/rftun/internal/protocol"
)

// SendCache keeps the frames of the most recently sent messages so that a
// repair request from the peer can be answered. It holds at most capacity
// messages and forgets the oldest first.
//
// The egress loop stores, the repair responder looks up; all methods are
// safe for concurrent use.
type SendCache struct {
	mu       sync.Mutex
	capacity int
	order    []uint16
	entries  map[uint16][][]byte
}

// NewSendCache creates a cache for capacity messages. A capacity of zero
// disables caching.
func NewSendCache(capacity int) *SendCache {
	return &SendCache{
		capacity: capacity,
		entries:  make(map[uint16][][]byte),
	}
}

// Store records the frames of message id, end marker last. Reuse of an id
// after wraparound replaces the older entry.
func (c *SendCache) Store(id uint16, frames [][]byte) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		c.remove(id)
	}
	for len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, id)
	c.entries[id] = frames
}

func (c *SendCache) remove(id uint16) {
	delete(c.entries, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Lookup returns the frames answering a repair request: every frame of the
// message when seq is protocol.SequenceEnd, otherwise the single data
// fragment seq followed by the end marker so the receiver can re-evaluate
// completeness.
func (c *SendCache) Lookup(id, seq uint16) ([][]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if seq == protocol.SequenceEnd {
		return frames, true
	}
	dataCount := len(frames) - 1
	if int(seq) >= dataCount {
		return nil, false
	}
	return [][]byte{frames[seq], frames[dataCount]}, true
}

// Len returns the number of cached messages.
func (c *SendCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
