package fragment

import (
	"errors"
	"time"

	"github.com/1ureka/rftun/internal/protocol"
)

// ErrNotData is returned by Feed for control records, which never belong to
// a reassembly buffer.
var ErrNotData = errors.New("control record is not a data fragment")

// Key identifies a reassembly buffer. Message identifiers are only unique per
// sender, so the sender's node address is part of the key.
type Key struct {
	Peer uint8
	ID   uint16
}

// Message is a reassembled blob released by the Reassembler.
type Message struct {
	Peer           uint8
	ID             uint16
	Data           []byte
	OriginalLength uint16 // as announced by the end marker, clamped
	Gaps           int    // fragments missing at release time, rendered as zero bytes
}

// Evicted describes a buffer dropped before it completed.
type Evicted struct {
	Key      Key
	Received int
	Expected int // -1 when the end marker was never seen
	Age      time.Duration
}

type buffer struct {
	hasEnd    bool
	end       protocol.End
	fragments map[uint16][]byte
	firstSeen time.Time
}

func (b *buffer) complete() bool {
	return b.hasEnd && len(b.fragments) >= int(b.end.TotalFragments)
}

func (b *buffer) expected() int {
	if !b.hasEnd {
		return -1
	}
	return int(b.end.TotalFragments)
}

// Reassembler accumulates fragments per (peer, message id) and releases a
// message once its end marker has been seen and at least TotalFragments
// distinct sequences are held. It is owned by the ingress loop and needs no
// locking.
type Reassembler struct {
	buffers    map[Key]*buffer
	maxAge     time.Duration
	maxPending int
	now        func() time.Time
	onEvict    func(Evicted)
}

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithMaxAge sets how long an incomplete buffer may live before Evict drops it.
// Zero disables age based eviction.
func WithMaxAge(d time.Duration) Option {
	return func(r *Reassembler) { r.maxAge = d }
}

// WithMaxPending bounds the number of buffers; the oldest is dropped when a
// new message would exceed it. Zero means unbounded.
func WithMaxPending(n int) Option {
	return func(r *Reassembler) { r.maxPending = n }
}

// WithEvictHook registers fn to be told about buffers dropped to respect the
// pending bound. Age based evictions are returned by Evict instead.
func WithEvictHook(fn func(Evicted)) Option {
	return func(r *Reassembler) { r.onEvict = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reassembler) { r.now = now }
}

// NewReassembler creates an empty reassembler.
func NewReassembler(opts ...Option) *Reassembler {
	r := &Reassembler{
		buffers: make(map[Key]*buffer),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed processes one frame received from peer. It returns the reassembled
// message when this frame completed one, and nil otherwise. A malformed
// frame is discarded and reported as an error wrapping
// protocol.ErrMalformedHeader; the reassembler state is unchanged.
//
// Duplicate fragments overwrite the stored copy, so feeding a frame twice
// leaves the same state as feeding it once.
func (r *Reassembler) Feed(peer uint8, frame []byte) (*Message, error) {
	h, payload, err := protocol.DecodeHeader(frame)
	if err != nil {
		return nil, err
	}
	if h.IsControl() {
		return nil, ErrNotData
	}

	var end protocol.End
	if h.IsEnd() {
		if end, err = protocol.DecodeEnd(payload); err != nil {
			return nil, err
		}
	}

	key := Key{Peer: peer, ID: h.MessageID}
	buf, ok := r.buffers[key]
	if !ok {
		r.makeRoom()
		buf = &buffer{
			fragments: make(map[uint16][]byte),
			firstSeen: r.now(),
		}
		r.buffers[key] = buf
	}

	if h.IsEnd() {
		buf.hasEnd = true
		buf.end = end
	} else {
		data := make([]byte, len(payload))
		copy(data, payload)
		buf.fragments[h.Sequence] = data
	}

	if !buf.complete() {
		return nil, nil
	}

	delete(r.buffers, key)
	return release(key, buf), nil
}

// release concatenates fragments 0..TotalFragments-1 in ascending order.
// Absent fragments contribute no bytes.
func release(key Key, buf *buffer) *Message {
	total := int(buf.end.TotalFragments)

	size := 0
	for seq := 0; seq < total; seq++ {
		size += len(buf.fragments[uint16(seq)])
	}

	msg := &Message{
		Peer:           key.Peer,
		ID:             key.ID,
		Data:           make([]byte, 0, size),
		OriginalLength: buf.end.OriginalLength,
	}
	for seq := 0; seq < total; seq++ {
		frag, ok := buf.fragments[uint16(seq)]
		if !ok {
			msg.Gaps++
			continue
		}
		msg.Data = append(msg.Data, frag...)
	}
	return msg
}

// makeRoom drops the oldest buffer when the pending bound is reached.
func (r *Reassembler) makeRoom() {
	if r.maxPending <= 0 || len(r.buffers) < r.maxPending {
		return
	}

	var oldestKey Key
	var oldest *buffer
	for k, b := range r.buffers {
		if oldest == nil || b.firstSeen.Before(oldest.firstSeen) {
			oldestKey, oldest = k, b
		}
	}
	ev := r.describe(oldestKey, oldest)
	delete(r.buffers, oldestKey)
	if r.onEvict != nil {
		r.onEvict(ev)
	}
}

// Evict drops every buffer older than the configured max age and reports them.
func (r *Reassembler) Evict() []Evicted {
	if r.maxAge <= 0 {
		return nil
	}

	now := r.now()
	var out []Evicted
	for k, b := range r.buffers {
		if now.Sub(b.firstSeen) >= r.maxAge {
			out = append(out, r.describe(k, b))
			delete(r.buffers, k)
		}
	}
	return out
}

func (r *Reassembler) describe(k Key, b *buffer) Evicted {
	return Evicted{
		Key:      k,
		Received: len(b.fragments),
		Expected: b.expected(),
		Age:      r.now().Sub(b.firstSeen),
	}
}

// Pending returns the number of incomplete buffers.
func (r *Reassembler) Pending() int {
	return len(r.buffers)
}

// Held returns how many distinct fragments are held for key and whether a
// buffer exists for it.
func (r *Reassembler) Held(key Key) (int, bool) {
	b, ok := r.buffers[key]
	if !ok {
		return 0, false
	}
	return len(b.fragments), true
}
