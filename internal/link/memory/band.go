// Package memory is an in-process radio driver. Radios attached to the same
// Band hear each other, subject to a configurable loss probability, which
// makes it the driver of choice for tests and loopback runs.
package memory

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/1ureka/rftun/internal/link"
)

// inboxDepth mirrors the small receive FIFO of a LoRa modem.
const inboxDepth = 64

var errClosed = errors.New("radio closed")

// Band is one shared radio channel.
type Band struct {
	mu     sync.Mutex
	radios map[uint8]*Radio
	loss   float64
	rng    *rand.Rand
	rssi   int

	dropped atomic.Int64
}

// Option configures a Band.
type Option func(*Band)

// WithLoss drops each delivery with probability p, using a seeded generator
// so runs are reproducible.
func WithLoss(p float64, seed uint64) Option {
	return func(b *Band) {
		b.loss = p
		b.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRSSI sets the signal strength reported on every reception.
func WithRSSI(dbm int) Option {
	return func(b *Band) { b.rssi = dbm }
}

// NewBand creates an empty channel.
func NewBand(opts ...Option) *Band {
	b := &Band{radios: make(map[uint8]*Radio), rssi: -40}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach returns the radio of node on this band.
func (b *Band) Attach(node uint8) (*Radio, error) {
	if node == link.Broadcast {
		return nil, fmt.Errorf("%w: address %d is reserved for broadcast", link.ErrLinkUnavailable, node)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.radios[node]; ok {
		return nil, fmt.Errorf("%w: node %d already attached", link.ErrLinkUnavailable, node)
	}
	r := &Radio{band: b, node: node, inbox: link.NewInbox(inboxDepth)}
	b.radios[node] = r
	return r, nil
}

// Dropped returns how many deliveries were lost, to injected loss or to a
// full receive queue.
func (b *Band) Dropped() int64 { return b.dropped.Load() }

func (b *Band) deliver(from, to uint8, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for node, r := range b.radios {
		if node == from || (to != link.Broadcast && node != to) {
			continue
		}
		if b.rng != nil && b.rng.Float64() < b.loss {
			b.dropped.Add(1)
			continue
		}
		rec := link.Reception{Sender: from, RSSI: b.rssi, Payload: append([]byte(nil), payload...)}
		if !r.inbox.Deliver(rec) {
			b.dropped.Add(1)
		}
	}
}

func (b *Band) detach(node uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.radios, node)
}

// Radio is one node's transceiver on a Band. It implements link.Radio.
type Radio struct {
	band   *Band
	node   uint8
	inbox  *link.Inbox
	closed atomic.Bool
}

var _ link.Radio = (*Radio)(nil)

func (r *Radio) Transmit(to uint8, payload []byte) error {
	if r.closed.Load() {
		return errClosed
	}
	r.band.deliver(r.node, to, payload)
	return nil
}

func (r *Radio) ArmReceive() error {
	if r.closed.Load() {
		return errClosed
	}
	r.inbox.Arm()
	return nil
}

func (r *Radio) ReceiveReady() bool { return r.inbox.Ready() }

func (r *Radio) Reception() link.Reception { return r.inbox.Reception() }

// Close detaches the radio from its band. It is idempotent.
func (r *Radio) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.band.detach(r.node)
	}
	return nil
}

// Pair attaches nodes self and peer to two fresh bands, one per link, and
// returns each node's radios as (linkA, linkB).
func Pair(self, peer uint8, opts ...Option) (selfA, selfB, peerA, peerB *Radio, err error) {
	a, b := NewBand(opts...), NewBand(opts...)
	if selfA, err = a.Attach(self); err != nil {
		return
	}
	if selfB, err = b.Attach(self); err != nil {
		return
	}
	if peerA, err = a.Attach(peer); err != nil {
		return
	}
	peerB, err = b.Attach(peer)
	return
}
