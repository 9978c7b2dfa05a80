package fragment

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/1ureka/rftun/internal/protocol"
)

func fragmentAll(t *testing.T, blob []byte, maxPayload int) (uint16, [][]byte) {
	t.Helper()
	out, err := NewFragmenter(NewIDAllocator()).Fragment(blob, maxPayload)
	if err != nil {
		t.Fatalf("Fragment failed: %v", err)
	}
	return out.ID, slices.Collect(out.Frames())
}

// TestRoundTripAnyOrder feeds random blobs, fragmented at random sizes, in a
// shuffled order with duplicates mixed in.
func TestRoundTripAnyOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		blob := make([]byte, rng.IntN(600))
		for j := range blob {
			blob[j] = byte(rng.IntN(256))
		}
		maxPayload := 1 + rng.IntN(80)

		id, frames := fragmentAll(t, blob, maxPayload)

		// Duplicates are drawn from the data fragments; a stray end marker
		// after release would legitimately open a second buffer.
		order := slices.Clone(frames)
		for d := 0; d < rng.IntN(4); d++ {
			order = append(order, frames[rng.IntN(len(frames)-1)])
		}
		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })

		r := NewReassembler()
		var got *Message
		for _, frame := range order {
			msg, err := r.Feed(1, frame)
			if err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			if msg != nil {
				if got != nil {
					t.Fatalf("iteration %d: message released twice", i)
				}
				got = msg
			}
		}

		if got == nil {
			t.Fatalf("iteration %d: message never released (%d bytes, payload %d)", i, len(blob), maxPayload)
		}
		if got.ID != id || got.Peer != 1 || got.Gaps != 0 {
			t.Errorf("iteration %d: unexpected message meta %+v", i, got)
		}
		if !bytes.Equal(got.Data, blob) {
			t.Fatalf("iteration %d: reassembled blob mismatch (%d vs %d bytes)", i, len(got.Data), len(blob))
		}
	}
}

// TestReassemble185ReverseOrder is the reference end-to-end scenario.
func TestReassemble185ReverseOrder(t *testing.T) {
	blob := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz"), 8)[:185]
	_, frames := fragmentAll(t, blob, 60)
	slices.Reverse(frames)

	r := NewReassembler()
	for i, frame := range frames {
		msg, err := r.Feed(2, frame)
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		if i < len(frames)-1 && msg != nil {
			t.Fatalf("released early after %d frames", i+1)
		}
		if i == len(frames)-1 {
			if msg == nil {
				t.Fatal("not released after all frames")
			}
			if !bytes.Equal(msg.Data, blob) || msg.OriginalLength != 185 {
				t.Errorf("got %d bytes, original length %d", len(msg.Data), msg.OriginalLength)
			}
		}
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after release, want 0", r.Pending())
	}
}

// TestCompletenessInvariant: release iff an end marker was seen and enough
// distinct sequences are held.
func TestCompletenessInvariant(t *testing.T) {
	t.Run("no end marker never releases", func(t *testing.T) {
		_, frames := fragmentAll(t, make([]byte, 30), 10)
		r := NewReassembler()
		for _, frame := range frames[:len(frames)-1] {
			if msg, _ := r.Feed(1, frame); msg != nil {
				t.Fatal("released without end marker")
			}
		}
		if r.Pending() != 1 {
			t.Errorf("Pending() = %d, want 1", r.Pending())
		}
	})

	t.Run("missing fragment never releases", func(t *testing.T) {
		_, frames := fragmentAll(t, make([]byte, 30), 10)
		r := NewReassembler()
		for i, frame := range frames {
			if i == 1 {
				continue
			}
			if msg, _ := r.Feed(1, frame); msg != nil {
				t.Fatal("released with a fragment missing")
			}
		}
	})

	t.Run("end marker first", func(t *testing.T) {
		_, frames := fragmentAll(t, []byte("0123456789"), 3)
		r := NewReassembler()
		if msg, _ := r.Feed(1, frames[len(frames)-1]); msg != nil {
			t.Fatal("released on end marker alone")
		}
		var msg *Message
		for _, frame := range frames[:len(frames)-1] {
			msg, _ = r.Feed(1, frame)
		}
		if msg == nil || string(msg.Data) != "0123456789" {
			t.Fatalf("unexpected release %+v", msg)
		}
	})

	t.Run("out of range sequence counts and leaves a gap", func(t *testing.T) {
		r := NewReassembler()
		r.Feed(1, protocol.EncodeData(9, 0, []byte("ab")))
		r.Feed(1, protocol.EncodeData(9, 2, []byte("ef")))
		r.Feed(1, protocol.EncodeData(9, 7, []byte("zz")))
		msg, err := r.Feed(1, protocol.EncodeEnd(9, protocol.End{TotalFragments: 3, OriginalLength: 6}))
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		if msg == nil {
			t.Fatal("expected release once three distinct sequences are held")
		}
		if string(msg.Data) != "abef" || msg.Gaps != 1 {
			t.Errorf("got %q with %d gaps, want %q with 1 gap", msg.Data, msg.Gaps, "abef")
		}
	})
}

// TestFeedIdempotent: feeding a fragment twice leaves the same state.
func TestFeedIdempotent(t *testing.T) {
	_, frames := fragmentAll(t, []byte("hello radio world"), 5)

	once := NewReassembler()
	twice := NewReassembler()
	for _, frame := range frames[:2] {
		once.Feed(3, frame)
		twice.Feed(3, frame)
		twice.Feed(3, frame)
	}

	key := Key{Peer: 3, ID: 1}
	n1, _ := once.Held(key)
	n2, _ := twice.Held(key)
	if n1 != n2 || once.Pending() != twice.Pending() {
		t.Fatalf("state diverged: held %d vs %d, pending %d vs %d", n1, n2, once.Pending(), twice.Pending())
	}

	var a, b *Message
	for _, frame := range frames[2:] {
		a, _ = once.Feed(3, frame)
		b, _ = twice.Feed(3, frame)
	}
	if a == nil || b == nil || !bytes.Equal(a.Data, b.Data) {
		t.Errorf("releases differ: %v vs %v", a, b)
	}
}

func TestFeedMalformed(t *testing.T) {
	testCases := []struct {
		name  string
		frame []byte
	}{
		{"short header", []byte{0x00, 0x01, 0xFF}},
		{"short end marker", []byte{0x00, 0x01, 0xFF, 0xFF, 0x00, 0x02}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReassembler()
			msg, err := r.Feed(1, tc.frame)
			if msg != nil || !errors.Is(err, protocol.ErrMalformedHeader) {
				t.Fatalf("Feed = %v, %v; want nil, ErrMalformedHeader", msg, err)
			}
			if r.Pending() != 0 {
				t.Errorf("malformed frame created a buffer")
			}
		})
	}
}

func TestFeedRejectsControl(t *testing.T) {
	r := NewReassembler()
	_, err := r.Feed(1, protocol.EncodeHello(1))
	if !errors.Is(err, ErrNotData) {
		t.Errorf("expected ErrNotData, got %v", err)
	}
}

// TestBuffersKeyedByPeer: equal message ids from different senders do not mix.
func TestBuffersKeyedByPeer(t *testing.T) {
	r := NewReassembler()
	r.Feed(1, protocol.EncodeData(5, 0, []byte("one")))
	r.Feed(2, protocol.EncodeData(5, 0, []byte("two")))

	msg, _ := r.Feed(2, protocol.EncodeEnd(5, protocol.End{TotalFragments: 1, OriginalLength: 3}))
	if msg == nil || msg.Peer != 2 || string(msg.Data) != "two" {
		t.Fatalf("unexpected release %+v", msg)
	}
	if n, ok := r.Held(Key{Peer: 1, ID: 5}); !ok || n != 1 {
		t.Errorf("peer 1 buffer disturbed: %d, %v", n, ok)
	}
}

func TestEvictByAge(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewReassembler(WithMaxAge(30*time.Second), WithClock(func() time.Time { return now }))

	r.Feed(1, protocol.EncodeData(1, 0, []byte("old")))
	now = now.Add(20 * time.Second)
	r.Feed(1, protocol.EncodeData(2, 0, []byte("new")))

	now = now.Add(15 * time.Second)
	evicted := r.Evict()
	if len(evicted) != 1 || evicted[0].Key != (Key{Peer: 1, ID: 1}) {
		t.Fatalf("Evict() = %+v, want message 1 only", evicted)
	}
	if evicted[0].Expected != -1 || evicted[0].Received != 1 {
		t.Errorf("unexpected eviction detail %+v", evicted[0])
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}
}

func TestEvictByCount(t *testing.T) {
	now := time.Unix(1000, 0)
	var evicted []Evicted
	r := NewReassembler(
		WithMaxPending(2),
		WithClock(func() time.Time { return now }),
		WithEvictHook(func(e Evicted) { evicted = append(evicted, e) }),
	)

	for id := uint16(1); id <= 3; id++ {
		r.Feed(1, protocol.EncodeData(id, 0, []byte("x")))
		now = now.Add(time.Second)
	}

	if r.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", r.Pending())
	}
	if len(evicted) != 1 || evicted[0].Key.ID != 1 {
		t.Errorf("evicted = %+v, want message 1", evicted)
	}
	if _, ok := r.Held(Key{Peer: 1, ID: 1}); ok {
		t.Error("oldest buffer still held")
	}
}
