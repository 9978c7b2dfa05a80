package loss

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/1ureka/rftun/internal/protocol"
)

// TestDetectorReference checks the canonical example {5,6,8,10}.
func TestDetectorReference(t *testing.T) {
	d := NewDetector()
	for _, v := range []int64{5, 6, 8, 10} {
		d.Observe(v)
	}

	r := d.Report()
	if r.First != 5 || r.Last != 10 || r.Expected != 6 || r.Observed != 4 {
		t.Errorf("unexpected span %+v", r)
	}
	if !slices.Equal(r.Missing, []int64{7, 9}) {
		t.Errorf("Missing = %v, want [7 9]", r.Missing)
	}
	if r.LossRate != 2.0/6.0 {
		t.Errorf("LossRate = %v, want %v", r.LossRate, 2.0/6.0)
	}
}

func TestDetectorIdempotentAndIncremental(t *testing.T) {
	d := NewDetector()
	for _, v := range []int64{10, 8, 8, 6, 5} {
		d.Observe(v)
	}
	first := d.Report()
	second := d.Report()
	if !slices.Equal(first.Missing, second.Missing) || first.LossRate != second.LossRate {
		t.Fatalf("repeated reports differ: %v vs %v", first, second)
	}

	d.Observe(7)
	d.Observe(9)
	if r := d.Report(); len(r.Missing) != 0 || r.LossRate != 0 {
		t.Errorf("after filling gaps: %v", r)
	}
}

func TestDetectorEmpty(t *testing.T) {
	r := NewDetector().Report()
	if r.Expected != 0 || r.LossRate != 0 || len(r.Missing) != 0 {
		t.Errorf("empty report = %+v", r)
	}
	if r.String() != "no messages observed" {
		t.Errorf("String() = %q", r.String())
	}
}

func TestUnwrapperAcrossWraparound(t *testing.T) {
	var u Unwrapper
	ids := []uint16{0xFFFD, 0xFFFE, 0xFFFF, 1, 2}
	var got []int64
	for _, id := range ids {
		got = append(got, u.Extend(id))
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1]+1 {
			t.Fatalf("extended values not consecutive: %v", got)
		}
	}
	for i, v := range got {
		if IDOf(v) != ids[i] {
			t.Errorf("IDOf(%d) = %d, want %d", v, IDOf(v), ids[i])
		}
	}
}

func TestUnwrapperReorderedAcrossWraparound(t *testing.T) {
	var u Unwrapper
	a := u.Extend(2)
	b := u.Extend(0xFFFF) // late arrival from the previous cycle
	c := u.Extend(3)
	if b != a-2 || c != a+1 {
		t.Errorf("got a=%d b=%d c=%d", a, b, c)
	}
	if IDOf(b) != 0xFFFF {
		t.Errorf("IDOf(%d) = %d, want 0xffff", b, IDOf(b))
	}
}

// TestDetectorWithUnwrapper: a message lost right at the wrap point is found.
func TestDetectorWithUnwrapper(t *testing.T) {
	var u Unwrapper
	d := NewDetector()
	for _, id := range []uint16{0xFFFE, 1, 2} {
		d.Observe(u.Extend(id))
	}
	r := d.Report()
	if len(r.Missing) != 1 || IDOf(r.Missing[0]) != 0xFFFF {
		t.Errorf("Missing = %v", r.Missing)
	}
}

type recordingSender struct {
	frames [][]byte
	err    error
}

func (s *recordingSender) TransmitControl(_ context.Context, frame []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSender) requested(t *testing.T) []uint16 {
	t.Helper()
	var ids []uint16
	for _, f := range s.frames {
		h, payload, err := protocol.DecodeHeader(f)
		if err != nil || !h.IsControl() || h.Sequence != protocol.KindRepairRequest {
			t.Fatalf("not a repair request: % x", f)
		}
		req, err := protocol.DecodeRepairRequest(payload)
		if err != nil || !req.WholeMessage() {
			t.Fatalf("bad repair request: %+v, %v", req, err)
		}
		ids = append(ids, req.MessageID)
	}
	return ids
}

func TestRequesterSendsOnePerMissing(t *testing.T) {
	tx := &recordingSender{}
	r := NewRequester(tx, 0, 3)

	n, err := r.Request(context.Background(), Report{Missing: []int64{6, 8}})
	if err != nil || n != 2 {
		t.Fatalf("Request = %d, %v", n, err)
	}
	if got := tx.requested(t); !slices.Equal(got, []uint16{7, 9}) {
		t.Errorf("requested ids %v, want [7 9]", got)
	}
}

func TestRequesterHoldoffAndAttempts(t *testing.T) {
	now := time.Unix(0, 0)
	tx := &recordingSender{}
	r := NewRequester(tx, time.Second, 2)
	r.now = func() time.Time { return now }

	report := Report{Missing: []int64{4}}
	if n, _ := r.Request(context.Background(), report); n != 0 {
		t.Fatalf("sent %d requests inside the holdoff", n)
	}

	now = now.Add(2 * time.Second)
	r.Request(context.Background(), report)
	r.Request(context.Background(), report)
	r.Request(context.Background(), report)
	if len(tx.frames) != 2 {
		t.Errorf("sent %d requests, want max attempts 2", len(tx.frames))
	}

	// Recovered values are forgotten.
	r.Request(context.Background(), Report{})
	if r.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after recovery", r.Outstanding())
	}
}

func TestRequesterForgetsExhaustedValues(t *testing.T) {
	tx := &recordingSender{}
	r := NewRequester(tx, 0, 2)
	ctx := context.Background()

	// Sustained loss: every pass reports more missing values.
	var missing []int64
	for pass := range 10 {
		missing = append(missing, int64(pass*2+1))
		if _, err := r.Request(ctx, Report{Missing: missing}); err != nil {
			t.Fatal(err)
		}
		if r.Outstanding() > 1 {
			t.Fatalf("pass %d: tracking %d values, want only the newest", pass, r.Outstanding())
		}
	}

	// The newest value has had one attempt so far.
	if want := 2*len(missing) - 1; len(tx.frames) != want {
		t.Errorf("sent %d requests, want %d", len(tx.frames), want)
	}
	for _, v := range missing[:len(missing)-1] {
		if !r.GivenUp(v) {
			t.Errorf("value %d still eligible after max attempts", v)
		}
	}

	r.Reset()
	if r.GivenUp(1) || r.Outstanding() != 0 {
		t.Error("Reset kept state")
	}
}

func TestRequesterPropagatesTransmitError(t *testing.T) {
	boom := errors.New("radio down")
	r := NewRequester(&recordingSender{err: boom}, 0, 1)
	if _, err := r.Request(context.Background(), Report{Missing: []int64{1}}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped transmit error, got %v", err)
	}
}
