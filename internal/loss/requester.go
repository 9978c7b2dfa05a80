package loss

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/1ureka/rftun/internal/protocol"
	"github.com/1ureka/rftun/internal/util"
)

// ControlSender transmits a control record to the peer. Spacing between
// transmissions is the sender's concern.
type ControlSender interface {
	TransmitControl(ctx context.Context, frame []byte) error
}

type attempt struct {
	firstMissing time.Time
	sent         int
}

// Requester turns missing message counters into repair requests. Requests
// are fire-and-forget: nothing acknowledges them, and a value is asked for at
// most maxAttempts times. A value must stay missing for holdoff before the
// first request, which lets reordered messages arrive first.
//
// Values that used up their attempts are given up on and no longer tracked:
// they all lie below the values still pending, so a single floor records them.
//
// It is owned by the ingress loop and needs no locking.
type Requester struct {
	tx          ControlSender
	holdoff     time.Duration
	maxAttempts int
	now         func() time.Time
	pending     map[int64]*attempt
	floor       int64 // values at or below were given up on
}

// NewRequester creates a Requester sending through tx.
func NewRequester(tx ControlSender, holdoff time.Duration, maxAttempts int) *Requester {
	return &Requester{
		tx:          tx,
		holdoff:     holdoff,
		maxAttempts: maxAttempts,
		now:         time.Now,
		pending:     make(map[int64]*attempt),
		floor:       math.MinInt64,
	}
}

// Request sends one repair request for every value in report.Missing that is
// due, one at a time. It returns how many requests were transmitted. A
// transmit failure stops the pass and is returned.
func (r *Requester) Request(ctx context.Context, report Report) (int, error) {
	now := r.now()

	// Values that arrived since the last pass no longer need repair.
	for v := range r.pending {
		if _, missing := slices.BinarySearch(report.Missing, v); !missing {
			delete(r.pending, v)
		}
	}

	start, _ := slices.BinarySearch(report.Missing, r.floor+1)
	sent := 0
	for _, v := range report.Missing[start:] {
		a, ok := r.pending[v]
		if !ok {
			a = &attempt{firstMissing: now}
			r.pending[v] = a
		}
		if a.sent >= r.maxAttempts {
			r.giveUp(v)
			continue
		}
		if now.Sub(a.firstMissing) < r.holdoff {
			continue
		}

		req := protocol.RepairRequest{MessageID: IDOf(v), Sequence: protocol.SequenceEnd}
		if err := r.tx.TransmitControl(ctx, protocol.EncodeRepairRequest(req)); err != nil {
			return sent, fmt.Errorf("failed to send repair request for message %d: %w", req.MessageID, err)
		}
		a.sent++
		sent++
		util.LogDebug("requested repair of message %d (attempt %d/%d)", req.MessageID, a.sent, r.maxAttempts)
		if a.sent >= r.maxAttempts {
			r.giveUp(v)
		}
	}
	return sent, nil
}

func (r *Requester) giveUp(v int64) {
	delete(r.pending, v)
	r.floor = max(r.floor, v)
}

// Outstanding returns how many missing values are still being tracked.
func (r *Requester) Outstanding() int {
	return len(r.pending)
}

// GivenUp reports whether v used up its attempts.
func (r *Requester) GivenUp(v int64) bool {
	return v <= r.floor
}

// Reset forgets every tracked value.
func (r *Requester) Reset() {
	r.pending = make(map[int64]*attempt)
	r.floor = math.MinInt64
}
