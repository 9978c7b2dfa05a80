package loss

import (
	"fmt"
	"sync"
)

// Report is a point-in-time loss computation over everything observed.
type Report struct {
	First    int64
	Last     int64
	Expected int     // values in [First, Last]
	Observed int     // distinct values seen
	Missing  []int64 // ascending
	LossRate float64 // len(Missing) / Expected
}

// String formats the report for logs.
func (r Report) String() string {
	if r.Expected == 0 {
		return "no messages observed"
	}
	return fmt.Sprintf("span %d..%d | expected %d | received %d | missing %d | loss %.2f%%",
		r.First, r.Last, r.Expected, r.Observed, len(r.Missing), r.LossRate*100)
}

// Detector records observed counter values and computes which values in the
// observed span never arrived. Report is a batch computation and may be
// called any number of times. Safe for concurrent use.
type Detector struct {
	mu    sync.Mutex
	seen  map[int64]struct{}
	first int64
	last  int64
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{seen: make(map[int64]struct{})}
}

// Observe records one counter value. Repeats are harmless.
func (d *Detector) Observe(v int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.seen) == 0 {
		d.first, d.last = v, v
	}
	d.first = min(d.first, v)
	d.last = max(d.last, v)
	d.seen[v] = struct{}{}
}

// Reset discards every observation.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[int64]struct{})
}

// Report computes first, last, the missing values and the loss rate.
func (d *Detector) Report() Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.seen) == 0 {
		return Report{}
	}

	r := Report{
		First:    d.first,
		Last:     d.last,
		Expected: int(d.last - d.first + 1),
		Observed: len(d.seen),
	}
	for v := d.first; v <= d.last; v++ {
		if _, ok := d.seen[v]; !ok {
			r.Missing = append(r.Missing, v)
		}
	}
	r.LossRate = float64(len(r.Missing)) / float64(r.Expected)
	return r
}

// Contains reports whether v has been observed.
func (d *Detector) Contains(v int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[v]
	return ok
}
