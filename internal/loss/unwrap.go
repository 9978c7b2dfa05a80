// Package loss audits end-to-end message loss and asks the peer to repair it.
package loss

import "github.com/1ureka/rftun/internal/protocol"

// idSpan is the length of one message-id cycle: ids run 1..0xFFFF.
const idSpan = int64(protocol.MaxMessageID)

// Unwrapper extends wrapping message identifiers into a monotonically
// increasing counter, so that gaps can be computed across wraparound.
// An identifier is placed in whichever cycle puts it closest to the highest
// value seen so far. It is not safe for concurrent use.
type Unwrapper struct {
	init bool
	last int64
}

// Extend returns the extended counter for id.
func (u *Unwrapper) Extend(id uint16) int64 {
	v := int64(id) - 1
	if !u.init {
		u.init = true
		u.last = v
		return v
	}

	cand := u.last - floorMod(u.last, idSpan) + v
	switch {
	case cand-u.last > idSpan/2:
		cand -= idSpan
	case u.last-cand > idSpan/2:
		cand += idSpan
	}
	if cand > u.last {
		u.last = cand
	}
	return cand
}

// Reset forgets all history, for when the peer restarts its counter.
func (u *Unwrapper) Reset() {
	*u = Unwrapper{}
}

// IDOf maps an extended counter back to the message identifier on the air.
func IDOf(v int64) uint16 {
	return uint16(floorMod(v, idSpan) + 1)
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
