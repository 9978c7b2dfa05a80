package serial

// KISS framing constants.
const (
	fend  = 0xC0
	fesc  = 0xDB
	tfend = 0xDC
	tfesc = 0xDD
)

// KISS command codes understood by the modem firmware.
const (
	CmdData        byte = 0x00
	CmdSetHardware byte = 0x06
)

// Encode wraps payload in a KISS frame with the given command byte.
func Encode(cmd byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, fend)
	out = appendEscaped(out, cmd)
	for _, b := range payload {
		out = appendEscaped(out, b)
	}
	return append(out, fend)
}

func appendEscaped(out []byte, b byte) []byte {
	switch b {
	case fend:
		return append(out, fesc, tfend)
	case fesc:
		return append(out, fesc, tfesc)
	default:
		return append(out, b)
	}
}

// Decoder extracts KISS frames from a byte stream that may split or merge
// frames arbitrarily.
type Decoder struct {
	buf     []byte
	inFrame bool
	escaped bool
	max     int
}

// NewDecoder returns a decoder that discards frames longer than max bytes
// (zero means unbounded).
func NewDecoder(max int) *Decoder {
	return &Decoder{max: max}
}

// Feed consumes p and calls emit for every complete, non-empty frame. The
// payload slice is only valid during the call.
func (d *Decoder) Feed(p []byte, emit func(cmd byte, payload []byte)) {
	for _, b := range p {
		if b == fend {
			if d.inFrame && len(d.buf) > 0 {
				emit(d.buf[0], d.buf[1:])
			}
			d.buf = d.buf[:0]
			d.inFrame = true
			d.escaped = false
			continue
		}
		if !d.inFrame {
			continue
		}

		if d.escaped {
			d.escaped = false
			switch b {
			case tfend:
				b = fend
			case tfesc:
				b = fesc
			default:
				// Protocol violation: drop the frame.
				d.inFrame = false
				d.buf = d.buf[:0]
				continue
			}
		} else if b == fesc {
			d.escaped = true
			continue
		}

		if d.max > 0 && len(d.buf) > d.max {
			d.inFrame = false
			d.buf = d.buf[:0]
			continue
		}
		d.buf = append(d.buf, b)
	}
}
