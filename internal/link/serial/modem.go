// Package serial drives a LoRa modem attached over a serial line. The host
// and the modem exchange KISS frames:
//
//	host -> modem  CmdData        [dest][payload...]
//	host -> modem  CmdSetHardware [freq u32 BE][node][network]
//	modem -> host  CmdData        [sender][rssi i8][payload...]
package serial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	goserial "go.bug.st/serial"

	"github.com/1ureka/rftun/internal/link"
	"github.com/1ureka/rftun/internal/util"
)

const (
	readTimeout = 100 * time.Millisecond
	inboxDepth  = 32
	maxFrame    = 512
)

// Hardware is the radio configuration pushed to the modem at start-up.
type Hardware struct {
	FrequencyHz uint32
	Node        uint8
	Network     uint8
}

func (h Hardware) encode() []byte {
	b := make([]byte, 6)
	binary.BigEndian.PutUint32(b, h.FrequencyHz)
	b[4] = h.Node
	b[5] = h.Network
	return b
}

// Modem is a link.Radio backed by a KISS modem.
type Modem struct {
	name  string
	port  io.ReadWriteCloser
	inbox *link.Inbox

	wmu     sync.Mutex
	closed  atomic.Bool
	readErr atomic.Pointer[error]
	done    chan struct{}
}

var _ link.Radio = (*Modem)(nil)

// Open opens the serial device at name and configures the modem behind it.
func Open(name string, baud int, hw Hardware) (*Modem, error) {
	port, err := goserial.Open(name, &goserial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", link.ErrLinkUnavailable, name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %s read timeout: %v", link.ErrLinkUnavailable, name, err)
	}
	util.LogInfo("opened modem %s at %d baud (%.3f MHz, node %d, network %d)",
		name, baud, float64(hw.FrequencyHz)/1e6, hw.Node, hw.Network)
	return NewModem(name, port, hw)
}

// NewModem configures the modem on an already open port and starts reading
// from it. The modem owns port from here on.
func NewModem(name string, port io.ReadWriteCloser, hw Hardware) (*Modem, error) {
	m := &Modem{
		name:  name,
		port:  port,
		inbox: link.NewInbox(inboxDepth),
		done:  make(chan struct{}),
	}
	if err := m.write(CmdSetHardware, hw.encode()); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: configure %s: %v", link.ErrLinkUnavailable, name, err)
	}
	go m.readLoop()
	return m, nil
}

func (m *Modem) write(cmd byte, payload []byte) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	_, err := m.port.Write(Encode(cmd, payload))
	return err
}

func (m *Modem) Transmit(to uint8, payload []byte) error {
	if m.closed.Load() {
		return io.ErrClosedPipe
	}
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, to)
	frame = append(frame, payload...)
	return m.write(CmdData, frame)
}

func (m *Modem) ArmReceive() error {
	if m.closed.Load() {
		return io.ErrClosedPipe
	}
	if errp := m.readErr.Load(); errp != nil {
		return *errp
	}
	m.inbox.Arm()
	return nil
}

func (m *Modem) ReceiveReady() bool { return m.inbox.Ready() }

func (m *Modem) Reception() link.Reception { return m.inbox.Reception() }

// Close stops the reader and closes the serial port.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := m.port.Close()
	<-m.done
	return err
}

func (m *Modem) readLoop() {
	defer close(m.done)

	dec := NewDecoder(maxFrame)
	buf := make([]byte, 256)
	for {
		n, err := m.port.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n], m.handle)
		}
		if err != nil {
			if m.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			util.LogError("modem %s: read failed: %v", m.name, err)
			m.readErr.Store(&err)
			return
		}
	}
}

func (m *Modem) handle(cmd byte, payload []byte) {
	if cmd != CmdData {
		util.LogDebug("modem %s: ignoring command 0x%02x", m.name, cmd)
		return
	}
	if len(payload) < 2 {
		util.LogDebug("modem %s: short frame (%d bytes)", m.name, len(payload))
		return
	}
	rec := link.Reception{
		Sender:  payload[0],
		RSSI:    int(int8(payload[1])),
		Payload: append([]byte(nil), payload[2:]...),
	}
	if !m.inbox.Deliver(rec) {
		util.LogWarning("modem %s: receive queue full, frame from %d dropped", m.name, rec.Sender)
	}
}
