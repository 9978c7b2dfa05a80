package transport

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rftun/internal/link"
	"github.com/1ureka/rftun/internal/util"
)

const (
	highWaterMark = 64 * 1024 // drop frames while bufferedAmount exceeds this
	lowWaterMark  = 16 * 1024 // accept frames again once it drains below this
	inboxDepth    = 64
	addrSize      = 2 // [from][to] in front of every payload
)

var errChannelClosed = errors.New("data channel not open")

// encodeFrame prepends the emulated radio addressing to payload.
func encodeFrame(from, to uint8, payload []byte) []byte {
	b := make([]byte, 0, addrSize+len(payload))
	b = append(b, from, to)
	return append(b, payload...)
}

// decodeFrame splits an emulated radio frame.
func decodeFrame(b []byte) (from, to uint8, payload []byte, err error) {
	if len(b) < addrSize {
		return 0, 0, nil, fmt.Errorf("short frame (%d bytes)", len(b))
	}
	return b[0], b[1], b[2:], nil
}

// channelRadio is a link.Radio carried by one DataChannel. Like a shared
// radio band, every frame carries sender and destination addresses and the
// receiver discards frames addressed to other nodes.
type channelRadio struct {
	id    link.ID
	node  uint8
	dc    *webrtc.DataChannel
	inbox *link.Inbox

	open      atomic.Bool
	congested atomic.Bool
}

var _ link.Radio = (*channelRadio)(nil)

func newChannelRadio(id link.ID, node uint8, dc *webrtc.DataChannel) *channelRadio {
	r := &channelRadio{id: id, node: node, dc: dc, inbox: link.NewInbox(inboxDepth)}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		r.congested.Store(false)
	})
	dc.OnMessage(r.handle)

	return r
}

func (r *channelRadio) handle(msg webrtc.DataChannelMessage) {
	from, to, payload, err := decodeFrame(msg.Data)
	if err != nil {
		util.LogDebug("link %s: %v", r.id, err)
		return
	}
	if to != r.node && to != link.Broadcast {
		return
	}
	rec := link.Reception{Sender: from, Payload: append([]byte(nil), payload...)}
	if !r.inbox.Deliver(rec) {
		util.LogDebug("link %s: receive queue full, frame from %d dropped", r.id, from)
	}
}

// Transmit never blocks: while the channel is congested frames are dropped,
// as an overloaded radio channel would lose them.
func (r *channelRadio) Transmit(to uint8, payload []byte) error {
	if !r.open.Load() {
		return errChannelClosed
	}
	if r.congested.Load() || r.dc.BufferedAmount() > uint64(highWaterMark) {
		r.congested.Store(true)
		util.LogDebug("link %s: congested, frame to %d dropped", r.id, to)
		return nil
	}
	return r.dc.Send(encodeFrame(r.node, to, payload))
}

func (r *channelRadio) ArmReceive() error {
	if !r.open.Load() {
		return errChannelClosed
	}
	r.inbox.Arm()
	return nil
}

func (r *channelRadio) ReceiveReady() bool { return r.inbox.Ready() }

// Reception reports no RSSI: the emulated channel has no signal strength.
func (r *channelRadio) Reception() link.Reception { return r.inbox.Reception() }

func (r *channelRadio) Close() error {
	r.open.Store(false)
	return r.dc.Close()
}
