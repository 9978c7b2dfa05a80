// Package transport emulates the two radio links of a node with a WebRTC
// PeerConnection. Each link is an unordered DataChannel without
// retransmissions, so frames may be lost or reordered as on air.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rftun/internal/link"
	"github.com/1ureka/rftun/internal/util"
)

// Transport wraps a single PeerConnection and the two DataChannels that
// stand in for links A and B.
//
// Its lifecycle is governed by the DataChannel states and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type Transport struct {
	pc     *webrtc.PeerConnection
	radios [2]*channelRadio

	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewTransport creates a Transport for node backed by a new PeerConnection.
// The caller performs signaling through the exposed methods, then hands
// Radio(link.LinkA) and Radio(link.LinkB) to a link.Multiplexer.
func NewTransport(ctx context.Context, node uint8, stun []string) (*Transport, error) {
	pc, err := newPeerConnection(stun)
	if err != nil {
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		pc:         pc,
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// Both channels open -> ready.
	var pending atomic.Int32
	pending.Store(2)
	for _, id := range []link.ID{link.LinkA, link.LinkB} {
		dc, err := newDataChannel(pc, id)
		if err != nil {
			tCancel()
			pc.Close()
			return nil, err
		}
		r := newChannelRadio(id, node, dc)
		t.radios[id] = r

		var openOnce sync.Once
		dc.OnOpen(func() {
			openOnce.Do(func() {
				r.open.Store(true)
				util.LogDebug("link %s channel open", id)
				if pending.Add(-1) == 0 {
					close(t.openSignal)
				}
			})
		})

		// DC close -> cancel transport context.
		dc.OnClose(func() {
			r.open.Store(false)
			util.LogInfo("link %s channel closed", id)
			tCancel()
		})
	}

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when both DataChannels are open.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down
// (a DataChannel closed or the parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Radio returns the emulated radio of one link.
func (t *Transport) Radio(id link.ID) link.Radio {
	return t.radios[id]
}

// Close shuts down both DataChannels and the PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(t.radios[link.LinkA].Close(), t.radios[link.LinkB].Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}
