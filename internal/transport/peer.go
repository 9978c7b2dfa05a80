package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rftun/internal/link"
)

// DefaultSTUN is used when the STUN list is nil. An empty, non-nil list
// restricts ICE to host candidates.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

var channelLabels = [2]string{link.LinkA: "link-a", link.LinkB: "link-b"}

// newPeerConnection creates a PeerConnection using the given STUN servers.
func newPeerConnection(stun []string) (*webrtc.PeerConnection, error) {
	if stun == nil {
		stun = DefaultSTUN
	}
	var config webrtc.Configuration
	if len(stun) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stun}}
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates the pre-negotiated channel emulating one radio link.
// The stream id equals the link id so both sides agree without OnDataChannel.
// Frames are never retransmitted or reordered by SCTP: the channel loses
// frames the way a radio does.
func newDataChannel(pc *webrtc.PeerConnection, id link.ID) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	retransmits := uint16(0)
	sid := uint16(id)

	return pc.CreateDataChannel(channelLabels[id], &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &sid,
	})
}
