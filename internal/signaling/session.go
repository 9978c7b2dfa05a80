package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rftun/internal/transport"
)

// ErrAddressInUse is returned when the remote side announces the node id of
// the local side.
var ErrAddressInUse = errors.New("peer announced our node id")

type kind string

const (
	kindOffer     kind = "offer"
	kindAnswer    kind = "answer"
	kindCandidate kind = "candidate"
)

// envelope is one JSON message on the signaling WebSocket. Descriptions carry
// the sender's radio address so both ends can check they are distinct nodes.
type envelope struct {
	Kind      kind   `json:"kind"`
	Node      uint8  `json:"node"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// session drives one SDP/ICE exchange over a WebSocket for a transport.
// Candidates that overtake the remote description are held until it is set.
type session struct {
	tr   *transport.Transport
	conn *websocket.Conn
	node uint8

	wmu sync.Mutex

	peer      atomic.Uint32 // remote node id, set with the remote description
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (s *session) write(e envelope) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	e.Node = s.node
	return s.conn.WriteJSON(e)
}

// describe creates the local offer or answer, applies it and sends it.
func (s *session) describe(k kind) error {
	create := s.tr.CreateOffer
	if k == kindAnswer {
		create = s.tr.CreateAnswer
	}
	desc, err := create()
	if err != nil {
		return fmt.Errorf("create %s: %w", k, err)
	}
	if err := s.tr.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("apply local %s: %w", k, err)
	}
	return s.write(envelope{Kind: k, SDP: desc.SDP})
}

// candidate forwards one local ICE candidate.
func (s *session) candidate(c *webrtc.ICECandidate) error {
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		return err
	}
	return s.write(envelope{Kind: kindCandidate, Candidate: string(data)})
}

func (s *session) setRemote(from uint8, sdp webrtc.SessionDescription) error {
	if from == s.node {
		return fmt.Errorf("%w: %d", ErrAddressInUse, from)
	}
	s.peer.Store(uint32(from))
	if err := s.tr.SetRemoteDescription(sdp); err != nil {
		return err
	}
	s.remoteSet = true
	for _, c := range s.pending {
		if err := s.tr.AddICECandidate(c); err != nil {
			return err
		}
	}
	s.pending = nil
	return nil
}

// watch applies inbound messages, answering an offer, until the WebSocket
// fails or is closed.
func (s *session) watch() error {
	for {
		var e envelope
		if err := s.conn.ReadJSON(&e); err != nil {
			return fmt.Errorf("read WS message: %w", err)
		}

		switch e.Kind {
		case kindOffer:
			if err := s.setRemote(e.Node, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: e.SDP}); err != nil {
				return err
			}
			if err := s.describe(kindAnswer); err != nil {
				return err
			}

		case kindAnswer:
			if err := s.setRemote(e.Node, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: e.SDP}); err != nil {
				return err
			}

		case kindCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(e.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if !s.remoteSet {
				s.pending = append(s.pending, init)
				continue
			}
			if err := s.tr.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}
