// Package signaling pairs two nodes of the emulated radio driver: a
// WebSocket exchange of SDP and ICE candidates that ends with both
// DataChannels of a transport.Transport open.
package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rftun/internal/transport"
	"github.com/1ureka/rftun/internal/util"
)

// Options identifies the local node for signaling.
type Options struct {
	Node    uint8
	Network uint8
	STUN    []string
}

// EstablishAsHost executes the host-side signaling flow:
//  1. Start a WS server on listen
//  2. Wait for a client of the same network
//  3. Create a Transport and send the Offer
//  4. Exchange ICE candidates until both DataChannels are open
//  5. Close the WS server and connection
func EstablishAsHost(ctx context.Context, listen string, opts Options) (*transport.Transport, error) {
	srv := newServer(opts.Network)
	addr, err := srv.start(listen)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	util.LogInfo("signaling server listening on %s (network %d), waiting for peer...", addr, opts.Network)

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("peer connected from %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, opts, true)
}

// EstablishAsClient executes the client-side signaling flow: connect to the
// host's WS server, answer its Offer and exchange ICE candidates until both
// DataChannels are open.
func EstablishAsClient(ctx context.Context, wsURL string, opts Options) (*transport.Transport, error) {
	wsConn, err := connect(ctx, wsURL, opts.Network)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogInfo("WS connected: %s", wsURL)

	return exchange(ctx, wsConn, opts, false)
}

func exchange(ctx context.Context, wsConn *websocket.Conn, opts Options, offer bool) (*transport.Transport, error) {
	tr, err := transport.NewTransport(ctx, opts.Node, opts.STUN)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	s := &session{tr: tr, conn: wsConn, node: opts.Node}

	// Forward local candidates; best-effort.
	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			_ = s.candidate(c)
		}
	})

	// Exits when wsConn is closed by the caller.
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.watch()
	}()

	if offer {
		if err := s.describe(kindOffer); err != nil {
			tr.Close()
			return nil, fmt.Errorf("failed to send Offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogSuccess("emulated links to node %d established, closing WS", s.peer.Load())
		return tr, nil

	case err := <-errCh:
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}
