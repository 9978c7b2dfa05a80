package signaling

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

// networkParam carries the radio network id in the signaling URL. Nodes of
// different networks never pair, as their radios would not hear each other.
const networkParam = "network"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// server is the host-side WebSocket server used during signaling.
type server struct {
	network  uint8
	listener net.Listener
	connCh   chan *websocket.Conn
}

func newServer(network uint8) *server {
	return &server{
		network: network,
		connCh:  make(chan *websocket.Conn, 1),
	}
}

// start begins listening on addr (":0" picks a free port) and returns the
// bound address.
func (s *server) start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return listener.Addr(), nil
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	network, err := strconv.ParseUint(r.URL.Query().Get(networkParam), 10, 8)
	if err != nil || uint8(network) != s.network {
		http.Error(w, "network id mismatch", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept the first client.
	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// waitForClient blocks until a client connects or ctx is cancelled.
func (s *server) waitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close shuts down the listener, preventing new connections.
func (s *server) close() {
	if s.listener != nil {
		s.listener.Close()
	}
}
