package signaling

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWithNetwork(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"ws://127.0.0.1:8642/ws", "ws://127.0.0.1:8642/ws?network=7"},
		{"wss://relay.example/ws?x=1", "wss://relay.example/ws?network=7&x=1"},
	}
	for _, tc := range testCases {
		got, err := withNetwork(tc.in, 7)
		if err != nil {
			t.Fatalf("withNetwork(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("withNetwork(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestServerChecksNetwork(t *testing.T) {
	srv := newServer(42)
	addr, err := srv.start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer srv.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := (&url.URL{Scheme: "ws", Host: addr.String(), Path: "/ws"}).String()

	if conn, err := connect(ctx, wsURL, 41); err == nil {
		conn.Close()
		t.Fatal("client of another network was accepted")
	}

	conn, err := connect(ctx, wsURL, 42)
	if err != nil {
		t.Fatalf("client of the same network rejected: %v", err)
	}
	defer conn.Close()

	accepted, err := srv.waitForClient(ctx)
	if err != nil {
		t.Fatal(err)
	}
	accepted.Close()
}

func TestServerWaitHonorsContext(t *testing.T) {
	srv := newServer(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := srv.waitForClient(ctx); err == nil {
		t.Error("waitForClient should fail on a cancelled context")
	}
}

// wsPair connects a client to a fresh server and returns both ends.
func wsPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	srv := newServer(9)
	addr, err := srv.start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := (&url.URL{Scheme: "ws", Host: addr.String(), Path: "/ws"}).String()

	client, err = connect(ctx, wsURL, 9)
	if err != nil {
		t.Fatal(err)
	}
	server, err = srv.waitForClient(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestSessionRejectsOwnNodeID(t *testing.T) {
	for _, k := range []kind{kindOffer, kindAnswer} {
		t.Run(string(k), func(t *testing.T) {
			client, server := wsPair(t)

			s := &session{conn: server, node: 4}
			errCh := make(chan error, 1)
			go func() { errCh <- s.watch() }()

			if err := client.WriteJSON(envelope{Kind: k, Node: 4, SDP: "v=0"}); err != nil {
				t.Fatal(err)
			}
			select {
			case err := <-errCh:
				if !errors.Is(err, ErrAddressInUse) {
					t.Errorf("watch = %v, want ErrAddressInUse", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("watch did not stop")
			}
		})
	}
}

func TestSessionHoldsEarlyCandidates(t *testing.T) {
	client, server := wsPair(t)

	s := &session{conn: server, node: 1}
	errCh := make(chan error, 1)
	go func() { errCh <- s.watch() }()

	for _, c := range []string{
		`{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}`,
		`{"candidate":"candidate:2 1 udp 2130706431 10.0.0.2 5000 typ host"}`,
	} {
		if err := client.WriteJSON(envelope{Kind: kindCandidate, Node: 2, Candidate: c}); err != nil {
			t.Fatal(err)
		}
	}
	// A malformed candidate ends the session once the earlier ones are held.
	if err := client.WriteJSON(envelope{Kind: kindCandidate, Node: 2, Candidate: "{"}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("watch returned nil on a malformed candidate")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	if len(s.pending) != 2 || s.remoteSet {
		t.Errorf("pending = %d, remoteSet = %v; want 2 held candidates", len(s.pending), s.remoteSet)
	}
}
