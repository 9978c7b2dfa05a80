package signaling

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
)

// withNetwork adds the network id query parameter to rawURL.
func withNetwork(rawURL string, network uint8) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid signaling URL %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(networkParam, strconv.Itoa(int(network)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect dials the host's signaling endpoint, e.g. ws://host:8642/ws.
func connect(ctx context.Context, rawURL string, network uint8) (*websocket.Conn, error) {
	target, err := withNetwork(rawURL, network)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}
