package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/psp/server"
)

// Subscribe connects to the server's event stream and delivers events on
// the returned channel until ctx is cancelled or the connection drops.
// An empty session list subscribes to every session. The channel is
// closed when the subscription ends.
func (c *Client) Subscribe(ctx context.Context, sessions ...string) (<-chan server.EventMessage, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", wsURL, err)
	}

	if len(sessions) > 0 {
		msg := server.SubscribeMessage{Action: "subscribe", Sessions: sessions}
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("client: subscribe: %w", err)
		}
	}

	events := make(chan server.EventMessage, 32)

	// The reader owns the connection; cancellation closes it to unblock
	// the blocking read.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		for {
			var msg server.EventMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case events <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
