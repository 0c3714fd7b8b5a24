package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// wsConn adapts one websocket to the game package's Conn interface. Writes
// come from room goroutines with their own lifetimes, so each send carries
// its own timeout instead of the request context.
type wsConn struct {
	socket *websocket.Conn
}

func (c *wsConn) Send(eventType string, payload any) error {
	data, err := json.Marshal(ServerMessage{
		Type:    eventType,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.socket.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) {
	_ = c.socket.Close(websocket.StatusPolicyViolation, reason)
}
