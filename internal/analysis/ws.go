package analysis

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSClient talks to an analyzer exposed over a WebSocket: one binary PNG message
// out, one JSON message back. The connection is dialed lazily and dropped on any
// error so the next call redials.
type WSClient struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	log     *logrus.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSClient(url string, timeout time.Duration, log *logrus.Logger) *WSClient {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &WSClient{url: url, timeout: timeout, dialer: &dialer, log: log}
}

func (c *WSClient) Analyze(ctx context.Context, snap *types.Snapshot) types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return types.TransportError{Detail: "websocket dial failed", Err: err}
	}

	// Unblock a pending read when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := c.deadline(ctx)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		c.dropLocked()
		return types.TransportError{Detail: "websocket write failed", Err: err}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, snap.PNG()); err != nil {
		c.dropLocked()
		return types.TransportError{Detail: "websocket write failed", Err: err}
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		c.dropLocked()
		return types.TransportError{Detail: "websocket read failed", Err: err}
	}
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return types.TransportError{Detail: "websocket read failed", Err: err}
	}
	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return types.TransportError{Detail: fmt.Sprintf("unexpected websocket message type %d", messageType)}
	}

	if c.log != nil {
		c.log.WithField("snapshot_id", snap.ID().String()).Debug("websocket analysis received")
	}
	return Decode(data)
}

// Wake dials the endpoint ahead of the first capture.
func (c *WSClient) Wake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connectLocked(ctx)
	return err
}

// Close drops the connection, if any.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

func (c *WSClient) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
		if err != nil && c.log != nil {
			c.log.Warnf("Error sending pong: %v", err)
		}
		return nil
	})
	c.conn = conn
	return conn, nil
}

func (c *WSClient) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *WSClient) deadline(ctx context.Context) time.Time {
	var d time.Time
	if c.timeout > 0 {
		d = time.Now().Add(c.timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}
