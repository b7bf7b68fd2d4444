// Package client provides a reusable WebSocket load test client for the
// RandomChips chat server. It connects using gobwas/ws (the same library the
// server uses), records the connection id from session_created, and delivers
// every other server frame on an inbox channel.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeSearch     = "search"
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeNext       = "next"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated       = "session_created"
	TypeSearching            = "searching"
	TypeConnected            = "connected"
	TypePartnerTyping        = "partner_typing"
	TypePartnerStoppedTyping = "partner_stopped_typing"
	TypePartnerDisconnected  = "partner_disconnected"
	TypeBanned               = "banned"
	TypeRateLimited          = "rate_limited"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Event is one server frame.
type Event struct {
	Type       string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single simulated user connection.
type Client struct {
	conn   net.Conn
	reader io.Reader

	mu        sync.Mutex
	connID    string
	metrics   Metrics
	writeMu   sync.Mutex
	inbox     chan Event
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New dials serverURL with name as the userName query parameter and starts
// the read loop.
func New(ctx context.Context, serverURL, name string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if name != "" {
		q := u.Query()
		q.Set("userName", name)
		u.RawQuery = q.Encode()
	}

	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		reader: conn,
		inbox:  make(chan Event, 256),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	if br != nil {
		c.reader = br
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// Send marshals msg and writes it as a text frame. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return err
}

// Search asks the server for a partner.
func (c *Client) Search() error { return c.Send(map[string]string{"type": TypeSearch}) }

// Next ends the current chat and searches again.
func (c *Client) Next() error { return c.Send(map[string]string{"type": TypeNext}) }

// Message sends a chat line to the current partner.
func (c *Client) Message(text string) error {
	return c.Send(map[string]string{"type": TypeMessage, "text": text})
}

// Typing sends typing or stop_typing.
func (c *Client) Typing(on bool) error {
	t := TypeStopTyping
	if on {
		t = TypeTyping
	}
	return c.Send(map[string]string{"type": t})
}

// Inbox delivers every server frame except session_created. It is closed
// when the read loop exits.
func (c *Client) Inbox() <-chan Event { return c.inbox }

// WaitForSession blocks until session_created has been received.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before session was created")
	case <-c.ready:
		return nil
	}
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ConnID returns the id from session_created, or "" before it arrives.
func (c *Client) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	rw := struct {
		io.Reader
		io.Writer
	}{bufio.NewReader(c.reader), c.conn}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}
		now := time.Now()

		var envelope struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		if envelope.Type == TypeSessionCreated && c.connID == "" {
			c.connID = envelope.SessionID
			close(c.ready)
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		select {
		case c.inbox <- Event{Type: envelope.Type, Raw: data, ReceivedAt: now}:
		case <-c.done:
			return
		}
	}
}
