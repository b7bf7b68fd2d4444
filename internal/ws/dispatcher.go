package ws

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/randomchips/chat-app/internal/metrics"
	"github.com/randomchips/chat-app/internal/protocol"
	"github.com/randomchips/chat-app/internal/ratelimit"
)

// MessageHandler handles one decoded client frame.
type MessageHandler func(conn *Connection, msg protocol.Inbound)

// RateLimiter is the subset of ratelimit.Limiter the dispatcher uses.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
}

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers ping itself, applies per-type rate
// limits, and replies with an error frame for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	limits   map[string]ratelimit.Rule
	limiter  RateLimiter
	timeout  time.Duration
}

// NewMessageDispatcher creates a MessageDispatcher. A nil limiter disables
// rate limiting.
func NewMessageDispatcher(limiter RateLimiter) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		limits:   make(map[string]ratelimit.Rule),
		limiter:  limiter,
		timeout:  time.Second,
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Limit applies rule to every message of msgType, counted per connection.
func (d *MessageDispatcher) Limit(msgType string, rule ratelimit.Rule) {
	d.limits[msgType] = rule
}

// Dispatch is the server's onMessage callback. It answers ping itself and
// routes every other type to its registered handler, subject to the type's
// rate limit.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		d.unsupported(conn, msg.Type)
		return
	case err != nil:
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendError(conn, protocol.CodeInvalidMessage, "invalid message format")
		return
	}

	msgType := msg.Type
	if msgType == protocol.TypePing {
		d.send(conn, protocol.TypePong, nil)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.unsupported(conn, msgType)
		return
	}

	if rule, limited := d.limits[msgType]; limited && !d.allow(conn, rule) {
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) unsupported(conn *Connection, msgType string) {
	log.Printf("ws: unsupported message type=%q conn=%s", msgType, conn.ID)
	d.sendError(conn, protocol.CodeBadRequest, "unsupported message type")
}

// allow checks rule for conn and sends rate_limited when it is exhausted.
// Limiter failures let the message through.
func (d *MessageDispatcher) allow(conn *Connection, rule ratelimit.Rule) bool {
	if d.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ok, err := d.limiter.Allow(ctx, conn.ID, rule)
	if err != nil {
		log.Printf("ws: rate limit check failed conn=%s: %v", conn.ID, err)
		return true
	}
	if ok {
		return true
	}

	metrics.RateLimited.WithLabelValues(rule.Key).Inc()
	retry := d.limiter.RetryAfter(ctx, conn.ID, rule)
	d.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(math.Ceil(retry.Seconds())),
	})
	return false
}

func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	d.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (d *MessageDispatcher) send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: failed to build %s conn=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send %s conn=%s: %v", msgType, conn.ID, err)
	}
}
