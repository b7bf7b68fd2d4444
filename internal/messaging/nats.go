// Package messaging carries abuse events (reports filed, bans applied)
// from the chat server to the moderator over NATS. Payloads are JSON.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used across RandomChips services.
const (
	SubjectReportCreated = "report.created"
	SubjectBanApplied    = "ban.applied"
)

// ReportCreated is published after a report row is written.
type ReportCreated struct {
	ReportID     string `json:"report_id"`
	SessionID    string `json:"session_id"`
	ReportedAddr string `json:"reported_ip"`
	Reason       string `json:"reason"`
	Count        int    `json:"count"` // reports against the address in the window
	CreatedAt    int64  `json:"created_at"`
}

// BanApplied is published after an automatic ban.
type BanApplied struct {
	BanID       string `json:"ban_id"`
	Address     string `json:"ip_address"`
	Reason      string `json:"reason"`
	BannedUntil int64  `json:"banned_until"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name shown in server monitoring
	Queue         string        // queue group for subscriptions, empty for fan-out
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // -1 retries forever
	DrainTimeout  time.Duration // bound on Close
}

// DefaultNATSConfig returns settings for a long-running service.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "randomchips",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
		DrainTimeout:  5 * time.Second,
	}
}

// NATSClient publishes and subscribes on one NATS connection.
type NATSClient struct {
	conn  *nats.Conn
	queue string
}

// NewNATSClient connects to NATS. The initial connection must succeed;
// later outages are retried in the background and logged.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	nc, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DrainTimeout(config.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[nats] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Printf("[nats] %s: %v", sub.Subject, err)
				return
			}
			log.Printf("[nats] %v", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect %s: %w", config.URL, err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &NATSClient{conn: nc, queue: config.Queue}, nil
}

// Publish sends data on subject. Delivery is at most once.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush(timeout time.Duration) error {
	return c.conn.FlushTimeout(timeout)
}

// Close drains subscriptions and the connection, bounded by DrainTimeout.
func (c *NATSClient) Close() {
	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] drain: %v", err)
	}
}

// Handle subscribes handler to subject, decoding each payload as T.
// Payloads that do not decode are logged and skipped. Subscriptions join
// the client's queue group when one is configured, so several moderators
// split the stream instead of each seeing every event.
func Handle[T any](c *NATSClient, subject string, handler func(T)) error {
	cb := func(msg *nats.Msg) {
		var ev T
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad %s payload: %v", subject, err)
			return
		}
		handler(ev)
	}

	var err error
	if c.queue != "" {
		_, err = c.conn.QueueSubscribe(subject, c.queue, cb)
	} else {
		_, err = c.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}
	return nil
}
