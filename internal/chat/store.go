// Package chat records paired chat sessions and the messages exchanged in
// them. Rows are append-only apart from a session's end timestamp, which is
// written once.
package chat

import (
	"context"
	"time"
)

// Session is one pairing of two connections from creation to end.
type Session struct {
	ID        string     `json:"id"`
	User1Addr string     `json:"user1_ip"`
	User2Addr string     `json:"user2_ip"`
	User1Name string     `json:"user1_name"`
	User2Name string     `json:"user2_name"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the session has an end timestamp.
func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// OtherParticipant returns the address of the participant that is not addr.
// ok is false when addr matches neither stored participant.
func (s *Session) OtherParticipant(addr string) (other string, ok bool) {
	switch addr {
	case s.User1Addr:
		return s.User2Addr, true
	case s.User2Addr:
		return s.User1Addr, true
	}
	return "", false
}

// Message is one chat line persisted within a session.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderAddr string    `json:"sender_ip"`
	Text       string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Participant identifies one side of a new session.
type Participant struct {
	Addr string
	Name string
}

// Store is the durable session/message contract.
type Store interface {
	// CreateSession inserts a new session and returns its generated ID.
	CreateSession(ctx context.Context, a, b Participant) (string, error)
	// EndSession stamps the session's end time. Empty, unknown or already
	// ended IDs are a no-op.
	EndSession(ctx context.Context, sessionID string) error
	// GetSession returns the session, or nil if not found.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// SaveMessage appends a message and returns its generated ID.
	SaveMessage(ctx context.Context, sessionID, senderAddr, text string) (string, error)
	// ListMessages returns the session's messages, oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
}
