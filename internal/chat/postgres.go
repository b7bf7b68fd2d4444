package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// PostgresStore keeps sessions and messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle. The
// schema is applied by storage.Migrate.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateSession inserts a new session row.
func (s *PostgresStore) CreateSession(ctx context.Context, a, b Participant) (string, error) {
	id := uuid.New().String()

	const query = `
		INSERT INTO sessions (id, user1_ip, user2_ip, user1_name, user2_name, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`
	if _, err := s.db.ExecContext(ctx, query, id, a.Addr, b.Addr, a.Name, b.Name); err != nil {
		return "", fmt.Errorf("chat: create session: %w", err)
	}

	log.Printf("[chat] created session %s", id)
	return id, nil
}

// EndSession sets ended_at unless it is already set.
func (s *PostgresStore) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	const query = `UPDATE sessions SET ended_at = NOW() WHERE id = $1 AND ended_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("chat: end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[chat] ended session %s", sessionID)
	}
	return nil
}

// GetSession loads a session by ID. Returns nil if not found.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, nil
	}

	const query = `
		SELECT id, user1_ip, user2_ip, user1_name, user2_name, created_at, ended_at
		FROM sessions
		WHERE id = $1`

	var (
		sess    Session
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &sess.User1Addr, &sess.User2Addr,
		&sess.User1Name, &sess.User2Name,
		&sess.CreatedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get session: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

// SaveMessage inserts a message row.
func (s *PostgresStore) SaveMessage(ctx context.Context, sessionID, senderAddr, text string) (string, error) {
	id := uuid.New().String()

	const query = `
		INSERT INTO messages (id, session_id, sender_ip, message, created_at)
		VALUES ($1, $2, $3, $4, NOW())`
	if _, err := s.db.ExecContext(ctx, query, id, sessionID, senderAddr, text); err != nil {
		return "", fmt.Errorf("chat: save message: %w", err)
	}
	return id, nil
}

// ListMessages returns the messages of a session ordered by creation time.
// Rows inserted within the same transaction timestamp keep insertion order.
func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	const query = `
		SELECT id, session_id, sender_ip, message, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderAddr, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	return msgs, nil
}
