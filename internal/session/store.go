package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for presence hashes.
	KeyPrefix = "presence:"

	// serverPrefix keys the set of connection ids each server instance
	// has registered.
	serverPrefix = "presence-server:"

	// TTL bounds how long a presence hash outlives its last refresh.
	TTL = time.Hour

	// Status values mirrored from the hub state machine.
	StatusIdle      = "idle"
	StatusSearching = "searching"
	StatusConnected = "connected"
)

// Presence is one connection's mirrored state.
type Presence struct {
	ID         string `redis:"id"`
	Status     string `redis:"status"`
	PartnerID  string `redis:"partner_id"` // empty unless connected
	SessionID  string `redis:"session_id"` // chat session id, empty unless connected
	Addr       string `redis:"addr"`
	Name       string `redis:"name"`
	Server     string `redis:"server"` // owning wsserver instance
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store writes presence hashes for one server instance.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis at addr and verifies the connection.
func NewStore(addr, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return NewStoreWithClient(client, serverName), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

func (s *Store) serverKey() string { return serverPrefix + s.serverName }

// Register records a new connection as idle and indexes it under this
// server instance.
func (s *Store) Register(ctx context.Context, connID, addr, name string) error {
	now := time.Now().Unix()
	p := Presence{
		ID:         connID,
		Status:     StatusIdle,
		Addr:       addr,
		Name:       name,
		Server:     s.serverName,
		CreatedAt:  now,
		LastActive: now,
	}
	key := KeyPrefix + connID

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, p)
		pipe.Expire(ctx, key, TTL)
		pipe.SAdd(ctx, s.serverKey(), connID)
		pipe.Expire(ctx, s.serverKey(), TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: register %s: %w", connID, err)
	}
	return nil
}

// SetStatus records a state transition and refreshes the TTL. partnerID and
// sessionID are cleared for any status other than connected.
func (s *Store) SetStatus(ctx context.Context, connID, status, partnerID, sessionID string) error {
	if status != StatusConnected {
		partnerID, sessionID = "", ""
	}
	key := KeyPrefix + connID

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", status,
			"partner_id", partnerID,
			"session_id", sessionID,
			"last_active", time.Now().Unix(),
		)
		pipe.Expire(ctx, key, TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: set status %s: %w", connID, err)
	}
	return nil
}

// Get returns the presence for connID, or nil if there is none.
func (s *Store) Get(ctx context.Context, connID string) (*Presence, error) {
	var p Presence
	if err := s.client.HGetAll(ctx, KeyPrefix+connID).Scan(&p); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", connID, err)
	}
	if p.ID == "" {
		return nil, nil
	}
	return &p, nil
}

// RefreshTTL extends the lifetime of connID's presence and of the server
// index that lists it.
func (s *Store) RefreshTTL(ctx context.Context, connID string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, KeyPrefix+connID, TTL)
		pipe.Expire(ctx, s.serverKey(), TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: refresh %s: %w", connID, err)
	}
	return nil
}

// Remove deletes connID's presence.
func (s *Store) Remove(ctx context.Context, connID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyPrefix+connID)
		pipe.SRem(ctx, s.serverKey(), connID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: remove %s: %w", connID, err)
	}
	return nil
}

// Purge deletes every presence this server instance registered. It is run
// at startup so hashes left by a crashed process with the same server name
// do not linger until their TTL.
func (s *Store) Purge(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, s.serverKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("session: purge: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, KeyPrefix+id)
	}
	keys = append(keys, s.serverKey())
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("session: purge: %w", err)
	}
	return len(ids), nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
