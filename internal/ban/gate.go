// Package ban provides temporary address bans. A ban is active while its
// BannedUntil lies in the future; each address has at most one active ban,
// and banning an already-banned address extends that ban instead of adding
// a second row.
package ban

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Ban is one ban row.
type Ban struct {
	ID          string    `json:"id"`
	Address     string    `json:"ip_address"`
	Reason      string    `json:"reason"`
	BannedUntil time.Time `json:"banned_until"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the ban is in force at now.
func (b *Ban) Active(now time.Time) bool {
	return b.BannedUntil.After(now)
}

// Repository persists bans. Upsert must be atomic per address: if an active
// ban exists at now it is extended to candidate.BannedUntil with
// candidate.Reason and returned with extended=true, otherwise candidate is
// inserted.
type Repository interface {
	FindActive(ctx context.Context, address string, now time.Time) (*Ban, error)
	Upsert(ctx context.Context, candidate Ban, now time.Time) (saved Ban, extended bool, err error)
	DeleteByAddress(ctx context.Context, address string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Gate answers whether an address is banned and records bans.
type Gate struct {
	repo Repository
	now  func() time.Time
}

// NewGate creates a Gate over repo using the wall clock.
func NewGate(repo Repository) *Gate {
	return &Gate{repo: repo, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// IsBanned reports whether address has an active ban.
func (g *Gate) IsBanned(ctx context.Context, address string) (bool, error) {
	b, err := g.repo.FindActive(ctx, address, g.now())
	if err != nil {
		return false, fmt.Errorf("ban: is banned: %w", err)
	}
	return b != nil, nil
}

// Active returns the active ban for address, or nil.
func (g *Gate) Active(ctx context.Context, address string) (*Ban, error) {
	b, err := g.repo.FindActive(ctx, address, g.now())
	if err != nil {
		return nil, fmt.Errorf("ban: find active: %w", err)
	}
	return b, nil
}

// Ban bans address for duration. An active ban is extended to now+duration
// and its reason overwritten. Returns the ID of the new or extended ban.
func (g *Gate) Ban(ctx context.Context, address, reason string, duration time.Duration) (string, error) {
	now := g.now()
	candidate := Ban{
		ID:          uuid.New().String(),
		Address:     address,
		Reason:      reason,
		BannedUntil: now.Add(duration),
		CreatedAt:   now,
	}

	saved, extended, err := g.repo.Upsert(ctx, candidate, now)
	if err != nil {
		return "", fmt.Errorf("ban: upsert: %w", err)
	}

	if extended {
		log.Printf("[ban] extended ban for %s until %s (%s)", address, saved.BannedUntil.Format(time.RFC3339), reason)
	} else {
		log.Printf("[ban] banned %s until %s (%s)", address, saved.BannedUntil.Format(time.RFC3339), reason)
	}
	return saved.ID, nil
}

// Unban deletes every ban row for address, active or not.
func (g *Gate) Unban(ctx context.Context, address string) error {
	n, err := g.repo.DeleteByAddress(ctx, address)
	if err != nil {
		return fmt.Errorf("ban: unban: %w", err)
	}
	log.Printf("[ban] unbanned %s (%d rows)", address, n)
	return nil
}

// CleanupExpired deletes bans whose BannedUntil has passed. IsBanned already
// ignores expired rows, so this only reclaims space.
func (g *Gate) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := g.repo.DeleteExpired(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("ban: cleanup: %w", err)
	}
	log.Printf("[ban] cleaned up %d expired bans", n)
	return n, nil
}
