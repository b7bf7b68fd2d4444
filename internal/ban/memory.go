package ban

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps bans in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	rows []Ban
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) FindActive(_ context.Context, address string, now time.Time) (*Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.activeIndex(address, now); i >= 0 {
		b := r.rows[i]
		return &b, nil
	}
	return nil, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, candidate Ban, now time.Time) (Ban, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.activeIndex(candidate.Address, now); i >= 0 {
		r.rows[i].BannedUntil = candidate.BannedUntil
		r.rows[i].Reason = candidate.Reason
		return r.rows[i], true, nil
	}
	r.rows = append(r.rows, candidate)
	return candidate, false, nil
}

func (r *MemoryRepository) DeleteByAddress(_ context.Context, address string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteWhere(func(b Ban) bool { return b.Address == address }), nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteWhere(func(b Ban) bool { return b.BannedUntil.Before(now) }), nil
}

// Len returns the number of stored rows, active or not.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *MemoryRepository) activeIndex(address string, now time.Time) int {
	for i := range r.rows {
		if r.rows[i].Address == address && r.rows[i].Active(now) {
			return i
		}
	}
	return -1
}

func (r *MemoryRepository) deleteWhere(match func(Ban) bool) int64 {
	kept := r.rows[:0]
	var removed int64
	for _, b := range r.rows {
		if match(b) {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	r.rows = kept
	return removed
}
