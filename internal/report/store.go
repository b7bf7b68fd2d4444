package report

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PostgresRepository stores reports in the reports table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository backed by the given database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes r. ChatLog and Location are stored as JSONB.
func (s *PostgresRepository) Insert(ctx context.Context, r Report) error {
	const query = `
		INSERT INTO reports (id, reporter_ip, reported_ip, session_id, reason, chat_logs, location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.ReporterAddr,
		r.ReportedAddr,
		r.SessionID,
		r.Reason,
		[]byte(r.ChatLog),
		[]byte(r.Location),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (s *PostgresRepository) CountSince(ctx context.Context, address string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reports
		WHERE reported_ip = $1
		  AND created_at >= $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, address, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (s *PostgresRepository) ListByAddress(ctx context.Context, address string) ([]Report, error) {
	const query = `
		SELECT id, reporter_ip, reported_ip, session_id, reason, chat_logs, location, created_at
		FROM reports
		WHERE reported_ip = $1
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r                 Report
			chatLog, location []byte
		)
		if err := rows.Scan(&r.ID, &r.ReporterAddr, &r.ReportedAddr, &r.SessionID, &r.Reason, &chatLog, &location, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r.ChatLog = chatLog
		r.Location = location
		out = append(out, r)
	}
	return out, rows.Err()
}

// MemoryRepository keeps reports in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	reports []Report
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Insert(_ context.Context, r Report) error {
	m.mu.Lock()
	m.reports = append(m.reports, r)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) CountSince(_ context.Context, address string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.reports {
		if r.ReportedAddr == address && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListByAddress(_ context.Context, address string) ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Report
	for _, r := range m.reports {
		if r.ReportedAddr == address {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
