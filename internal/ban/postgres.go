package ban

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepository stores bans in the bans table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectActive = `
	SELECT id, ip_address, reason, banned_until, created_at
	FROM bans
	WHERE ip_address = $1
	  AND banned_until > $2
	ORDER BY banned_until DESC
	LIMIT 1`

func (r *PostgresRepository) FindActive(ctx context.Context, address string, now time.Time) (*Ban, error) {
	var b Ban
	err := r.db.QueryRowContext(ctx, selectActive, address, now).
		Scan(&b.ID, &b.Address, &b.Reason, &b.BannedUntil, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Upsert serializes writers for the same address with a transaction-scoped
// advisory lock so that concurrent bans cannot create two active rows.
func (r *PostgresRepository) Upsert(ctx context.Context, candidate Ban, now time.Time) (Ban, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Ban{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, candidate.Address); err != nil {
		return Ban{}, false, fmt.Errorf("lock: %w", err)
	}

	var existing Ban
	err = tx.QueryRowContext(ctx, selectActive+` FOR UPDATE`, candidate.Address, now).
		Scan(&existing.ID, &existing.Address, &existing.Reason, &existing.BannedUntil, &existing.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		const insert = `
			INSERT INTO bans (id, ip_address, reason, banned_until, created_at)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.ExecContext(ctx, insert,
			candidate.ID, candidate.Address, candidate.Reason, candidate.BannedUntil, candidate.CreatedAt,
		); err != nil {
			return Ban{}, false, fmt.Errorf("insert: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Ban{}, false, fmt.Errorf("commit: %w", err)
		}
		return candidate, false, nil

	case err != nil:
		return Ban{}, false, fmt.Errorf("select active: %w", err)
	}

	const extend = `UPDATE bans SET banned_until = $1, reason = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, extend, candidate.BannedUntil, candidate.Reason, existing.ID); err != nil {
		return Ban{}, false, fmt.Errorf("extend: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Ban{}, false, fmt.Errorf("commit: %w", err)
	}

	existing.BannedUntil = candidate.BannedUntil
	existing.Reason = candidate.Reason
	return existing, true, nil
}

func (r *PostgresRepository) DeleteByAddress(ctx context.Context, address string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bans WHERE ip_address = $1`, address)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bans WHERE banned_until < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
