package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Lease is a cron lock lease row.
type Lease struct {
	JobName    string
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// AcquireLease takes the lease for jobName when no unexpired lease exists.
// The insert and the expiry check happen in one statement, so two callers can
// never both succeed.
func (s *Store) AcquireLease(ctx context.Context, jobName, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	if jobName == "" || holderID == "" {
		return false, errors.New("job name and holder id are required")
	}
	nowText := formatTime(now)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO cron_leases (job_name, holder_id, acquired_at, expires_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(job_name) DO UPDATE SET
            holder_id = excluded.holder_id,
            acquired_at = excluded.acquired_at,
            expires_at = excluded.expires_at
        WHERE cron_leases.expires_at <= ?`,
		jobName,
		holderID,
		nowText,
		formatTime(now.Add(ttl)),
		nowText,
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", jobName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// ReleaseLease drops the lease if holderID still owns it. Holders are
// per-acquisition tokens, so a lease taken over after expiry survives the
// late release of its previous owner.
func (s *Store) ReleaseLease(ctx context.Context, jobName, holderID string) error {
	if err := s.execIgnoreResult(
		ctx,
		`DELETE FROM cron_leases WHERE job_name = ? AND holder_id = ?`,
		jobName,
		holderID,
	); err != nil {
		return fmt.Errorf("release lease %s: %w", jobName, err)
	}
	return nil
}

// GetLease returns the current lease row for jobName, expired or not.
func (s *Store) GetLease(ctx context.Context, jobName string) (Lease, error) {
	var (
		lease       Lease
		acquiredRaw string
		expiresRaw  string
	)
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT job_name, holder_id, acquired_at, expires_at FROM cron_leases WHERE job_name = ?`,
		jobName,
	).Scan(&lease.JobName, &lease.HolderID, &acquiredRaw, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, fmt.Errorf("lease %s: %w", jobName, ErrNotFound)
	}
	if err != nil {
		return Lease{}, fmt.Errorf("get lease: %w", err)
	}
	lease.AcquiredAt, _ = parseTimeString(acquiredRaw)
	lease.ExpiresAt, _ = parseTimeString(expiresRaw)
	return lease, nil
}
