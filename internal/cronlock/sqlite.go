package cronlock

import (
	"context"
	"time"

	"reelflow/internal/store"
)

// SQLiteBackend keeps leases in the record store's cron_leases table.
type SQLiteBackend struct {
	store *store.Store
}

// NewSQLiteBackend wraps st.
func NewSQLiteBackend(st *store.Store) *SQLiteBackend {
	return &SQLiteBackend{store: st}
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Acquire(ctx context.Context, job, holder string, now time.Time, ttl time.Duration) (bool, error) {
	return b.store.AcquireLease(ctx, job, holder, now, ttl)
}

func (b *SQLiteBackend) Release(ctx context.Context, job, holder string) error {
	return b.store.ReleaseLease(ctx, job, holder)
}

// Close is a no-op; the store is owned by the caller.
func (b *SQLiteBackend) Close() error { return nil }
