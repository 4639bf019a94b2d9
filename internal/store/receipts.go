package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Receipt marks a webhook delivery as processed.
type Receipt struct {
	Key         string
	Vendor      string
	Brand       string
	ExternalID  string
	Outcome     string
	ProcessedAt time.Time
	ExpiresAt   time.Time
}

// HasReceipt reports whether an unexpired receipt exists for key.
func (s *Store) HasReceipt(ctx context.Context, key string, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT 1 FROM webhook_receipts WHERE key = ? AND expires_at > ?`,
		key,
		formatTime(now),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check receipt: %w", err)
	}
	return true, nil
}

// MarkReceipt stores or refreshes a receipt.
func (s *Store) MarkReceipt(ctx context.Context, receipt Receipt) error {
	if receipt.Key == "" {
		return errors.New("receipt key is required")
	}
	if err := s.execIgnoreResult(
		ctx,
		`INSERT INTO webhook_receipts (key, vendor, brand, external_id, outcome, processed_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            outcome = excluded.outcome,
            processed_at = excluded.processed_at,
            expires_at = excluded.expires_at`,
		receipt.Key,
		receipt.Vendor,
		receipt.Brand,
		nullableString(receipt.ExternalID),
		receipt.Outcome,
		formatTime(receipt.ProcessedAt),
		formatTime(receipt.ExpiresAt),
	); err != nil {
		return fmt.Errorf("mark receipt: %w", err)
	}
	return nil
}

// PurgeReceipts deletes receipts that expired at or before now.
func (s *Store) PurgeReceipts(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM webhook_receipts WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge receipts: %w", err)
	}
	return res.RowsAffected()
}
