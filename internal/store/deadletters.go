package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DeadLetter is a webhook delivery that could not be processed because of an
// infrastructure failure.
type DeadLetter struct {
	ID          int64
	Vendor      string
	Brand       string
	Body        []byte
	Error       string
	CreatedAt   time.Time
	ReplayedAt  *time.Time
	ReplayCount int
	Resolved    bool
}

const deadLetterColumns = "id, vendor, brand, body, error_message, created_at, replayed_at, replay_count, resolved"

func scanDeadLetter(scanner interface{ Scan(dest ...any) error }) (DeadLetter, error) {
	var (
		dl          DeadLetter
		errMsg      sql.NullString
		createdRaw  string
		replayedRaw sql.NullString
		resolved    int64
	)
	if err := scanner.Scan(&dl.ID, &dl.Vendor, &dl.Brand, &dl.Body, &errMsg, &createdRaw, &replayedRaw, &dl.ReplayCount, &resolved); err != nil {
		return DeadLetter{}, err
	}
	dl.Error = errMsg.String
	dl.Resolved = resolved != 0
	if created, err := parseTimeString(createdRaw); err == nil {
		dl.CreatedAt = created
	}
	if replayedRaw.Valid {
		if replayed, err := parseTimeString(replayedRaw.String); err == nil {
			dl.ReplayedAt = &replayed
		}
	}
	return dl, nil
}

// AddDeadLetter stores a failed delivery and returns its id.
func (s *Store) AddDeadLetter(ctx context.Context, dl DeadLetter) (int64, error) {
	created := dl.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO dead_letters (vendor, brand, body, error_message, created_at) VALUES (?, ?, ?, ?, ?)`,
		dl.Vendor,
		dl.Brand,
		dl.Body,
		nullableString(dl.Error),
		formatTime(created),
	)
	if err != nil {
		return 0, fmt.Errorf("insert dead letter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ListDeadLetters returns dead letters oldest first. Resolved entries are
// skipped unless includeResolved is set.
func (s *Store) ListDeadLetters(ctx context.Context, includeResolved bool, limit int) ([]DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	var args []any
	if !includeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// GetDeadLetter fetches one dead letter.
func (s *Store) GetDeadLetter(ctx context.Context, id int64) (DeadLetter, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetter{}, fmt.Errorf("dead letter %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return DeadLetter{}, fmt.Errorf("get dead letter: %w", err)
	}
	return dl, nil
}

// MarkDeadLetterReplayed records a replay attempt. A successful replay marks
// the entry resolved; a failed one keeps it listed with the new error.
func (s *Store) MarkDeadLetterReplayed(ctx context.Context, id int64, resolved bool, errMsg string, now time.Time) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE dead_letters
        SET replayed_at = ?, replay_count = replay_count + 1, resolved = ?,
            error_message = COALESCE(?, error_message)
        WHERE id = ?`,
		formatTime(now),
		boolToInt(resolved),
		nullableString(errMsg),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark dead letter replayed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("dead letter %d: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeDeadLetters removes resolved entries created before cutoff.
func (s *Store) PurgeDeadLetters(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM dead_letters WHERE resolved = 1 AND created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return res.RowsAffected()
}
