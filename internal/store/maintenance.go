package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"reelflow/internal/pipeline"
)

// Diagnostics reports what `reelflow status` shows about the database file.
type Diagnostics struct {
	Path           string
	Exists         bool
	Readable       bool
	SchemaVersion  int
	HasWorkflows   bool // the workflows table exists
	MissingColumns []string
	IntegrityOK    bool
	TotalWorkflows int
	Error          string
}

// PhaseCounts buckets workflows into pending, in flight, and terminal.
type PhaseCounts struct {
	Total     int
	Pending   int
	InFlight  int
	Completed int
	Failed    int
}

var expectedWorkflowColumns = strings.Split(strings.ReplaceAll(workflowColumns, " ", ""), ",")

// Stats returns a count of workflows grouped by status, optionally scoped to
// one brand.
func (s *Store) Stats(ctx context.Context, brand string) (map[pipeline.Status]int, error) {
	query := `SELECT status, COUNT(1) FROM workflows`
	var args []any
	if brand != "" {
		query += ` WHERE brand = ?`
		args = append(args, brand)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("workflow stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[pipeline.Status]int)
	for rows.Next() {
		var (
			status pipeline.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan workflow stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// Health folds Stats into lifecycle phases.
func (s *Store) Health(ctx context.Context) (PhaseCounts, error) {
	stats, err := s.Stats(ctx, "")
	if err != nil {
		return PhaseCounts{}, err
	}
	var pc PhaseCounts
	for status, n := range stats {
		pc.Total += n
		switch status {
		case pipeline.StatusPending:
			pc.Pending += n
		case pipeline.StatusCompleted:
			pc.Completed += n
		case pipeline.StatusFailed:
			pc.Failed += n
		default:
			pc.InFlight += n
		}
	}
	return pc, nil
}

// CheckHealth probes the database file step by step and stops at the first
// failing probe. The returned Diagnostics are filled up to that point and
// carry the failure text in Error.
func (s *Store) CheckHealth(ctx context.Context) (Diagnostics, error) {
	d := Diagnostics{Path: s.path}
	if s.path == "" {
		return d, errors.New("workflow database path is unknown")
	}
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return d, nil
	case err != nil:
		return d, fmt.Errorf("stat workflow database: %w", err)
	case info.IsDir():
		return d, fmt.Errorf("workflow database path %q is a directory", s.path)
	}
	d.Exists = true
	if s.db == nil {
		return d, errors.New("workflow database connection unavailable")
	}

	ctx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	probes := []struct {
		name string
		run  func() error
	}{
		{"ping", func() error {
			if err := s.db.PingContext(ctx); err != nil {
				return err
			}
			d.Readable = true
			return nil
		}},
		{"schema version", func() (err error) {
			d.SchemaVersion, err = s.userVersion(ctx)
			return err
		}},
		{"workflow columns", func() error {
			have, err := s.columnNames(ctx, "workflows")
			if err != nil {
				return err
			}
			d.HasWorkflows = len(have) > 0
			if !d.HasWorkflows {
				return nil
			}
			for _, col := range expectedWorkflowColumns {
				if !slices.Contains(have, col) {
					d.MissingColumns = append(d.MissingColumns, col)
				}
			}
			return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows`).Scan(&d.TotalWorkflows)
		}},
		{"integrity check", func() error {
			var verdict string
			if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&verdict); err != nil {
				return err
			}
			d.IntegrityOK = strings.EqualFold(verdict, "ok")
			return nil
		}},
	}
	for _, p := range probes {
		if err := p.run(); err != nil {
			d.Error = err.Error()
			return d, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return d, nil
}

func (s *Store) columnNames(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
