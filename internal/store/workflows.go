package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"reelflow/internal/pipeline"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Statuses []pipeline.Status
	Brand    string
	Limit    int
}

// Create inserts a new workflow record at version 1.
func (s *Store) Create(ctx context.Context, rec pipeline.Record) (pipeline.Record, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return pipeline.Record{}, errors.New("workflow id is required")
	}
	if strings.TrimSpace(rec.Brand) == "" {
		return pipeline.Record{}, errors.New("workflow brand is required")
	}
	briefJSON, err := json.Marshal(rec.Brief)
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("marshal brief: %w", err)
	}
	rec = rec.Clone()
	rec.Version = 1

	if err := s.execIgnoreResult(
		ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (`+makePlaceholders(18)+`)`,
		rec.ID,
		rec.Brand,
		rec.Status,
		string(briefJSON),
		nullableString(rec.ExternalIDs[pipeline.StageRender]),
		nullableString(rec.ExternalIDs[pipeline.StageCaption]),
		nullableString(rec.ExternalIDs[pipeline.StagePublish]),
		nullableString(rec.ArtifactURLs[pipeline.StageRender]),
		nullableString(rec.ArtifactURLs[pipeline.StageCaption]),
		nullableString(rec.ArtifactURLs[pipeline.StagePublish]),
		boolToInt(rec.AwaitingSubmission),
		rec.RetryCount,
		nullableString(rec.Error),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		nullableTime(rec.CompletedAt),
		rec.Version,
		nullableString(rec.ResubmittedFrom),
	); err != nil {
		return pipeline.Record{}, fmt.Errorf("insert workflow: %w", err)
	}
	return rec, nil
}

// Get fetches a workflow by id. Missing records return ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (pipeline.Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Record{}, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("get workflow: %w", err)
	}
	return rec, nil
}

// FindByExternalID resolves a workflow from a vendor job id within a brand.
func (s *Store) FindByExternalID(ctx context.Context, brand string, stage pipeline.Stage, externalID string) (pipeline.Record, error) {
	column, ok := externalIDColumns[stage]
	if !ok {
		return pipeline.Record{}, fmt.Errorf("unknown stage %q", stage)
	}
	if strings.TrimSpace(externalID) == "" {
		return pipeline.Record{}, fmt.Errorf("empty external id: %w", ErrNotFound)
	}
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+workflowColumns+` FROM workflows WHERE brand = ? AND `+column+` = ? ORDER BY created_at DESC LIMIT 1`,
		brand,
		externalID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Record{}, fmt.Errorf("%s external id %s: %w", stage, externalID, ErrNotFound)
	}
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("find by external id: %w", err)
	}
	return rec, nil
}

// List returns workflows matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]pipeline.Record, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if brand := strings.TrimSpace(filter.Brand); brand != "" {
		clauses = append(clauses, "brand = ?")
		args = append(args, brand)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// StaleCandidates returns up to limit records in status whose updated_at is
// older than cutoff, oldest first.
func (s *Store) StaleCandidates(ctx context.Context, status pipeline.Status, cutoff time.Time, limit int) ([]pipeline.Record, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.queryRecords(
		ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		status,
		formatTime(cutoff),
		limit,
	)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]pipeline.Record, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var records []pipeline.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CompareAndSwap persists rec only if the stored version still equals
// expectedVersion. On success the returned record carries the new version.
// A lost race reports ErrConflict; a missing row reports ErrNotFound.
func (s *Store) CompareAndSwap(ctx context.Context, rec pipeline.Record, expectedVersion int64) (pipeline.Record, error) {
	briefJSON, err := json.Marshal(rec.Brief)
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("marshal brief: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflows
        SET status = ?, brief_json = ?,
            render_external_id = ?, caption_external_id = ?, publish_external_id = ?,
            render_artifact_url = ?, caption_artifact_url = ?, publish_artifact_url = ?,
            awaiting_submission = ?, retry_count = ?, error_message = ?,
            updated_at = ?, completed_at = ?, version = version + 1
        WHERE id = ? AND version = ?`,
		rec.Status,
		string(briefJSON),
		nullableString(rec.ExternalIDs[pipeline.StageRender]),
		nullableString(rec.ExternalIDs[pipeline.StageCaption]),
		nullableString(rec.ExternalIDs[pipeline.StagePublish]),
		nullableString(rec.ArtifactURLs[pipeline.StageRender]),
		nullableString(rec.ArtifactURLs[pipeline.StageCaption]),
		nullableString(rec.ArtifactURLs[pipeline.StagePublish]),
		boolToInt(rec.AwaitingSubmission),
		rec.RetryCount,
		nullableString(rec.Error),
		formatTime(rec.UpdatedAt),
		nullableTime(rec.CompletedAt),
		rec.ID,
		expectedVersion,
	)
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("update workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, rec.ID); getErr != nil {
			return pipeline.Record{}, getErr
		}
		return pipeline.Record{}, fmt.Errorf("workflow %s at version %d: %w", rec.ID, expectedVersion, ErrConflict)
	}
	out := rec.Clone()
	out.Version = expectedVersion + 1
	return out, nil
}

// RecordArtifact durably stores the artifact URL for the live submission of
// stage without advancing the workflow or touching updated_at. It reports
// false when the workflow is not on that stage, the external id is not live,
// or an artifact is already recorded. The version is bumped so a concurrent
// compare-and-swap from an older read cannot erase the URL.
func (s *Store) RecordArtifact(ctx context.Context, id string, stage pipeline.Stage, externalID, url string) (bool, error) {
	idColumn, ok := externalIDColumns[stage]
	if !ok {
		return false, fmt.Errorf("unknown stage %q", stage)
	}
	urlColumn := artifactColumns[stage]
	if strings.TrimSpace(url) == "" || strings.TrimSpace(externalID) == "" {
		return false, nil
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflows SET `+urlColumn+` = ?, version = version + 1
        WHERE id = ? AND status = ? AND awaiting_submission = 0 AND `+idColumn+` = ?
          AND (`+urlColumn+` IS NULL OR `+urlColumn+` = '')`,
		url,
		id,
		stage.Status(),
		externalID,
	)
	if err != nil {
		return false, fmt.Errorf("record artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}
