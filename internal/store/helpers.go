package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reelflow/internal/pipeline"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const workflowColumns = "id, brand, status, brief_json, render_external_id, caption_external_id, publish_external_id, render_artifact_url, caption_artifact_url, publish_artifact_url, awaiting_submission, retry_count, error_message, created_at, updated_at, completed_at, version, resubmitted_from"

var (
	externalIDColumns = map[pipeline.Stage]string{
		pipeline.StageRender:  "render_external_id",
		pipeline.StageCaption: "caption_external_id",
		pipeline.StagePublish: "publish_external_id",
	}
	artifactColumns = map[pipeline.Stage]string{
		pipeline.StageRender:  "render_artifact_url",
		pipeline.StageCaption: "caption_artifact_url",
		pipeline.StagePublish: "publish_artifact_url",
	}
)

func scanRecord(scanner interface{ Scan(dest ...any) error }) (pipeline.Record, error) {
	var (
		id              string
		brand           string
		statusStr       string
		briefJSON       string
		renderID        sql.NullString
		captionID       sql.NullString
		publishID       sql.NullString
		renderURL       sql.NullString
		captionURL      sql.NullString
		publishURL      sql.NullString
		awaiting        int64
		retryCount      int64
		errorMessage    sql.NullString
		createdRaw      string
		updatedRaw      string
		completedRaw    sql.NullString
		version         int64
		resubmittedFrom sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&brand,
		&statusStr,
		&briefJSON,
		&renderID,
		&captionID,
		&publishID,
		&renderURL,
		&captionURL,
		&publishURL,
		&awaiting,
		&retryCount,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&version,
		&resubmittedFrom,
	); err != nil {
		return pipeline.Record{}, err
	}

	rec := pipeline.Record{
		ID:                 id,
		Brand:              brand,
		Status:             pipeline.Status(statusStr),
		ExternalIDs:        map[pipeline.Stage]string{},
		ArtifactURLs:       map[pipeline.Stage]string{},
		AwaitingSubmission: awaiting != 0,
		RetryCount:         int(retryCount),
		Error:              errorMessage.String,
		Version:            version,
		ResubmittedFrom:    resubmittedFrom.String,
	}
	if err := json.Unmarshal([]byte(briefJSON), &rec.Brief); err != nil {
		return pipeline.Record{}, fmt.Errorf("decode brief for %s: %w", id, err)
	}
	setIfValid(rec.ExternalIDs, pipeline.StageRender, renderID)
	setIfValid(rec.ExternalIDs, pipeline.StageCaption, captionID)
	setIfValid(rec.ExternalIDs, pipeline.StagePublish, publishID)
	setIfValid(rec.ArtifactURLs, pipeline.StageRender, renderURL)
	setIfValid(rec.ArtifactURLs, pipeline.StageCaption, captionURL)
	setIfValid(rec.ArtifactURLs, pipeline.StagePublish, publishURL)

	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			rec.CompletedAt = &completed
		}
	}
	return rec, nil
}

func setIfValid(target map[pipeline.Stage]string, stage pipeline.Stage, value sql.NullString) {
	if value.Valid && value.String != "" {
		target[stage] = value.String
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
