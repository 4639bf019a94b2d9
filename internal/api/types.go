package api

import "reelflow/internal/pipeline"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Workflow describes a workflow record in a transport-friendly format.
type Workflow struct {
	ID                 string            `json:"id"`
	Brand              string            `json:"brand"`
	Status             string            `json:"status"`
	Stage              string            `json:"stage,omitempty"`
	Title              string            `json:"title"`
	ExternalIDs        map[string]string `json:"externalIds,omitempty"`
	ArtifactURLs       map[string]string `json:"artifactUrls,omitempty"`
	AwaitingSubmission bool              `json:"awaitingSubmission"`
	RetryCount         int               `json:"retryCount"`
	Error              string            `json:"error,omitempty"`
	Version            int64             `json:"version"`
	ResubmittedFrom    string            `json:"resubmittedFrom,omitempty"`
	CreatedAt          string            `json:"createdAt,omitempty"`
	UpdatedAt          string            `json:"updatedAt,omitempty"`
	CompletedAt        string            `json:"completedAt,omitempty"`
	Brief              *pipeline.Brief   `json:"brief,omitempty"`
}

// WorkflowListResponse wraps a collection of workflows.
type WorkflowListResponse struct {
	Items []Workflow `json:"items"`
}

// WorkflowResponse wraps a single workflow.
type WorkflowResponse struct {
	Item Workflow `json:"item"`
}

// LaunchRequest starts a new workflow for a brand.
type LaunchRequest struct {
	Brand string         `json:"brand"`
	Brief pipeline.Brief `json:"brief"`
}

// DeadLetter describes a webhook delivery parked after an infrastructure
// failure.
type DeadLetter struct {
	ID          int64  `json:"id"`
	Vendor      string `json:"vendor"`
	Brand       string `json:"brand"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	ReplayedAt  string `json:"replayedAt,omitempty"`
	ReplayCount int    `json:"replayCount"`
	Resolved    bool   `json:"resolved"`
	Body        string `json:"body,omitempty"`
}

// DeadLetterListResponse wraps a collection of dead letters.
type DeadLetterListResponse struct {
	Items []DeadLetter `json:"items"`
}

// ReplayResponse reports how a replayed dead letter was handled.
type ReplayResponse struct {
	ID         int64  `json:"id"`
	Status     string `json:"status,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StageHealth mirrors readiness reporting for stage drivers.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// FailsafeReport counts what one scan did.
type FailsafeReport struct {
	Checked  int `json:"checked"`
	Healed   int `json:"healed"`
	Advanced int `json:"advanced"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
	Errors   int `json:"errors"`
}

// CronRun reports the outcome of one lock-guarded maintenance job.
type CronRun struct {
	Job        string          `json:"job"`
	Outcome    string          `json:"outcome"`
	Skipped    bool            `json:"skipped,omitempty"`
	Holder     string          `json:"holder"`
	DurationMs int64           `json:"durationMs"`
	FinishedAt string          `json:"finishedAt,omitempty"`
	Error      string          `json:"error,omitempty"`
	Report     *FailsafeReport `json:"report,omitempty"`
	Purged     *PurgeCounts    `json:"purged,omitempty"`
}

// PurgeCounts reports rows removed by the retention job.
type PurgeCounts struct {
	Receipts    int64 `json:"receipts"`
	DeadLetters int64 `json:"deadLetters"`
}

// DatabaseHealth reports workflow database diagnostics.
type DatabaseHealth struct {
	Path           string   `json:"path"`
	Exists         bool     `json:"exists"`
	Readable       bool     `json:"readable"`
	SchemaVersion  int      `json:"schemaVersion"`
	IntegrityOK    bool     `json:"integrityOk"`
	MissingColumns []string `json:"missingColumns,omitempty"`
	TotalWorkflows int      `json:"totalWorkflows"`
	Error          string   `json:"error,omitempty"`
}

// WorkflowSummary buckets workflow counts by lifecycle phase.
type WorkflowSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"inFlight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	DatabasePath string           `json:"databasePath"`
	LockFilePath string           `json:"lockFilePath"`
	LockBackend  string           `json:"lockBackend"`
	Holder       string           `json:"holder"`
	Database     *DatabaseHealth  `json:"database,omitempty"`
	Summary      *WorkflowSummary `json:"summary,omitempty"`
	Counts       map[string]int   `json:"counts"`
	Drivers      []StageHealth    `json:"drivers"`
	LastScan     *CronRun         `json:"lastScan,omitempty"`
	LastPurge    *CronRun         `json:"lastPurge,omitempty"`
}
