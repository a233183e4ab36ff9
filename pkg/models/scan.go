package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanMode selects how deep a source scan goes.
type ScanMode string

const (
	// ScanShallow enumerates object names only, no statistics.
	ScanShallow ScanMode = "shallow"
	// ScanDeep enumerates objects and profiles every column of each.
	ScanDeep ScanMode = "deep"
)

// JobStatus tracks a scan job through its state machine:
// Queued -> Running -> {Completed, PartialFailure, Cancelled, TimedOut}.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	// JobPartialFailure means at least one per-table outcome is failed or
	// timed_out. It applies even when every table failed: table work started,
	// so the per-table outcomes carry the detail.
	JobPartialFailure JobStatus = "partial_failure"
	JobCancelled      JobStatus = "cancelled"
	JobTimedOut       JobStatus = "timed_out"
	// JobFailed covers errors before any table work starts, such as a failed
	// object listing. Per-table errors never produce it.
	JobFailed JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobPartialFailure, JobCancelled, JobTimedOut, JobFailed:
		return true
	default:
		return false
	}
}

// TableScanStatus is the per-table outcome within a scan job.
type TableScanStatus string

const (
	TableScanOK       TableScanStatus = "ok"
	TableScanTimedOut TableScanStatus = "timed_out"
	TableScanFailed   TableScanStatus = "failed"
	TableScanSkipped  TableScanStatus = "skipped"
)

// TableScanOutcome records the result of scanning one table. One table's
// failure never aborts the job; it is recorded here and the job proceeds.
type TableScanOutcome struct {
	TableName        string           `json:"table_name"`
	Status           TableScanStatus  `json:"status"`
	RowCountEstimate *int64           `json:"row_count_estimate,omitempty"`
	Columns          []ColumnProfile  `json:"columns,omitempty"`
	SampleRows       []map[string]any `json:"sample_rows,omitempty"`
	Error            string           `json:"error,omitempty"`
	FromCache        bool             `json:"from_cache,omitempty"`
}

// ScanJob is a snapshot of a scan's progress. Results appear in completion
// order, not discovery order: workers finish non-deterministically and the
// job records outcomes as they land. Callers needing stable ordering must
// sort by table name themselves.
type ScanJob struct {
	ID           uuid.UUID          `json:"id"`
	ConnectionID string             `json:"connection_id"`
	Mode         ScanMode           `json:"mode"`
	Status       JobStatus          `json:"status"`
	RequestedAt  time.Time          `json:"requested_at"`
	Deadline     time.Time          `json:"deadline"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	Results      []TableScanOutcome `json:"per_table_results"`
	Error        string             `json:"error,omitempty"`
}
