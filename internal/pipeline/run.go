// Package pipeline implements the ingestion run orchestrator and the run
// history model that records every execution attempt.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

type (
	RunStatus   string
	TriggerType string
)

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
	StatusPartial RunStatus = "partial"
)

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerAPI       TriggerType = "api"
)

// Run is one execution attempt of a pipeline. It is created in the running
// state before any work happens, so a crash mid-run is observable as a
// stuck running row. Status only ever moves running -> success/failed;
// after that the row is immutable.
type Run struct {
	RunID        string      `json:"run_id"`
	PipelineName string      `json:"pipeline_name"`
	TriggerType  TriggerType `json:"trigger_type"`
	Status       RunStatus   `json:"status"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`

	RecordsProcessed int `json:"records_processed"`
	RecordsStored    int `json:"records_stored"`
	RecordsUpdated   int `json:"records_updated"`
	RecordsFailed    int `json:"records_failed"`

	DataQualityScore    float64 `json:"data_quality_score"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	StackTrace   string `json:"stack_trace,omitempty"`

	RetryCount    int    `json:"retry_count"`
	IsRetry       bool   `json:"is_retry"`
	OriginalRunID string `json:"original_run_id,omitempty"`
}

func NewRun(pipelineName string, trigger TriggerType) *Run {
	return &Run{
		RunID:        uuid.New().String(),
		PipelineName: pipelineName,
		TriggerType:  trigger,
		Status:       StatusRunning,
		StartedAt:    time.Now().UTC(),
	}
}

// QualityScore is the percentage of processed records that did not fail.
// A run that processed nothing is considered fully healthy.
func (r *Run) QualityScore() float64 {
	if r.RecordsProcessed == 0 {
		return 100.0
	}

	return float64(r.RecordsProcessed-r.RecordsFailed) / float64(r.RecordsProcessed) * 100.0
}

func (r *Run) IsTerminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

func (r *Run) complete(status RunStatus, now time.Time) {
	completed := now.UTC()
	r.CompletedAt = &completed
	r.DurationSeconds = completed.Sub(r.StartedAt).Seconds()
	r.Status = status
	r.DataQualityScore = r.QualityScore()
}
