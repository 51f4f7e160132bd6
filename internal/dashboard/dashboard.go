// Package dashboard implements the monitoring endpoints that aggregate
// pipeline run history into summary statistics.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/feedpulse/feedpulse/internal/httputil"
	"github.com/feedpulse/feedpulse/internal/pipeline"
	"github.com/feedpulse/feedpulse/internal/repository"
)

// RunLister provides the run history window the dashboard aggregates over.
type RunLister interface {
	ListRuns(ctx context.Context, filter repository.RunFilter) ([]pipeline.Run, error)
}

type Dashboard struct {
	runs RunLister
}

type Stats struct {
	TotalRuns       int            `json:"total_runs"`
	RunningRuns     int            `json:"running_runs"`
	SuccessfulRuns  int            `json:"successful_runs"`
	FailedRuns      int            `json:"failed_runs"`
	RunsByPipeline  map[string]int `json:"runs_by_pipeline"`
	RecordsStored   int            `json:"records_stored"`
	RecordsFailed   int            `json:"records_failed"`
	AvgQualityScore float64        `json:"avg_quality_score"`
	AverageDuration string         `json:"average_duration"`
	LastUpdated     time.Time      `json:"last_updated"`
}

type RunHistory struct {
	RunID       string              `json:"run_id"`
	Pipeline    string              `json:"pipeline"`
	Trigger     string              `json:"trigger"`
	Status      pipeline.RunStatus  `json:"status"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at"`
	Duration    string              `json:"duration"`
	Stored      int                 `json:"records_stored"`
	Failed      int                 `json:"records_failed"`
}

const statsWindow = 24 * time.Hour

func NewDashboard(runs RunLister) *Dashboard {
	return &Dashboard{runs: runs}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	runs, err := d.recentRuns(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats := Stats{
		TotalRuns:      len(runs),
		RunsByPipeline: make(map[string]int),
		LastUpdated:    time.Now(),
	}

	var totalDuration time.Duration
	var totalQuality float64
	completed := 0

	for _, run := range runs {
		switch run.Status {
		case pipeline.StatusRunning:
			stats.RunningRuns++
		case pipeline.StatusSuccess:
			stats.SuccessfulRuns++
		case pipeline.StatusFailed:
			stats.FailedRuns++
		}

		stats.RunsByPipeline[run.PipelineName]++
		stats.RecordsStored += run.RecordsStored
		stats.RecordsFailed += run.RecordsFailed

		if run.CompletedAt != nil {
			totalDuration += run.CompletedAt.Sub(run.StartedAt)
			totalQuality += run.DataQualityScore
			completed++
		}
	}

	if completed > 0 {
		avg := totalDuration / time.Duration(completed)
		stats.AverageDuration = avg.Round(time.Millisecond).String()
		stats.AvgQualityScore = totalQuality / float64(completed)
	} else {
		stats.AverageDuration = "N/A"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		httputil.WriteJSONError(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (d *Dashboard) GetRecentRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := d.recentRuns(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	history := []RunHistory{}
	for _, run := range runs {
		var duration string
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}

		history = append(history, RunHistory{
			RunID:       run.RunID,
			Pipeline:    run.PipelineName,
			Trigger:     string(run.TriggerType),
			Status:      run.Status,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			Duration:    duration,
			Stored:      run.RecordsStored,
			Failed:      run.RecordsFailed,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(history); err != nil {
		httputil.WriteJSONError(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (d *Dashboard) recentRuns(ctx context.Context) ([]pipeline.Run, error) {
	return d.runs.ListRuns(ctx, repository.RunFilter{
		Since: time.Now().Add(-statsWindow),
		Limit: 500,
	})
}
