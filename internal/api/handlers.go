// Package api exposes the HTTP surface for triggering pipelines, managing
// scheduled jobs and querying run history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/dashboard"
	"github.com/feedpulse/feedpulse/internal/httputil"
	"github.com/feedpulse/feedpulse/internal/pipeline"
	"github.com/feedpulse/feedpulse/internal/repository"
	"github.com/feedpulse/feedpulse/internal/scheduler"
)

// RunStore is the slice of the repository the API reads run history from.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*pipeline.Run, error)
	ListRuns(ctx context.Context, filter repository.RunFilter) ([]pipeline.Run, error)
}

type API struct {
	runner    *pipeline.Runner
	scheduler *scheduler.Scheduler
	runs      RunStore
	mux       *http.ServeMux
}

type ScheduleRequest struct {
	JobID           string `json:"job_id"`
	Pipeline        string `json:"pipeline"`
	Cron            string `json:"cron"`
	IntervalSeconds int    `json:"interval_seconds"`
}

type TriggerResponse struct {
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`
	Status   string `json:"status"`
}

func NewAPI(runner *pipeline.Runner, sched *scheduler.Scheduler, runs RunStore) *API {
	api := &API{
		runner:    runner,
		scheduler: sched,
		runs:      runs,
		mux:       http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/pipelines", a.handlePipelines)
	a.mux.HandleFunc("/api/pipelines/", a.handlePipelineAction)
	a.mux.HandleFunc("/api/jobs", a.handleJobs)
	a.mux.HandleFunc("/api/jobs/", a.handleJobByID)
	a.mux.HandleFunc("/api/scheduler/status", a.handleSchedulerStatus)
	a.mux.HandleFunc("/api/runs", a.listRuns)
	a.mux.HandleFunc("/api/runs/", a.handleRunByID)

	dash := dashboard.NewDashboard(a.runs)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetRecentRuns)
	a.mux.HandleFunc("/api/metrics/summary", dash.GetStats)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handlePipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string][]string{
		"pipelines": a.runner.Pipelines(),
	})
}

func (a *API) handlePipelineAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/pipelines/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "run" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	name := parts[0]

	// The run outlives the request, so it cannot inherit the request context.
	runID, err := a.runner.Trigger(context.Background(), name, pipeline.TriggerAPI)
	switch {
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, TriggerResponse{
		RunID:    runID,
		Pipeline: name,
		Status:   string(pipeline.StatusRunning),
	})
}

func (a *API) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.scheduleJob(w, r)
	case http.MethodGet:
		httputil.WriteJSON(w, http.StatusOK, a.scheduler.GetStatus().Jobs)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) scheduleJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("failed to close request body: %v", err)
		}
	}()

	var req ScheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.JobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}
	if !slices.Contains(a.runner.Pipelines(), req.Pipeline) {
		http.Error(w, "Unknown pipeline", http.StatusBadRequest)
		return
	}

	trigger, err := buildTrigger(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.scheduler.AddJob(req.JobID, req.Pipeline, trigger); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, a.scheduler.GetJob(req.JobID))
}

func buildTrigger(req ScheduleRequest) (scheduler.Trigger, error) {
	switch {
	case req.Cron != "" && req.IntervalSeconds > 0:
		return nil, errors.New("cron and interval_seconds are mutually exclusive")
	case req.Cron != "":
		return scheduler.NewCron(req.Cron)
	case req.IntervalSeconds > 0:
		return scheduler.NewInterval(time.Duration(req.IntervalSeconds) * time.Second)
	default:
		return nil, errors.New("either cron or interval_seconds is required")
	}
}

func (a *API) handleJobByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if parts[0] == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	if len(parts) == 2 {
		a.handleJobAction(w, r, jobID, parts[1])
		return
	}
	if len(parts) > 2 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		info := a.scheduler.GetJob(jobID)
		if info == nil {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, info)
	case http.MethodDelete:
		if !a.scheduler.RemoveJob(jobID) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleJobAction(w http.ResponseWriter, r *http.Request, jobID, action string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ok bool
	switch action {
	case "pause":
		ok = a.scheduler.PauseJob(jobID)
	case "resume":
		ok = a.scheduler.ResumeJob(jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, a.scheduler.GetJob(jobID))
}

func (a *API) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, a.scheduler.GetStatus())
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := repository.RunFilter{
		PipelineName: r.URL.Query().Get("pipeline"),
		Status:       pipeline.RunStatus(r.URL.Query().Get("status")),
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			http.Error(w, "Invalid hours", http.StatusBadRequest)
			return
		}
		filter.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	runs, err := a.runs.ListRuns(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}

	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (a *API) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if runID == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	run, err := a.runs.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, run)
}
