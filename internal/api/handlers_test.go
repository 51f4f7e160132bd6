package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedpulse/feedpulse/internal/enrich"
	"github.com/feedpulse/feedpulse/internal/pipeline"
	"github.com/feedpulse/feedpulse/internal/record"
	"github.com/feedpulse/feedpulse/internal/repository"
	"github.com/feedpulse/feedpulse/internal/scheduler"
	"github.com/feedpulse/feedpulse/internal/source"
)

type fakeRunStore struct {
	mu   sync.Mutex
	runs []pipeline.Run
	err  error
}

func (s *fakeRunStore) GetRun(_ context.Context, runID string) (*pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	for i := range s.runs {
		if s.runs[i].RunID == runID {
			return &s.runs[i], nil
		}
	}

	return nil, nil
}

func (s *fakeRunStore) ListRuns(_ context.Context, _ repository.RunFilter) ([]pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	return s.runs, nil
}

type fakeRepo struct {
	mu   sync.Mutex
	runs map[string]*pipeline.Run
}

func (r *fakeRepo) FindByExternalID(_ context.Context, _ string) (*record.Record, error) {
	return nil, nil
}

func (r *fakeRepo) Upsert(_ context.Context, _ *record.Record) (bool, error) {
	return true, nil
}

func (r *fakeRepo) SaveRun(_ context.Context, run *pipeline.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runs == nil {
		r.runs = make(map[string]*pipeline.Run)
	}
	saved := *run
	r.runs[run.RunID] = &saved
	return nil
}

func (r *fakeRepo) UpdateRun(_ context.Context, run *pipeline.Run) error {
	return r.SaveRun(context.Background(), run)
}

type fakeCache struct{}

func (fakeCache) InvalidatePrefixes(_ context.Context, _ []string) error { return nil }

type staticSentiment struct{}

func (staticSentiment) Analyze(_ context.Context, _ string) (enrich.Sentiment, error) {
	return enrich.Sentiment{Label: "neutral", Score: 0.5}, nil
}

type stubFetcher struct{}

func (stubFetcher) Name() string { return "stub" }

func (stubFetcher) Fetch(_ context.Context, _ source.Params) ([]source.RawItem, error) {
	return []source.RawItem{{"id": "1"}}, nil
}

func (stubFetcher) Transform(items []source.RawItem) []record.Record {
	records := make([]record.Record, 0, len(items))
	for range items {
		records = append(records, record.Record{
			ExternalID:  "stub-1",
			Title:       "stub item",
			PublishedAt: time.Now(),
			SourceType:  "stub",
		})
	}

	return records
}

func setupTestAPI(t *testing.T) (*API, *fakeRunStore) {
	t.Helper()

	runner := pipeline.NewRunner(&fakeRepo{}, fakeCache{}, enrich.New(staticSentiment{}, nil, nil))
	runner.Register(&pipeline.Pipeline{
		Name: "reddit_pipeline",
		Sources: []pipeline.Source{
			{Name: "r/golang", Upstream: "reddit", Fetcher: stubFetcher{}},
		},
	})

	store := &fakeRunStore{}
	api := NewAPI(runner, scheduler.New(runner), store)

	return api, store
}

func doRequest(api *API, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	api.ServeHTTP(w, req)
	return w
}

func TestListPipelines(t *testing.T) {
	api, _ := setupTestAPI(t)

	w := doRequest(api, http.MethodGet, "/api/pipelines", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["pipelines"], "reddit_pipeline")
}

func TestTriggerPipeline(t *testing.T) {
	t.Run("returns run id immediately", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/pipelines/reddit_pipeline/run", nil)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var resp TriggerResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.RunID)
		assert.Equal(t, "reddit_pipeline", resp.Pipeline)
		assert.Equal(t, "running", resp.Status)
	})

	t.Run("unknown pipeline", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/pipelines/nope/run", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/pipelines/reddit_pipeline/retry", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodGet, "/api/pipelines/reddit_pipeline/run", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestScheduleJob(t *testing.T) {
	t.Run("interval job", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
			JobID:           "reddit-hourly",
			Pipeline:        "reddit_pipeline",
			IntervalSeconds: 3600,
		})

		assert.Equal(t, http.StatusCreated, w.Code)

		var info scheduler.JobInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
		assert.Equal(t, "reddit-hourly", info.ID)
		assert.Equal(t, "reddit_pipeline", info.Pipeline)
		assert.False(t, info.NextRunTime.IsZero())
	})

	t.Run("cron job", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
			JobID:    "reddit-nightly",
			Pipeline: "reddit_pipeline",
			Cron:     "0 2 * * *",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("invalid cron expression", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
			JobID:    "bad",
			Pipeline: "reddit_pipeline",
			Cron:     "not a cron",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("cron and interval are mutually exclusive", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
			JobID:           "both",
			Pipeline:        "reddit_pipeline",
			Cron:            "0 2 * * *",
			IntervalSeconds: 60,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing trigger", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
			JobID:    "no-trigger",
			Pipeline: "reddit_pipeline",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing job id", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
			Pipeline:        "reddit_pipeline",
			IntervalSeconds: 60,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown pipeline", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
			JobID:           "ghost",
			Pipeline:        "ghost_pipeline",
			IntervalSeconds: 60,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJobLifecycle(t *testing.T) {
	api, _ := setupTestAPI(t)

	w := doRequest(api, http.MethodPost, "/api/jobs", ScheduleRequest{
		JobID:           "reddit-hourly",
		Pipeline:        "reddit_pipeline",
		IntervalSeconds: 3600,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(api, http.MethodGet, "/api/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var jobs []scheduler.JobInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)

	w = doRequest(api, http.MethodPost, "/api/jobs/reddit-hourly/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var info scheduler.JobInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.Paused)

	w = doRequest(api, http.MethodPost, "/api/jobs/reddit-hourly/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.False(t, info.Paused)

	w = doRequest(api, http.MethodGet, "/api/jobs/reddit-hourly", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(api, http.MethodDelete, "/api/jobs/reddit-hourly", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(api, http.MethodGet, "/api/jobs/reddit-hourly", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobNotFound(t *testing.T) {
	api, _ := setupTestAPI(t)

	assert.Equal(t, http.StatusNotFound, doRequest(api, http.MethodGet, "/api/jobs/ghost", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(api, http.MethodDelete, "/api/jobs/ghost", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(api, http.MethodPost, "/api/jobs/ghost/pause", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(api, http.MethodPost, "/api/jobs/ghost/resume", nil).Code)
}

func TestSchedulerStatus(t *testing.T) {
	api, _ := setupTestAPI(t)

	w := doRequest(api, http.MethodGet, "/api/scheduler/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var status scheduler.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Zero(t, status.TotalJobs)
}

func TestListRuns(t *testing.T) {
	t.Run("returns runs", func(t *testing.T) {
		api, store := setupTestAPI(t)
		store.runs = []pipeline.Run{
			*pipeline.NewRun("reddit_pipeline", pipeline.TriggerManual),
		}

		w := doRequest(api, http.MethodGet, "/api/runs?pipeline=reddit_pipeline&limit=10", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var runs []pipeline.Run
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
		assert.Len(t, runs, 1)
	})

	t.Run("empty history is an empty array", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodGet, "/api/runs", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]\n", w.Body.String())
	})

	t.Run("invalid limit", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodGet, "/api/runs?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid hours", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodGet, "/api/runs?hours=-1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		api, store := setupTestAPI(t)
		store.err = errors.New("connection reset")

		w := doRequest(api, http.MethodGet, "/api/runs", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetRunByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		api, store := setupTestAPI(t)
		run := pipeline.NewRun("reddit_pipeline", pipeline.TriggerScheduled)
		store.runs = []pipeline.Run{*run}

		w := doRequest(api, http.MethodGet, "/api/runs/"+run.RunID, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var got pipeline.Run
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, run.RunID, got.RunID)
	})

	t.Run("not found", func(t *testing.T) {
		api, _ := setupTestAPI(t)

		w := doRequest(api, http.MethodGet, "/api/runs/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
