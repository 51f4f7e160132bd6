// Package scheduler owns the in-process job table and the timer loop that
// fires pipeline executions on interval or cron triggers.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/feedpulse/feedpulse/internal/metrics"
	"github.com/feedpulse/feedpulse/internal/pipeline"
)

// Executor runs one pipeline execution. Implemented by pipeline.Runner.
type Executor interface {
	Execute(ctx context.Context, pipelineName string, trigger pipeline.TriggerType) (*pipeline.Run, error)
}

type job struct {
	id       string
	pipeline string
	trigger  Trigger
	paused   bool
	active   bool
	nextRun  time.Time
	lastRun  time.Time
	addedAt  time.Time
}

type JobInfo struct {
	ID          string    `json:"id"`
	Pipeline    string    `json:"pipeline"`
	Trigger     string    `json:"trigger"`
	Paused      bool      `json:"paused"`
	Running     bool      `json:"running"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time,omitzero"`
	AddedAt     time.Time `json:"added_at"`
}

type Status struct {
	Running   bool      `json:"running"`
	TotalJobs int       `json:"total_jobs"`
	Jobs      []JobInfo `json:"jobs"`
}

// Scheduler maintains one entry per job and dispatches each firing as its
// own goroutine so a long pipeline run never blocks the timer loop. The job
// table is in-memory only; it is rehydrated from static configuration at
// startup, so jobs added at runtime do not survive a restart.
type Scheduler struct {
	executor     Executor
	pollInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loopWG  sync.WaitGroup
}

func New(executor Executor) *Scheduler {
	return &Scheduler{
		executor:     executor,
		pollInterval: time.Second,
		jobs:         make(map[string]*job),
	}
}

func (s *Scheduler) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = d
}

// Start is idempotent; a second call on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Printf("Scheduler is already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.loopWG.Add(1)
	go s.loop(ctx)

	log.Printf("Scheduler started")
}

// Shutdown stops the timer loop. With wait=true it blocks until every
// in-flight job execution has finished naturally, so no run is killed
// mid-write.
func (s *Scheduler) Shutdown(wait bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.loopWG.Wait()

	if wait {
		s.wg.Wait()
	}

	log.Printf("Scheduler shut down")
}

// AddJob registers a job, replacing any existing registration under the
// same ID. At most one execution of a job runs at a time: a firing that
// overlaps a still-running execution is skipped, not queued.
func (s *Scheduler) AddJob(jobID, pipelineName string, trigger Trigger) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if pipelineName == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if trigger == nil {
		return fmt.Errorf("trigger is required")
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; exists {
		log.Printf("Job %s replaced", jobID)
	}

	s.jobs[jobID] = &job{
		id:       jobID,
		pipeline: pipelineName,
		trigger:  trigger,
		nextRun:  trigger.Next(now),
		addedAt:  now,
	}

	log.Printf("Job %s added (%s, pipeline %s), next run %s",
		jobID, trigger.Describe(), pipelineName, s.jobs[jobID].nextRun.Format(time.RFC3339))

	return nil
}

func (s *Scheduler) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		log.Printf("Job %s not found", jobID)
		return false
	}

	delete(s.jobs, jobID)
	log.Printf("Job %s removed", jobID)
	return true
}

func (s *Scheduler) PauseJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		log.Printf("Job %s not found", jobID)
		return false
	}

	j.paused = true
	log.Printf("Job %s paused", jobID)
	return true
}

func (s *Scheduler) ResumeJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		log.Printf("Job %s not found", jobID)
		return false
	}

	if j.paused {
		j.paused = false
		// Reschedule from now so a long pause does not cause an
		// immediate catch-up burst.
		j.nextRun = j.trigger.Next(time.Now())
	}

	log.Printf("Job %s resumed, next run %s", jobID, j.nextRun.Format(time.RFC3339))
	return true
}

func (s *Scheduler) GetJob(jobID string) *JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}

	info := j.info()
	return &info
}

func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.jobs))
	paused := 0
	for _, j := range s.jobs {
		if j.paused {
			paused++
		}
		jobs = append(jobs, j.info())
	}

	metrics.UpdateJobGauges(len(jobs), paused)

	return Status{
		Running:   s.running,
		TotalJobs: len(jobs),
		Jobs:      jobs,
	}
}

func (j *job) info() JobInfo {
	return JobInfo{
		ID:          j.id,
		Pipeline:    j.pipeline,
		Trigger:     j.trigger.Describe(),
		Paused:      j.paused,
		Running:     j.active,
		NextRunTime: j.nextRun,
		LastRunTime: j.lastRun,
		AddedAt:     j.addedAt,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()

	s.mu.Lock()
	interval := s.pollInterval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.paused || now.Before(j.nextRun) {
			continue
		}

		j.nextRun = j.trigger.Next(now)

		if j.active {
			log.Printf("Job %s skipped: previous execution still running", j.id)
			metrics.RecordFiringSkipped(j.id)
			continue
		}

		j.active = true
		j.lastRun = now
		s.wg.Add(1)
		go s.runJob(j.id, j.pipeline)
	}
}

func (s *Scheduler) runJob(jobID, pipelineName string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if j, ok := s.jobs[jobID]; ok {
			j.active = false
		}
		s.mu.Unlock()
	}()

	log.Printf("Job %s firing pipeline %s", jobID, pipelineName)

	// The execution gets its own context: shutdown stops the timer loop but
	// must never cancel a run mid-write. A failed run never unregisters the
	// job or stops the loop; the job stays scheduled for its next trigger.
	if _, err := s.executor.Execute(context.Background(), pipelineName, pipeline.TriggerScheduled); err != nil {
		log.Printf("Job %s execution failed: %v", jobID, err)
	}
}
