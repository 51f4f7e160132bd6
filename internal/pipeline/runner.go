package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/feedpulse/feedpulse/internal/breaker"
	"github.com/feedpulse/feedpulse/internal/enrich"
	"github.com/feedpulse/feedpulse/internal/metrics"
	"github.com/feedpulse/feedpulse/internal/record"
	"github.com/feedpulse/feedpulse/internal/retry"
	"github.com/feedpulse/feedpulse/internal/source"
)

var (
	ErrUnknownPipeline = errors.New("unknown pipeline")
	ErrAlreadyRunning  = errors.New("pipeline is already running")
)

// Repository is the persistence surface the runner needs. Upsert reports
// whether the record was created (true) or an existing row was updated.
type Repository interface {
	FindByExternalID(ctx context.Context, externalID string) (*record.Record, error)
	Upsert(ctx context.Context, rec *record.Record) (created bool, err error)
	SaveRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
}

// CacheInvalidator clears cached reads after a run changed the data they
// were built from. Failures are logged, never escalated.
type CacheInvalidator interface {
	InvalidatePrefixes(ctx context.Context, prefixes []string) error
}

// Source is one upstream within a pipeline, e.g. a single subreddit or one
// search query. Upstream names the shared resource the circuit breaker is
// scoped to; sources of different pipelines hitting the same upstream share
// a breaker.
type Source struct {
	Name     string
	Upstream string
	Fetcher  source.Fetcher
	Params   source.Params
}

// Pipeline is a named, repeatable ingestion procedure: an ordered list of
// sources plus the cache namespaces its data feeds.
type Pipeline struct {
	Name          string
	Sources       []Source
	CachePrefixes []string
}

// Options carries optional per-run settings. RetryOf marks the run as a
// follow-up to an earlier failed run.
type Options struct {
	RetryOf    string
	RetryCount int
}

type Runner struct {
	repo     Repository
	cache    CacheInvalidator
	enricher *enrich.Enricher
	retry    retry.Policy

	breakerThreshold int
	breakerTimeout   time.Duration

	mu        sync.Mutex
	pipelines map[string]*Pipeline
	breakers  map[string]*breaker.Breaker
	active    map[string]bool
}

type RunnerOption func(*Runner)

func WithRetryPolicy(p retry.Policy) RunnerOption {
	return func(r *Runner) { r.retry = p }
}

func WithBreakerSettings(failureThreshold int, timeout time.Duration) RunnerOption {
	return func(r *Runner) {
		r.breakerThreshold = failureThreshold
		r.breakerTimeout = timeout
	}
}

func NewRunner(repo Repository, cache CacheInvalidator, enricher *enrich.Enricher, opts ...RunnerOption) *Runner {
	r := &Runner{
		repo:             repo,
		cache:            cache,
		enricher:         enricher,
		retry:            retry.API,
		breakerThreshold: 5,
		breakerTimeout:   60 * time.Second,
		pipelines:        make(map[string]*Pipeline),
		breakers:         make(map[string]*breaker.Breaker),
		active:           make(map[string]bool),
	}
	r.retry.Retryable = source.IsRetryable

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds or replaces a pipeline definition.
func (r *Runner) Register(p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Name] = p
}

func (r *Runner) Pipelines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}

	return names
}

// Trigger starts an execution in the background and returns its run ID
// immediately. Callers poll run status through the run history surface.
// Registration and concurrency checks still happen synchronously so the
// caller gets an error for an unknown or already running pipeline.
func (r *Runner) Trigger(ctx context.Context, name string, trigger TriggerType) (string, error) {
	p, err := r.acquire(name)
	if err != nil {
		return "", err
	}

	run := NewRun(name, trigger)
	go func() {
		defer r.release(name)
		if _, err := r.execute(ctx, p, run); err != nil {
			log.Printf("Pipeline %s run %s failed: %v", name, run.RunID, err)
		}
	}()

	return run.RunID, nil
}

// Execute runs one complete, metered, fault-isolated execution of the named
// pipeline and persists its outcome. Per-record and per-source failures are
// absorbed into the run's counters; only run-fatal errors are returned.
func (r *Runner) Execute(ctx context.Context, name string, trigger TriggerType) (*Run, error) {
	return r.ExecuteWithOptions(ctx, name, trigger, Options{})
}

func (r *Runner) ExecuteWithOptions(ctx context.Context, name string, trigger TriggerType, opts Options) (*Run, error) {
	p, err := r.acquire(name)
	if err != nil {
		return nil, err
	}
	defer r.release(name)

	run := NewRun(name, trigger)
	if opts.RetryOf != "" {
		run.IsRetry = true
		run.OriginalRunID = opts.RetryOf
		run.RetryCount = opts.RetryCount
	}

	return r.execute(ctx, p, run)
}

func (r *Runner) acquire(name string) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}
	if r.active[name] {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	r.active[name] = true

	return p, nil
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, name)
}

func (r *Runner) breakerFor(upstream string) *breaker.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[upstream]
	if !ok {
		b = breaker.New(upstream, r.breakerThreshold, r.breakerTimeout)
		r.breakers[upstream] = b
	}

	return b
}

func (r *Runner) execute(ctx context.Context, p *Pipeline, run *Run) (_ *Run, fatalErr error) {
	log.Printf("Pipeline %s run %s started (trigger: %s)", p.Name, run.RunID, run.TriggerType)
	metrics.RecordRunStarted(p.Name, string(run.TriggerType))

	// The running row goes in before any work so the run is never silently
	// lost. If this insert fails there is nothing to observe, so the error
	// goes straight to the caller.
	if err := r.repo.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			fatalErr = fmt.Errorf("pipeline %s panicked: %v", p.Name, rec)
			r.failRun(run, fatalErr, string(debug.Stack()))
		}
	}()

	var totalRecordTime time.Duration
	for _, src := range p.Sources {
		records, ok := r.fetchSource(ctx, p, src)
		if !ok {
			continue
		}

		for i := range records {
			if err := ctx.Err(); err != nil {
				fatal := fmt.Errorf("pipeline %s cancelled: %w", p.Name, err)
				r.failRun(run, fatal, "")
				return nil, fatal
			}

			start := time.Now()
			r.processRecord(ctx, run, &records[i])
			totalRecordTime += time.Since(start)
		}
	}

	if run.RecordsProcessed > 0 {
		run.AvgProcessingTimeMs = float64(totalRecordTime.Microseconds()) / 1000.0 / float64(run.RecordsProcessed)
	}

	r.invalidateCache(ctx, p)

	run.complete(StatusSuccess, time.Now())
	if err := r.repo.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run %s outcome: %w", run.RunID, err)
	}

	metrics.RecordRunCompleted(p.Name, string(run.Status), time.Duration(run.DurationSeconds*float64(time.Second)))
	metrics.RecordRunCounters(p.Name, run.RecordsProcessed, run.RecordsStored, run.RecordsUpdated, run.RecordsFailed)
	metrics.RecordQualityScore(p.Name, run.DataQualityScore)

	log.Printf("Pipeline %s run %s completed: processed=%d stored=%d updated=%d failed=%d quality=%.1f",
		p.Name, run.RunID, run.RecordsProcessed, run.RecordsStored, run.RecordsUpdated,
		run.RecordsFailed, run.DataQualityScore)

	return run, nil
}

// fetchSource pulls one source through its retry policy and circuit
// breaker. A failure here zeroes that source's contribution for this run
// but never aborts the run.
func (r *Runner) fetchSource(ctx context.Context, p *Pipeline, src Source) ([]record.Record, bool) {
	upstream := src.Upstream
	if upstream == "" {
		upstream = src.Name
	}

	b := r.breakerFor(upstream)
	if b.IsOpen() {
		log.Printf("Pipeline %s skipping source %s: circuit breaker open", p.Name, src.Name)
		metrics.RecordSourceSkipped(p.Name, src.Name)
		return nil, false
	}

	var records []record.Record
	err := r.retry.Do(ctx, func() error {
		fetched, err := source.FetchAndTransform(ctx, src.Fetcher, src.Params)
		if err != nil {
			return err
		}
		records = fetched
		return nil
	})
	if err != nil {
		b.RecordFailure()
		log.Printf("Pipeline %s source %s failed: %v", p.Name, src.Name, err)
		return nil, false
	}

	b.RecordSuccess()
	return records, true
}

// processRecord enriches and upserts one record. Any failure counts against
// records_failed and the loop moves on.
func (r *Runner) processRecord(ctx context.Context, run *Run, rec *record.Record) {
	run.RecordsProcessed++

	if err := r.enricher.Enrich(ctx, rec); err != nil {
		run.RecordsFailed++
		log.Printf("Enrichment failed for record %s: %v", rec.ExternalID, err)
		return
	}

	created, err := r.repo.Upsert(ctx, rec)
	if err != nil {
		run.RecordsFailed++
		log.Printf("Upsert failed for record %s: %v", rec.ExternalID, err)
		return
	}

	if created {
		run.RecordsStored++
	} else {
		run.RecordsUpdated++
	}
}

func (r *Runner) invalidateCache(ctx context.Context, p *Pipeline) {
	if r.cache == nil || len(p.CachePrefixes) == 0 {
		return
	}

	if err := r.cache.InvalidatePrefixes(ctx, p.CachePrefixes); err != nil {
		log.Printf("Cache invalidation failed for pipeline %s: %v", p.Name, err)
	}
}

func (r *Runner) failRun(run *Run, cause error, stackTrace string) {
	run.ErrorMessage = cause.Error()
	if inner := errors.Unwrap(cause); inner != nil {
		run.ErrorType = fmt.Sprintf("%T", inner)
	} else {
		run.ErrorType = fmt.Sprintf("%T", cause)
	}
	run.StackTrace = stackTrace
	run.complete(StatusFailed, time.Now())

	// Best effort with a fresh context: the run context may already be
	// cancelled and the failure must still be durably recorded.
	updateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.repo.UpdateRun(updateCtx, run); err != nil {
		log.Printf("Failed to persist failed run %s: %v", run.RunID, err)
	}

	metrics.RecordRunCompleted(run.PipelineName, string(run.Status), time.Duration(run.DurationSeconds*float64(time.Second)))
}
