package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/airbais/conductor/db"
	"github.com/airbais/conductor/errors"
	"github.com/airbais/conductor/tool"
)

const (
	// MaxInterruptedJobsToRecover bounds the startup sweep over jobs left
	// in running state by a previous crash.
	MaxInterruptedJobsToRecover = 1000

	// cleanupInterval is how often the retention sweep runs.
	cleanupInterval = 1 * time.Hour

	// stopTimeout bounds how long Stop waits for in-flight jobs.
	stopTimeout = 30 * time.Second
)

// ExecutorConfig contains configuration for the executor pool.
type ExecutorConfig struct {
	Workers              int           `json:"workers"`                 // Number of concurrent workers
	PollInterval         time.Duration `json:"poll_interval"`           // How often each worker checks for queued jobs
	JobTimeout           time.Duration `json:"job_timeout"`             // Default per-job wall clock limit
	Retention            time.Duration `json:"retention"`               // How long terminal jobs are kept
	MaxLaunchesPerMinute int           `json:"max_launches_per_minute"` // Subprocess launch rate cap
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Workers:              2,
		PollInterval:         1 * time.Second,
		JobTimeout:           15 * time.Minute,
		Retention:            7 * 24 * time.Hour,
		MaxLaunchesPerMinute: 30,
	}
}

// Executor runs queued jobs against registered tools with a pool of
// polling workers. Each worker claims the oldest queued job via the
// store's compare-and-set transition, so a job is executed at most once
// no matter how many workers (or processes) poll the same database.
type Executor struct {
	queue     *Queue
	registry  *tool.Registry
	config    ExecutorConfig
	limiter   *rate.Limiter
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	running       map[string]context.CancelFunc // per-job cancel funcs, keyed by job id
	activeWorkers int
	jobsProcessed int
}

// NewExecutor creates an executor over db with the given tool registry.
func NewExecutor(database *sql.DB, registry *tool.Registry, cfg ExecutorConfig, logger *zap.SugaredLogger) *Executor {
	return NewExecutorWithContext(context.Background(), database, registry, cfg, logger)
}

// NewExecutorWithContext creates an executor whose workers stop when ctx
// is cancelled. Useful for tests and for shutdown coordination with the
// owning server.
func NewExecutorWithContext(ctx context.Context, database *sql.DB, registry *tool.Registry, cfg ExecutorConfig, logger *zap.SugaredLogger) *Executor {
	workerCtx, cancel := context.WithCancel(ctx)

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultExecutorConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultExecutorConfig().PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultExecutorConfig().JobTimeout
	}

	limiter := rate.NewLimiter(rate.Limit(float64(cfg.MaxLaunchesPerMinute)/60.0), 1)
	if cfg.MaxLaunchesPerMinute <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	return &Executor{
		queue:     NewQueue(database),
		registry:  registry,
		config:    cfg,
		limiter:   limiter,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger.Named("executor"),
		running:   make(map[string]context.CancelFunc),
	}
}

// Queue returns the job queue for submission and subscription.
func (e *Executor) Queue() *Queue {
	return e.queue
}

// Workers returns the configured worker count.
func (e *Executor) Workers() int {
	return e.config.Workers
}

// Start recovers jobs interrupted by a previous crash, then launches
// the worker pool and the retention sweep.
func (e *Executor) Start() {
	e.mu.Lock()
	select {
	case <-e.ctx.Done():
		// Restarted after Stop; recreate the worker context
		e.ctx, e.cancel = context.WithCancel(e.parentCtx)
	default:
	}
	e.mu.Unlock()

	if err := e.recoverInterruptedJobs(); err != nil {
		e.logger.Warnw("Failed to recover interrupted jobs", "error", err)
	}

	if warning := e.checkMemoryPressure(); warning != "" {
		e.logger.Warnw("Memory pressure warning", "warning", warning, "workers", e.config.Workers)
	}

	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	if e.config.Retention > 0 {
		e.wg.Add(1)
		go e.cleanupLoop()
	}

	e.logger.Infow("Executor started",
		"workers", e.config.Workers,
		"poll_interval", e.config.PollInterval,
		"job_timeout", e.config.JobTimeout)
}

// Stop cancels all workers and in-flight jobs, then waits up to 30s for
// them to exit.
func (e *Executor) Stop() {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Infow("Executor stopped, all workers exited cleanly")
	case <-time.After(stopTimeout):
		e.logger.Warnw("Executor stop timeout, workers may still be exiting", "timeout", stopTimeout)
	}
}

// Submit validates parameters against the tool contract and enqueues a
// new job. Validation happens before the job exists: a bad request
// never produces a job id.
func (e *Executor) Submit(toolName string, parameters json.RawMessage) (*Job, error) {
	t, err := e.registry.Lookup(toolName)
	if err != nil {
		return nil, err
	}

	params := tool.Params{}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &params); err != nil {
			return nil, errors.NewInvalidParametersError("parameters must be a JSON object: %v", err)
		}
	}

	if err := t.Validate(params); err != nil {
		return nil, err
	}

	job := New(toolName, parameters)
	if err := e.queue.Enqueue(job); err != nil {
		return nil, err
	}

	e.logger.Infow("Job submitted", "job_id", job.ID, "tool", toolName)
	return job, nil
}

// Cancel cancels a job. For queued jobs the status flips directly; for
// running jobs the per-job context is cancelled so the subprocess is
// killed, and the status transition races the worker's finalization
// with the store's compare-and-set deciding the winner. Cancelling a
// terminal job is a no-op.
func (e *Executor) Cancel(id string) (*Job, error) {
	job, err := e.queue.Cancel(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	cancelJob, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancelJob()
	}

	return job, nil
}

// ActiveWorkers returns the number of workers currently executing jobs.
func (e *Executor) ActiveWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeWorkers
}

// recoverInterruptedJobs fails jobs left in running state by an
// ungraceful shutdown. Their subprocesses died with the server, so the
// honest outcome is failure with a distinct error code; clients can
// resubmit.
func (e *Executor) recoverInterruptedJobs() error {
	orphans, err := e.queue.Store().ListByStatus(StatusRunning, MaxInterruptedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}
	if len(orphans) == 0 {
		return nil
	}

	e.logger.Warnw("Found jobs interrupted by previous shutdown", "count", len(orphans))

	for _, orphan := range orphans {
		_, err := e.queue.Store().Transition(orphan.ID, StatusRunning, StatusFailed, Fields{
			Error:     "job interrupted by server restart",
			ErrorCode: ErrorCodeInterrupted,
		})
		if err != nil {
			e.logger.Warnw("Failed to mark interrupted job", "job_id", orphan.ID, "error", err)
			continue
		}
		e.logger.Infow("Marked interrupted job as failed", "job_id", orphan.ID, "tool", orphan.Tool)
	}

	return nil
}

// worker polls for queued jobs until the executor context is cancelled.
func (e *Executor) worker(id int) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.processNext(id); err != nil {
				select {
				case <-e.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					return
				}
				e.logger.Errorw("Worker error", "worker_id", id, "error", err)
			}
		}
	}
}

// processNext claims and runs a single job, if one is available.
func (e *Executor) processNext(workerID int) error {
	select {
	case <-e.ctx.Done():
		return nil
	default:
	}

	// Gate launches before claiming, so a rate-limited worker leaves the
	// job queued for whichever worker next has a token.
	if !e.limiter.Allow() {
		return nil
	}

	job, err := e.queue.Claim()
	if err != nil {
		return errors.Wrap(err, "failed to claim job")
	}
	if job == nil {
		return nil
	}

	e.mu.Lock()
	e.jobsProcessed++
	e.activeWorkers++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.activeWorkers--
		e.mu.Unlock()
	}()

	e.logger.Infow("Job started", "job_id", job.ID, "tool", job.Tool, "worker_id", workerID)
	e.execute(job)
	return nil
}

// execute runs a claimed job to a terminal state. Every exit path
// finalizes through a compare-and-set on running, so a concurrent
// cancel and the worker can never both write an outcome.
func (e *Executor) execute(job *Job) {
	timeout := e.config.JobTimeout
	if d, err := e.registry.Lookup(job.Tool); err == nil {
		if st, ok := d.(*tool.ScriptTool); ok {
			if t := st.Timeout(); t > 0 {
				timeout = t
			}
		}
	}

	ctx, cancelJob := context.WithTimeout(e.ctx, timeout)
	defer cancelJob()

	e.mu.Lock()
	e.running[job.ID] = cancelJob
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, job.ID)
		e.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			e.finalizeFailure(job, errors.Newf("panic during job execution: %v", r))
		}
	}()

	t, err := e.registry.Lookup(job.Tool)
	if err != nil {
		e.finalizeFailure(job, err)
		return
	}

	params := tool.Params{}
	if len(job.Parameters) > 0 {
		if err := json.Unmarshal(job.Parameters, &params); err != nil {
			e.finalizeFailure(job, errors.Wrap(err, "invalid stored parameters"))
			return
		}
	}

	start := time.Now()
	result, err := t.Execute(ctx, params)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.Wrapf(errors.ErrTimeout, "tool %s timed out after %s", job.Tool, timeout)
		}
		e.finalizeFailure(job, err)
		return
	}

	if _, err := e.queue.Complete(job.ID, result); err != nil {
		if errors.IsStaleTransition(err) {
			// Cancelled while finishing; the cancel outcome stands.
			e.logger.Infow("Job finished after cancellation, result discarded", "job_id", job.ID)
			return
		}
		e.logger.Errorw("Failed to record job completion", "job_id", job.ID, "error", err)
		return
	}

	e.logger.Infow("Job completed",
		"job_id", job.ID,
		"tool", job.Tool,
		"duration_ms", elapsed.Milliseconds())
}

// finalizeFailure records a failure outcome, tolerating a lost race
// against cancellation.
func (e *Executor) finalizeFailure(job *Job, jobErr error) {
	if _, err := e.queue.Fail(job.ID, jobErr); err != nil {
		if errors.IsStaleTransition(err) {
			e.logger.Infow("Job failed after cancellation, failure discarded", "job_id", job.ID)
			return
		}
		e.logger.Errorw("Failed to record job failure", "job_id", job.ID, "error", err)
		return
	}

	e.logger.Warnw("Job failed",
		"job_id", job.ID,
		"tool", job.Tool,
		"error", jobErr,
		"error_code", ClassifyError(jobErr))
}

// cleanupLoop deletes terminal jobs older than the retention window.
func (e *Executor) cleanupLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	// Run one sweep at startup so restarts don't accumulate stale rows.
	e.runCleanup()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runCleanup()
		}
	}
}

func (e *Executor) runCleanup() {
	removed, err := e.queue.Store().CleanupOldJobs(e.config.Retention)
	if err != nil {
		if !db.IsDatabaseClosed(err) {
			e.logger.Warnw("Retention cleanup failed", "error", err)
		}
		return
	}
	if removed > 0 {
		e.logger.Infow("Retention cleanup removed old jobs",
			"removed", removed,
			"retention", e.config.Retention)
	}
}
