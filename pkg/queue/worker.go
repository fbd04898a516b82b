// Package queue drives scrape tasks from queued to a terminal state. The
// worker polls the store on a fixed interval, runs claimed tasks through the
// orchestrator inside a bounded pool, persists outcomes and keeps job
// aggregate status accurate. It also exposes the service surface the
// surrounding application calls to enqueue work and observe progress.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulsetrack/scraper-go/pkg/orchestrator"
	"github.com/pulsetrack/scraper-go/pkg/providers"
	"github.com/pulsetrack/scraper-go/pkg/retry"
	"github.com/pulsetrack/scraper-go/pkg/store"
)

// Default worker parameters
const (
	DefaultPollInterval     = 2 * time.Second
	DefaultBatchSize        = 20
	DefaultConcurrencyLimit = 5
)

// Scraper produces one unified result per target. Satisfied by
// *orchestrator.Orchestrator; tests substitute scripted implementations.
type Scraper interface {
	Scrape(ctx context.Context, url string, platform providers.Platform) orchestrator.Result
}

// WorkerConfig holds the queue worker construction parameters.
type WorkerConfig struct {
	Store   store.Store
	Scraper Scraper
	Policy  retry.Policy
	// PollInterval is the delay between poll cycles
	PollInterval time.Duration
	// BatchSize is the max queued tasks claimed per cycle
	BatchSize int
	// ConcurrencyLimit bounds in-flight scrape calls system-wide
	ConcurrencyLimit int
	Logger           *logrus.Logger
}

// Worker is the task queue scheduler. All job/task mutations in the system
// go through it; nothing else writes task state after enqueue.
type Worker struct {
	store   store.Store
	scraper Scraper
	policy  retry.Policy
	logger  *logrus.Logger

	pollInterval time.Duration
	batchSize    int
	sem          chan struct{}

	mu      sync.Mutex
	started bool
	polling bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker creates a stopped worker. Zero config values fall back to the
// defaults.
func NewWorker(config WorkerConfig) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.ConcurrencyLimit <= 0 {
		config.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Worker{
		store:        config.Store,
		scraper:      config.Scraper,
		policy:       config.Policy,
		logger:       config.Logger,
		pollInterval: config.PollInterval,
		batchSize:    config.BatchSize,
		sem:          make(chan struct{}, config.ConcurrencyLimit),
	}
}

// Start begins the polling loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		w.logger.Debug("Queue worker already started")
		return
	}

	w.started = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.WithFields(logrus.Fields{
		"poll_interval": w.pollInterval.String(),
		"batch_size":    w.batchSize,
		"concurrency":   cap(w.sem),
	}).Info("Queue worker started")

	go w.run(w.stopCh, w.doneCh)
}

// Stop halts the polling loop and waits for the in-flight poll cycle,
// including its tasks, to finish. There is no hard cancellation; retry
// timers that fire later still flip their tasks back to queued so a
// restarted worker resumes them.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	w.logger.Info("Queue worker stopped")
}

func (w *Worker) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// First cycle immediately so freshly enqueued work is not left waiting
	// a full interval.
	w.PollOnce(context.Background())

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			w.PollOnce(context.Background())
		}
	}
}

// PollOnce runs a single poll cycle: claim up to batchSize queued tasks,
// mark their jobs running, execute them through the bounded pool, then
// recompute aggregate status for every active job. Cycles never overlap;
// a cycle entered while another is running returns immediately.
func (w *Worker) PollOnce(ctx context.Context) {
	w.mu.Lock()
	if w.polling {
		w.mu.Unlock()
		return
	}
	w.polling = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.polling = false
		w.mu.Unlock()
	}()

	tasks, err := w.store.GetQueuedTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Error("Failed to fetch queued tasks")
		return
	}

	if len(tasks) > 0 {
		w.logger.WithField("task_count", len(tasks)).Debug("Claimed queued tasks")
		w.markJobsRunning(ctx, tasks)

		var wg sync.WaitGroup
		for _, task := range tasks {
			taskCopy := task
			wg.Add(1)
			w.sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-w.sem }()
				w.processTask(ctx, taskCopy)
			}()
		}
		wg.Wait()
	}

	w.recomputeJobs(ctx)
}

// markJobsRunning transitions each claimed task's job from queued to
// running, once per job per cycle.
func (w *Worker) markJobsRunning(ctx context.Context, tasks []store.Task) {
	seen := make(map[string]bool)
	for _, task := range tasks {
		if seen[task.JobID] {
			continue
		}
		seen[task.JobID] = true

		job, err := w.store.GetJob(ctx, task.JobID)
		if err != nil {
			w.logger.WithError(err).WithField("job_id", task.JobID).Error("Failed to load job")
			continue
		}
		if job.Status != store.JobQueued {
			continue
		}

		if err := w.store.UpdateJobStatus(ctx, job.ID, store.JobRunning, nil); err != nil {
			w.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to mark job running")
		}
	}
}

// processTask runs one task through the orchestrator and persists the
// outcome. A failure here never crashes the poll loop: store errors leave
// the task for the next cycle to re-observe, scrape failures go through the
// retry path.
func (w *Worker) processTask(ctx context.Context, task store.Task) {
	log := w.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"job_id":   task.JobID,
		"platform": task.Platform,
		"attempts": task.Attempts,
	})

	if err := w.store.UpdateTask(ctx, task.ID, map[string]interface{}{
		"status": store.TaskRunning,
	}); err != nil {
		log.WithError(err).Error("Failed to mark task running")
		return
	}

	result := w.scraper.Scrape(ctx, task.URL, task.Platform)

	if result.Success {
		w.completeTask(ctx, task, result)
		return
	}

	w.failTask(ctx, task, result)
}

func (w *Worker) completeTask(ctx context.Context, task store.Task, result orchestrator.Result) {
	log := w.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"job_id":   task.JobID,
		"provider": result.Provider,
	})

	// The successful try counts as an attempt too.
	if err := w.store.UpdateTask(ctx, task.ID, map[string]interface{}{
		"status":         store.TaskSuccess,
		"attempts":       task.Attempts + 1,
		"result_metrics": result.Metrics,
		"last_error":     nil,
	}); err != nil {
		log.WithError(err).Error("Failed to persist task success")
		return
	}

	m := result.Metrics
	if err := w.store.UpdateLinkMetrics(ctx, task.LinkID, m.Views, m.Likes, m.Comments, m.Shares, m.EngagementRate); err != nil {
		log.WithError(err).Error("Failed to update link metrics")
	}
	if err := w.store.AppendEngagementSnapshot(ctx, task.LinkID, m.Views, m.Likes, m.Comments, m.Shares, m.EngagementRate); err != nil {
		log.WithError(err).Error("Failed to append engagement snapshot")
	}

	log.WithFields(logrus.Fields{
		"views": m.Views,
		"likes": m.Likes,
	}).Info("Task completed")
}

// failTask classifies the failure and either schedules a retry with
// exponential backoff or marks the task permanently failed. Attempts
// increments on every running→{pending_retry|failed} transition.
func (w *Worker) failTask(ctx context.Context, task store.Task, result orchestrator.Result) {
	attempts := task.Attempts + 1
	message := result.ErrorMessage()

	log := w.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"job_id":   task.JobID,
		"attempts": attempts,
		"class":    result.Class.String(),
		"error":    message,
	})

	if result.Class.Permanent() || attempts >= w.policy.MaxAttempts {
		if err := w.store.UpdateTask(ctx, task.ID, map[string]interface{}{
			"status":     store.TaskFailed,
			"attempts":   attempts,
			"last_error": message,
		}); err != nil {
			log.WithError(err).Error("Failed to persist task failure")
			return
		}

		if err := w.store.MarkLinkError(ctx, task.LinkID, message); err != nil {
			log.WithError(err).Error("Failed to mark link error")
		}

		log.Warn("Task failed permanently")
		return
	}

	delay := w.policy.Backoff(task.Attempts)
	if err := w.store.UpdateTask(ctx, task.ID, map[string]interface{}{
		"status":     store.TaskPendingRetry,
		"attempts":   attempts,
		"last_error": message,
	}); err != nil {
		log.WithError(err).Error("Failed to persist task retry state")
		return
	}

	log.WithField("backoff", delay.String()).Info("Scheduling task retry")

	// Deferred re-queue; a worker goroutine is never held waiting on
	// backoff.
	time.AfterFunc(delay, func() {
		err := w.store.UpdateTask(context.Background(), task.ID, map[string]interface{}{
			"status": store.TaskQueued,
		})
		if err != nil {
			w.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to re-queue task")
		}
	})
}

// recomputeJobs recomputes aggregate status for every non-terminal job.
// Terminal states are final; a job is never reopened.
func (w *Worker) recomputeJobs(ctx context.Context) {
	jobs, err := w.store.GetActiveJobs(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Failed to fetch active jobs")
		return
	}

	for _, job := range jobs {
		counts, err := w.store.CountTasks(ctx, job.ID)
		if err != nil {
			w.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to count job tasks")
			continue
		}

		status, terminal := JobStatusFromCounts(counts)
		if !terminal {
			continue
		}

		now := time.Now()
		if err := w.store.UpdateJobStatus(ctx, job.ID, status, &now); err != nil {
			w.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to finalize job")
			continue
		}

		w.logger.WithFields(logrus.Fields{
			"job_id":    job.ID,
			"status":    status,
			"total":     counts.Total,
			"succeeded": counts.Succeeded,
			"failed":    counts.Failed,
		}).Info("Job finished")
	}
}

// JobStatusFromCounts derives a job's aggregate status from its task
// counts. Pure function: recomputing between task updates always yields the
// same result. The second return value reports whether the derived status
// is terminal; non-terminal jobs are left unchanged by the caller.
func JobStatusFromCounts(c store.TaskCounts) (store.JobStatus, bool) {
	if c.Total == 0 || c.Completed < c.Total {
		return store.JobRunning, false
	}
	if c.Failed > 0 {
		return store.JobFailed, true
	}
	return store.JobDone, true
}
