package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/custodybuddy/internal/metrics"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrStopped is returned by Enqueue before Start or after Stop.
	ErrStopped = errors.New("worker is not running")
)

// Worker manages background job processing with concurrent workers.
// Jobs live in a bounded in-memory queue and are lost on restart.
type Worker struct {
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger
	queue    chan Job

	// Synchronization
	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
	cancel  context.CancelFunc
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger,
		queue:    make(chan Job, config.QueueSize),
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds a job handler to the worker.
// The handler's Type() must be unique. Call this before Start().
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
	w.logger.Debug("Registered job handler", "job_type", jobType)
}

// Start begins processing jobs with the configured number of concurrent workers.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	// Start worker goroutines
	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i+1)
	}

	w.logger.Info("Worker started", "concurrency", w.config.Concurrency, "queue_size", w.config.QueueSize)
}

// Stop signals all workers to stop and waits for them to finish.
// Running jobs get ShutdownTimeout to complete before they are canceled.
// Jobs still queued are dropped. A stopped worker cannot be restarted.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("Stopping worker...")
	close(w.stopCh)

	// Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, canceling running jobs")
		w.cancel()
		<-done
	}
	w.cancel()

	if dropped := len(w.queue); dropped > 0 {
		w.logger.Warn("Dropped queued jobs on shutdown", "count", dropped)
	}
}

// enqueue adds job to the queue without blocking.
func (w *Worker) enqueue(job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.running {
		metrics.JobDropped(job.Type)
		return ErrStopped
	}

	select {
	case w.queue <- job:
		return nil
	default:
		metrics.JobDropped(job.Type)
		return ErrQueueFull
	}
}

// runWorker is the main loop for a worker goroutine.
// It takes jobs from the queue until stopCh is closed.
func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	logger.Debug("Worker started")

	for {
		select {
		case <-w.stopCh:
			logger.Debug("Worker stopping")
			return
		case <-ctx.Done():
			return
		case job := <-w.queue:
			w.processJob(ctx, job, logger)
		}
	}
}

// processJob runs a job, retrying transient failures with exponential backoff.
func (w *Worker) processJob(ctx context.Context, job Job, logger *slog.Logger) {
	logger = logger.With("job_id", job.ID, "job_type", job.Type)

	if job.Delay > 0 && !w.sleep(ctx, job.Delay) {
		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logger.Info("Processing job", "attempt", attempt)
		start := time.Now()
		metrics.JobStarted(job.Type)

		err := w.executeJob(ctx, job)
		if err == nil {
			metrics.JobCompleted(job.Type, time.Since(start))
			logger.Info("Job completed", "duration", time.Since(start))
			return
		}

		metrics.JobFailed(job.Type)
		logger.Error("Job failed", "attempt", attempt, "error", err)

		if IsPermanent(err) {
			logger.Warn("Job failed with permanent error, will not retry", "error", err)
			return
		}
		if attempt == maxAttempts {
			return
		}

		metrics.JobRetried(job.Type)
		delay := w.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
		if !w.sleep(ctx, delay) {
			return
		}
	}
}

// executeJob runs the appropriate handler for the job with a timeout context.
func (w *Worker) executeJob(ctx context.Context, job Job) error {
	// Find the handler for this job type
	handler, ok := w.handlers[job.Type]
	if !ok {
		// No handler registered - this is a permanent error
		return NewPermanentError(fmt.Errorf("no handler registered for job type: %s", job.Type))
	}

	// Create a context with timeout
	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	return handler.Handle(jobCtx, job.Payload)
}

// sleep waits for d unless the worker is stopping. Returns false if the
// wait was interrupted.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
