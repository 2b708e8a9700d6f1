package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
	"alfredoptarigan/cv-screening/internal/repositories"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 2 * time.Second
	defaultTaskTimeout  = 5 * time.Minute
	defaultPollInterval = 10 * time.Second
	defaultStallTimeout = 15 * time.Minute
	recoveryBatchSize   = 10
	maxBackoffShift     = 10
)

type WorkerOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	TaskTimeout  time.Duration
	PollInterval time.Duration
	StallTimeout time.Duration
	// ReferenceDir is ingested on startup when the reference collection is empty.
	ReferenceDir string
}

type Worker interface {
	// Initialize prepares the reference store. It is safe to call more than once.
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop()
	Ready() bool
}

type worker struct {
	queue     Queue
	evalRepo  repositories.EvaluationRepository
	reader    CandidateDocumentReader
	evaluator EvaluatorService
	refStore  ReferenceStore
	opts      WorkerOptions
	logger    *zap.Logger

	initMu   sync.Mutex
	ready    atomic.Bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ErrWorkerStopped is returned by Start once Stop has been called.
var ErrWorkerStopped = errors.New("worker stopped")

func NewWorker(
	queue Queue,
	evalRepo repositories.EvaluationRepository,
	reader CandidateDocumentReader,
	evaluator EvaluatorService,
	refStore ReferenceStore,
	opts WorkerOptions,
	logger *zap.Logger,
) Worker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = defaultStallTimeout
	}

	return &worker{
		queue:     queue,
		evalRepo:  evalRepo,
		reader:    reader,
		evaluator: evaluator,
		refStore:  refStore,
		opts:      opts,
		logger:    logger,
	}
}

// Initialize implements Worker.
func (w *worker) Initialize(ctx context.Context) error {
	w.initMu.Lock()
	defer w.initMu.Unlock()

	if w.ready.Load() {
		return nil
	}

	if err := w.refStore.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize reference store: %w", err)
	}

	if w.opts.ReferenceDir != "" {
		report, err := w.refStore.Ingest(ctx, w.opts.ReferenceDir, false)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			w.logger.Warn("⚠️  reference directory not found, skipping ingestion",
				zap.String("dir", w.opts.ReferenceDir))
		case err != nil:
			return fmt.Errorf("failed to ingest reference documents: %w", err)
		case !report.AlreadyPopulated:
			w.logger.Info("📚 reference documents ingested",
				zap.Int("documents", report.Documents),
				zap.Strings("titles", report.Titles))
		}
	}

	w.ready.Store(true)
	return nil
}

// Ready implements Worker.
func (w *worker) Ready() bool {
	return w.ready.Load()
}

// Start implements Worker. Initialization completes before the first task is dequeued.
func (w *worker) Start(ctx context.Context) error {
	if err := w.Initialize(ctx); err != nil {
		return err
	}

	// Stop may run while Initialize is still ingesting; wg.Add must not follow its Wait.
	w.initMu.Lock()
	if w.stopped {
		w.initMu.Unlock()
		return ErrWorkerStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(2)
	w.initMu.Unlock()

	w.logger.Info("🚀 Starting worker",
		zap.Int("max_attempts", w.opts.MaxAttempts),
		zap.Duration("task_timeout", w.opts.TaskTimeout),
	)

	go w.processJobs(runCtx)
	go w.pollPendingJobs(runCtx)

	return nil
}

// Stop implements Worker. An interrupted task is left for recovery.
func (w *worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("🛑 Stopping worker...")
		w.initMu.Lock()
		w.stopped = true
		if w.cancel != nil {
			w.cancel()
		}
		w.initMu.Unlock()
		w.wg.Wait()
		w.logger.Info("✅ Worker stopped")
	})
}

func (w *worker) processJobs(ctx context.Context) {
	defer w.wg.Done()

	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			w.logger.Warn("failed to dequeue task", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		w.processTask(ctx, *task)
	}
}

func (w *worker) processTask(ctx context.Context, task Task) {
	log := w.logger.With(
		zap.String("job_id", task.JobID.String()),
		zap.Int("attempt", task.Attempt),
	)

	eval, err := w.evalRepo.FindByID(ctx, task.JobID)
	if errors.Is(err, repositories.ErrEvaluationNotFound) {
		log.Warn("dropping task for missing evaluation")
		w.ack(ctx, task)
		return
	}
	if err != nil {
		w.handleFailure(ctx, task, newError(KindPersistence, err))
		return
	}
	if eval.Status.IsTerminal() {
		log.Info("evaluation already finished", zap.String("status", string(eval.Status)))
		w.ack(ctx, task)
		return
	}

	if eval.Status == models.StatusQueued {
		err := w.evalRepo.Transition(ctx, eval.ID, models.StatusProcessing, "")
		if errors.Is(err, repositories.ErrInvalidTransition) {
			log.Warn("evaluation changed state before pickup", zap.Error(err))
			w.ack(ctx, task)
			return
		}
		if err != nil {
			w.handleFailure(ctx, task, newError(KindPersistence, err))
			return
		}
	}

	log.Info("🔄 processing evaluation", zap.String("job_title", eval.JobTitle))
	started := time.Now()

	result, err := w.evaluate(ctx, eval, log)
	if err != nil {
		w.handleFailure(ctx, task, err)
		return
	}

	record, err := result.Record(eval.ID)
	if err != nil {
		w.handleFailure(ctx, task, newError(KindUnknown, err))
		return
	}

	err = w.evalRepo.AttachResult(ctx, eval.ID, record)
	switch {
	case errors.Is(err, repositories.ErrEvaluationNotFound), errors.Is(err, repositories.ErrInvalidTransition):
		log.Warn("discarding result for evaluation that left processing", zap.Error(err))
	case err != nil:
		w.handleFailure(ctx, task, newError(KindPersistence, err))
		return
	default:
		log.Info("✅ evaluation completed",
			zap.Float64("cv_match_rate", record.CVMatchRate),
			zap.Float64("project_score", record.ProjectScore),
			zap.String("recommendation", record.Recommendation),
			zap.Duration("elapsed", time.Since(started)),
		)
	}

	w.ack(ctx, task)
}

func (w *worker) evaluate(ctx context.Context, eval *models.Evaluation, log *zap.Logger) (*PipelineResult, error) {
	taskCtx, cancel := context.WithTimeout(ctx, w.opts.TaskTimeout)
	defer cancel()

	cvText, err := w.reader.ReadText(taskCtx, eval.CVDocumentID)
	if err != nil {
		return nil, err
	}
	projectText, err := w.reader.ReadText(taskCtx, eval.ProjectDocumentID)
	if err != nil {
		return nil, err
	}

	return w.evaluator.Evaluate(taskCtx, EvaluationInput{
		JobTitle:    eval.JobTitle,
		CVText:      cvText,
		ProjectText: projectText,
		OnStage: func(stage StageName) {
			log.Debug("stage started", zap.String("stage", string(stage)))
			if err := w.evalRepo.Touch(ctx, eval.ID); err != nil {
				log.Warn("failed to record progress", zap.Error(err))
			}
		},
	})
}

// handleFailure retries a retryable error with exponential backoff until the attempt
// budget is spent, then marks the evaluation failed.
func (w *worker) handleFailure(ctx context.Context, task Task, cause error) {
	log := w.logger.With(
		zap.String("job_id", task.JobID.String()),
		zap.Int("attempt", task.Attempt),
		zap.String("kind", string(KindOf(cause))),
	)

	if ctx.Err() != nil {
		log.Warn("evaluation interrupted by shutdown", zap.Error(cause))
		return
	}

	if IsRetryable(cause) && task.Attempt < w.opts.MaxAttempts {
		err := w.evalRepo.IncrementRetry(ctx, task.JobID)
		if errors.Is(err, repositories.ErrEvaluationNotFound) {
			log.Warn("dropping retry for missing evaluation")
			w.ack(ctx, task)
			return
		}
		if err != nil {
			log.Warn("failed to record retry", zap.Error(err))
		}

		next := task
		next.Attempt++
		next.EnqueuedAt = time.Now()
		delay := w.retryDelay(task.Attempt, cause)

		if err := w.queue.Schedule(ctx, next, delay); err != nil {
			log.Error("failed to schedule retry, leaving for recovery", zap.Error(err))
			return
		}
		log.Warn("⚠️  evaluation attempt failed, retrying", zap.Duration("delay", delay), zap.Error(cause))
		return
	}

	message := UserMessage(cause)
	if err := w.evalRepo.Transition(ctx, task.JobID, models.StatusFailed, message); err != nil {
		log.Error("failed to mark evaluation failed", zap.Error(err))
	}
	if IsReferenceError(cause) {
		log.Error("❌ evaluation failed: reference documents unavailable", zap.Error(cause))
	} else {
		log.Error("❌ evaluation failed", zap.String("message", message), zap.Error(cause))
	}
	w.ack(ctx, task)
}

// backoff returns the delay before the attempt following attempt.
func (w *worker) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return w.opts.InitialDelay << shift
}

// retryDelay is the backoff for attempt, stretched to any retry hint on cause.
func (w *worker) retryDelay(attempt int, cause error) time.Duration {
	delay := w.backoff(attempt)
	if hint := RetryAfter(cause); hint > delay {
		return hint
	}
	return delay
}

func (w *worker) ack(ctx context.Context, task Task) {
	if err := w.queue.Ack(ctx, task); err != nil {
		w.logger.Warn("failed to ack task", zap.String("job_id", task.JobID.String()), zap.Error(err))
	}
}

// pollPendingJobs re-enqueues queued jobs the queue lost and processing jobs whose
// worker stopped reporting progress.
func (w *worker) pollPendingJobs(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.Info("🔄 Starting pending jobs poller", zap.Duration("interval", w.opts.PollInterval))
	w.recoverJobs(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("🔄 Pending jobs poller stopped")
			return
		case <-ticker.C:
			w.recoverJobs(ctx)
		}
	}
}

func (w *worker) recoverJobs(ctx context.Context) {
	pending, err := w.evalRepo.FindPendingJobs(ctx, recoveryBatchSize)
	if err != nil {
		w.logger.Warn("⚠️  Failed to fetch pending jobs", zap.Error(err))
	}
	for i := range pending {
		w.requeue(ctx, NewTask(&pending[i]))
	}

	stalled, err := w.evalRepo.FindStalledJobs(ctx, time.Now().Add(-w.opts.StallTimeout), recoveryBatchSize)
	if err != nil {
		w.logger.Warn("⚠️  Failed to fetch stalled jobs", zap.Error(err))
	}
	for i := range stalled {
		job := &stalled[i]
		task := NewTask(job)
		task.Attempt++

		if task.Attempt > w.opts.MaxAttempts {
			message := UserMessage(newErrorf(KindTimeout, "no progress for %s", w.opts.StallTimeout))
			if err := w.evalRepo.Transition(ctx, job.ID, models.StatusFailed, message); err != nil {
				w.logger.Error("failed to fail stalled evaluation", zap.String("job_id", job.ID.String()), zap.Error(err))
			}
			continue
		}

		if err := w.evalRepo.IncrementRetry(ctx, job.ID); err != nil {
			w.logger.Warn("failed to record retry", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		w.requeue(ctx, task)
	}
}

func (w *worker) requeue(ctx context.Context, task Task) {
	if err := w.queue.Enqueue(ctx, task); err != nil {
		w.logger.Warn("failed to enqueue recovered job", zap.String("job_id", task.JobID.String()), zap.Error(err))
		return
	}
	w.logger.Debug("📥 recovered job enqueued", zap.String("job_id", task.JobID.String()), zap.Int("attempt", task.Attempt))
}
