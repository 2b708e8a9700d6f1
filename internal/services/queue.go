package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
)

var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
)

// Task identifies one delivery of an evaluation job. It never carries document content.
type Task struct {
	JobID             uuid.UUID `json:"job_id"`
	JobTitle          string    `json:"job_title"`
	CVDocumentID      uuid.UUID `json:"cv_document_id"`
	ProjectDocumentID uuid.UUID `json:"project_document_id"`
	Attempt           int       `json:"attempt"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
}

// NewTask builds the next delivery for eval, numbering attempts from its retry count.
func NewTask(eval *models.Evaluation) Task {
	return Task{
		JobID:             eval.ID,
		JobTitle:          eval.JobTitle,
		CVDocumentID:      eval.CVDocumentID,
		ProjectDocumentID: eval.ProjectDocumentID,
		Attempt:           eval.RetryCount + 1,
		EnqueuedAt:        time.Now(),
	}
}

// Queue delivers tasks to the worker. A job id is held at most once between Enqueue
// and Ack; duplicate enqueues are dropped.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Schedule redelivers task after delay, replacing any in-flight delivery of the same job.
	Schedule(ctx context.Context, task Task, delay time.Duration) error
	// Dequeue blocks until a task is ready, ctx is done, or the queue is closed.
	Dequeue(ctx context.Context) (*Task, error)
	Ack(ctx context.Context, task Task) error
	Close() error
}

type taskState int

const (
	taskPending taskState = iota
	taskInFlight
)

type memoryQueue struct {
	ready  chan Task
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	known  map[uuid.UUID]taskState
	timers map[uuid.UUID]*time.Timer
	closed bool
}

// NewMemoryQueue returns a process-local queue holding up to size ready tasks.
func NewMemoryQueue(size int, logger *zap.Logger) Queue {
	if size <= 0 {
		size = 100
	}
	return &memoryQueue{
		ready:  make(chan Task, size),
		done:   make(chan struct{}),
		logger: logger,
		known:  make(map[uuid.UUID]taskState),
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// Enqueue implements Queue.
func (q *memoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.known[task.JobID]; ok {
		q.logger.Debug("job already queued", zap.String("job_id", task.JobID.String()))
		return nil
	}

	select {
	case q.ready <- task:
		q.known[task.JobID] = taskPending
		return nil
	default:
		return ErrQueueFull
	}
}

// Schedule implements Queue.
func (q *memoryQueue) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if timer, ok := q.timers[task.JobID]; ok {
		timer.Stop()
	}
	q.known[task.JobID] = taskPending

	q.timers[task.JobID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, task.JobID)
		q.mu.Unlock()

		select {
		case q.ready <- task:
		case <-q.done:
		}
	})
	return nil
}

// Dequeue implements Queue.
func (q *memoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrQueueClosed
	case task := <-q.ready:
		q.mu.Lock()
		q.known[task.JobID] = taskInFlight
		q.mu.Unlock()
		return &task, nil
	}
}

// Ack implements Queue. A job rescheduled since it was dequeued stays queued.
func (q *memoryQueue) Ack(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.known[task.JobID] == taskInFlight {
		delete(q.known, task.JobID)
	}
	return nil
}

// Close implements Queue.
func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	close(q.done)
	return nil
}
