package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/reportmailer/internal/models"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency  = 4
	DefaultPollInterval = 5 * time.Second
)

// Handler executes one unit of work. A returned error fails the attempt.
type Handler func(ctx context.Context, work UnitOfWork) error

// Notifier is told about tasks that exhausted their attempts.
type Notifier interface {
	TaskFailed(ctx context.Context, task models.Task, err error)
}

type WorkerMetrics struct {
	mutex     sync.RWMutex
	processed uint64
	retried   uint64
	failed    uint64
	panics    uint64
}

// Worker polls the queue and runs claimed tasks with bounded concurrency.
type Worker struct {
	queue       *Queue
	handlers    map[models.TaskKind]Handler
	notifier    Notifier
	logger      *slog.Logger
	interval    time.Duration
	concurrency int64
	sem         *semaphore.Weighted
	stopChan    chan struct{}
	wg          sync.WaitGroup
	metrics     *WorkerMetrics
}

func NewWorker(q *Queue, concurrency int, interval time.Duration, notifier Notifier, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		queue:       q,
		handlers:    make(map[models.TaskKind]Handler),
		notifier:    notifier,
		logger:      logger,
		interval:    interval,
		concurrency: int64(concurrency),
		sem:         semaphore.NewWeighted(int64(concurrency)),
		stopChan:    make(chan struct{}),
		metrics:     &WorkerMetrics{},
	}
}

// Handle registers the handler for a task kind.
func (w *Worker) Handle(kind models.TaskKind, h Handler) {
	w.handlers[kind] = h
}

// Start recovers tasks orphaned by a previous process and begins polling.
func (w *Worker) Start(ctx context.Context) error {
	recovered, err := w.queue.RecoverStale(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		w.logger.Warn("requeued tasks left running", "count", recovered)
	}

	ticker := time.NewTicker(w.interval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		w.Poll(ctx)
		for {
			select {
			case <-ticker.C:
				w.Poll(ctx)
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	w.logger.Info("task worker started", "concurrency", w.concurrency, "interval", w.interval)
	return nil
}

// Stop ends polling and waits for in-flight tasks.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.Wait()
	w.wg.Wait()
	w.logger.Info("task worker stopped")
}

// Poll claims as many tasks as there are free slots and starts them.
func (w *Worker) Poll(ctx context.Context) {
	for w.sem.TryAcquire(1) {
		tasks, err := w.queue.Claim(ctx, 1)
		if err != nil || len(tasks) == 0 {
			w.sem.Release(1)
			if err != nil {
				w.logger.Error("claim failed", "error", err)
			}
			return
		}

		task := tasks[0]
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.process(ctx, task)
		}()
	}
}

// Wait blocks until every started task has finished. Stop calls it to drain
// in-flight tasks.
func (w *Worker) Wait() {
	_ = w.sem.Acquire(context.Background(), w.concurrency)
	w.sem.Release(w.concurrency)
}

func (w *Worker) process(ctx context.Context, task models.Task) {
	log := w.logger.With("task_id", task.ID, "kind", task.Kind, "attempt", task.Attempts)
	start := time.Now()

	err := w.execute(ctx, task)
	if err == nil {
		if cerr := w.queue.Complete(ctx, task.ID); cerr != nil {
			log.Error("failed to mark task complete", "error", cerr)
		}
		w.count(func(m *WorkerMetrics) { m.processed++ })
		log.Info("task succeeded", "duration", time.Since(start))
		return
	}

	final, ferr := w.queue.Fail(ctx, task, err)
	if ferr != nil {
		log.Error("failed to record task failure", "error", ferr)
	}
	if !final {
		w.count(func(m *WorkerMetrics) { m.retried++ })
		log.Warn("task failed, will retry", "error", err, "max_attempts", task.MaxAttempts)
		return
	}

	w.count(func(m *WorkerMetrics) { m.failed++ })
	log.Error("task failed permanently", "error", err)
	if w.notifier != nil {
		w.notifier.TaskFailed(ctx, task, err)
	}
}

func (w *Worker) execute(ctx context.Context, task models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.count(func(m *WorkerMetrics) { m.panics++ })
			w.logger.Error("task panicked", "task_id", task.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	h, ok := w.handlers[task.Kind]
	if !ok {
		return fmt.Errorf("no handler for task kind %q", task.Kind)
	}
	work, err := Decode(task)
	if err != nil {
		return err
	}
	return h(ctx, work)
}

func (w *Worker) count(f func(m *WorkerMetrics)) {
	w.metrics.mutex.Lock()
	f(w.metrics)
	w.metrics.mutex.Unlock()
}

func (w *Worker) GetMetrics() map[string]interface{} {
	w.metrics.mutex.RLock()
	defer w.metrics.mutex.RUnlock()

	return map[string]interface{}{
		"processed":   w.metrics.processed,
		"retried":     w.metrics.retried,
		"failed":      w.metrics.failed,
		"panics":      w.metrics.panics,
		"concurrency": w.concurrency,
	}
}
