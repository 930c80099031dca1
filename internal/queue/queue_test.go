package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reportmailer/internal/database"
	"github.com/reportmailer/internal/logger"
	"github.com/reportmailer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	c := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	q := New(db)
	q.now = c.Now
	return q, c
}

func TestEnqueueClaimComplete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, ReportRun(7), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)

	tasks, err := q.Claim(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, 1, tasks[0].Attempts)

	work, err := Decode(tasks[0])
	require.NoError(t, err)
	assert.Equal(t, ReportRun(7), work)

	again, err := q.Claim(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, q.Complete(ctx, id))
	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSucceeded, task.Status)
}

func TestClaim_RespectsVisibleAfter(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, ReportRun(1), DefaultRetryPolicy(), c.Now().Add(time.Hour))
	require.NoError(t, err)

	tasks, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	c.Advance(time.Hour)
	tasks, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestFail_FixedBackoffThenFinal(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()
	cause := errors.New("smtp down")

	id, err := q.Enqueue(ctx, ReportRun(1), RetryPolicy{MaxAttempts: 3, Backoff: 30 * time.Minute}, time.Time{})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		tasks, err := q.Claim(ctx, 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1, "attempt %d", attempt)
		assert.Equal(t, attempt, tasks[0].Attempts)

		final, err := q.Fail(ctx, tasks[0], cause)
		require.NoError(t, err)
		assert.Equal(t, attempt == 3, final)

		if !final {
			c.Advance(29 * time.Minute)
			early, err := q.Claim(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, early)
			c.Advance(time.Minute)
		}
	}

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, "smtp down", task.LastError)
}

func TestFail_PermanentIsFinalOnFirstAttempt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, ReportRun(1), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)
	tasks, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	cause := Permanent(errors.New("report 1 not found"))
	assert.True(t, IsPermanent(fmt.Errorf("run: %w", cause)))
	assert.False(t, IsPermanent(errors.New("smtp down")))
	assert.Nil(t, Permanent(nil))

	final, err := q.Fail(ctx, tasks[0], cause)
	require.NoError(t, err)
	assert.True(t, final)

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, "report 1 not found", task.LastError)
}

func TestCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, ReportRun(1), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, id))
	assert.ErrorIs(t, q.Cancel(ctx, id), ErrTaskNotFound)

	_, err = q.Get(ctx, id)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRecoverStale(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, ReportRun(1), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)
	_, err = q.Claim(ctx, 1)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	tasks, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Attempts)
}

type recordingNotifier struct {
	mu     sync.Mutex
	failed []string
}

func (n *recordingNotifier) TaskFailed(_ context.Context, task models.Task, _ error) {
	n.mu.Lock()
	n.failed = append(n.failed, task.ID)
	n.mu.Unlock()
}

func TestWorker_RunsHandlers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []UnitOfWork
	w := NewWorker(q, 2, time.Hour, nil, logger.Discard())
	w.Handle(models.TaskKindReportRun, func(_ context.Context, work UnitOfWork) error {
		mu.Lock()
		seen = append(seen, work)
		mu.Unlock()
		return nil
	})
	w.Handle(models.TaskKindQueryRun, func(_ context.Context, work UnitOfWork) error {
		mu.Lock()
		seen = append(seen, work)
		mu.Unlock()
		return nil
	})

	id1, err := q.Enqueue(ctx, ReportRun(1), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, QueryRun(1, 9), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)

	w.Poll(ctx)
	w.Wait()

	assert.ElementsMatch(t, []UnitOfWork{ReportRun(1), QueryRun(1, 9)}, seen)
	for _, id := range []string{id1, id2} {
		task, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusSucceeded, task.Status)
	}
	assert.EqualValues(t, 2, w.GetMetrics()["processed"])
}

func TestWorker_PanicIsFailedAttemptAndNotifiesOnFinal(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}

	w := NewWorker(q, 1, time.Hour, notifier, logger.Discard())
	w.Handle(models.TaskKindReportRun, func(context.Context, UnitOfWork) error {
		panic("boom")
	})

	id, err := q.Enqueue(ctx, ReportRun(1), RetryPolicy{MaxAttempts: 1}, time.Time{})
	require.NoError(t, err)

	w.Poll(ctx)
	w.Wait()

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Contains(t, task.LastError, "panic: boom")
	assert.Equal(t, []string{id}, notifier.failed)
}

func TestWorker_RetryDoesNotNotify(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}

	w := NewWorker(q, 1, time.Hour, notifier, logger.Discard())
	w.Handle(models.TaskKindReportRun, func(context.Context, UnitOfWork) error {
		return errors.New("transient")
	})

	id, err := q.Enqueue(ctx, ReportRun(1), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)

	w.Poll(ctx)
	w.Wait()

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Empty(t, notifier.failed)
}

func TestWorker_StopDrainsInFlightTasks(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	w := NewWorker(q, 1, time.Hour, nil, logger.Discard())
	w.Handle(models.TaskKindReportRun, func(context.Context, UnitOfWork) error {
		close(started)
		<-release
		return nil
	})

	id, err := q.Enqueue(ctx, ReportRun(1), DefaultRetryPolicy(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	<-started

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the task finished")
	}

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSucceeded, task.Status)
}
