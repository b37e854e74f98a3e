// Package speculative schedules delayed side effects that are dropped when the
// work they cover for finishes first.
package speculative

import (
	"context"
	"sync"
	"time"
)

// TaskState is the lifecycle of a scheduled Task. A task leaves Pending exactly
// once.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskFired
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskFired:
		return "fired"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is a delayed, cancellable action.
type Task struct {
	mu    sync.Mutex
	state TaskState
	timer *time.Timer
	done  chan struct{}
}

// Schedule runs fn after delay unless the task is cancelled first. fn receives
// a context carrying ctx's values but not its cancellation: once the action
// fires it runs to completion.
func Schedule(ctx context.Context, delay time.Duration, fn func(ctx context.Context)) *Task {
	t := &Task{done: make(chan struct{})}
	fireCtx := context.WithoutCancel(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.state != TaskPending {
			t.mu.Unlock()
			return
		}
		t.state = TaskFired
		t.mu.Unlock()

		defer close(t.done)
		fn(fireCtx)
	})
	return t
}

// Cancel prevents a pending task from firing and reports whether it did. After
// the task has fired Cancel is a no-op and returns false.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskPending {
		return false
	}
	t.state = TaskCancelled
	t.timer.Stop()
	close(t.done)
	return true
}

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Fired reports whether the action started.
func (t *Task) Fired() bool {
	return t.State() == TaskFired
}

// Done is closed once the task is cancelled or its action has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Outcome is the result of Race.
type Outcome[T any] struct {
	Value T
	Err   error

	// StatusFired reports whether the status action ran.
	StatusFired bool
}

// Race runs work on the calling goroutine while status is scheduled after
// delay. If work finishes first the status action never runs. If status fires
// first, Race waits until status calls emitted (or returns, if it never does)
// before handing back work's result. Status calls emitted once its effect is
// visible, such as an utterance queued to the speaker, so the result follows
// it without waiting for the rest of the action.
func Race[T any](ctx context.Context, delay time.Duration, status func(ctx context.Context, emitted func()), work func(ctx context.Context) (T, error)) Outcome[T] {
	emittedCh := make(chan struct{})
	var once sync.Once
	emitted := func() { once.Do(func() { close(emittedCh) }) }

	task := Schedule(ctx, delay, func(ctx context.Context) {
		defer emitted()
		status(ctx, emitted)
	})
	v, err := work(ctx)
	fired := !task.Cancel()
	if fired {
		<-emittedCh
	}
	return Outcome[T]{Value: v, Err: err, StatusFired: fired}
}
