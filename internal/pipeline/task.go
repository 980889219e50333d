package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Canceller is the part of a Pipeline a Task drives on cancellation.
type Canceller interface {
	Cancel() bool
}

// Task is the per-request unit of state driving one pipeline.
type Task[E any] struct {
	ID     string
	logger *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	event    E
	consumed bool
	handlers []func()
	pipeline Canceller
}

// NewTask creates a task holding event.
func NewTask[E any](id string, event E, logger *slog.Logger) *Task[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task[E]{
		ID:     id,
		event:  event,
		logger: logger.With(slog.String("task_id", id)),
	}
}

// ConsumeEvent hands the event over to the caller and drops the task's
// reference to it. A second call fails with ErrEventConsumed.
func (t *Task[E]) ConsumeEvent() (E, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero E
	if t.consumed {
		return zero, ErrEventConsumed
	}
	ev := t.event
	t.event = zero
	t.consumed = true
	return ev, nil
}

// Attach binds the pipeline that Cancel drives.
func (t *Task[E]) Attach(p Canceller) {
	t.mu.Lock()
	t.pipeline = p
	t.mu.Unlock()
}

// State returns the current state.
func (t *Task[E]) State() TaskState { return TaskState(t.state.Load()) }

// IsFinal reports whether the task reached a terminal state. Code that is
// about to produce an observable effect (like sending a response) must check
// it first.
func (t *Task[E]) IsFinal() bool { return t.State().IsFinal() }

// SetState moves the task forward. Transitions out of a final state or back
// to an earlier state are rejected.
func (t *Task[E]) SetState(s TaskState) bool {
	for {
		cur := t.State()
		if cur.IsFinal() || s < cur {
			return false
		}
		if t.state.CompareAndSwap(int32(cur), int32(s)) {
			return true
		}
	}
}

// AddCancellingHandler registers fn to run when the task is cancelled. If the
// task is already cancelled, fn runs immediately.
func (t *Task[E]) AddCancellingHandler(fn func()) {
	t.mu.Lock()
	if t.State() == TaskCancelled {
		t.mu.Unlock()
		t.runHandler(fn)
		return
	}
	t.handlers = append(t.handlers, fn)
	t.mu.Unlock()
}

// Cancel moves the task to TaskCancelled, cancels its pipeline and then runs
// every cancelling handler once. It is a no-op on a final task.
func (t *Task[E]) Cancel() {
	t.mu.Lock()
	if !t.SetState(TaskCancelled) {
		t.mu.Unlock()
		return
	}
	handlers := t.handlers
	t.handlers = nil
	p := t.pipeline
	t.mu.Unlock()

	if p != nil {
		p.Cancel()
	}
	for _, fn := range handlers {
		t.runHandler(fn)
	}
	t.logger.Debug("task cancelled", slog.Int("handlers", len(handlers)))
}

func (t *Task[E]) runHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("cancelling handler panicked", slog.Any("panic", r))
		}
	}()
	fn()
}
