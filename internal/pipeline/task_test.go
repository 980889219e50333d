package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	body []byte
}

func TestTask_ConsumeEventOnce(t *testing.T) {
	task := NewTask("t1", &payload{body: []byte("features")}, nil)

	ev, err := task.ConsumeEvent()
	require.NoError(t, err)
	assert.Equal(t, "features", string(ev.body))

	ev, err = task.ConsumeEvent()
	assert.ErrorIs(t, err, ErrEventConsumed)
	assert.Nil(t, ev)
}

func TestTask_ConsumeEventConcurrently(t *testing.T) {
	task := NewTask("t1", &payload{}, nil)
	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := task.ConsumeEvent(); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestTask_StateIsMonotonic(t *testing.T) {
	task := NewTask("t1", 0, nil)
	assert.Equal(t, TaskInit, task.State())

	assert.True(t, task.SetState(TaskStarted))
	assert.True(t, task.SetState(TaskInProgress))
	assert.False(t, task.SetState(TaskStarted), "moving backwards must be rejected")
	assert.False(t, task.IsFinal())

	assert.True(t, task.SetState(TaskResponseSent))
	assert.True(t, task.IsFinal())
	assert.False(t, task.SetState(TaskError), "a final state must not change")
	assert.Equal(t, TaskResponseSent, task.State())
}

func TestTask_CancelRunsHandlersOnce(t *testing.T) {
	task := NewTask("t1", 0, nil)
	var calls atomic.Int32
	task.AddCancellingHandler(func() { calls.Add(1) })
	task.AddCancellingHandler(func() { panic("handler bug") })
	task.AddCancellingHandler(func() { calls.Add(1) })

	task.Cancel()
	task.Cancel()

	assert.Equal(t, int32(2), calls.Load(), "a panicking handler must not stop the others")
	assert.Equal(t, TaskCancelled, task.State())
	assert.True(t, task.IsFinal())
}

func TestTask_LateHandlerRunsImmediately(t *testing.T) {
	task := NewTask("t1", 0, nil)
	task.Cancel()

	var called bool
	task.AddCancellingHandler(func() { called = true })
	assert.True(t, called)
}

func TestTask_CancelIsNoopWhenFinal(t *testing.T) {
	task := NewTask("t1", 0, nil)
	var calls atomic.Int32
	task.AddCancellingHandler(func() { calls.Add(1) })
	require.True(t, task.SetState(TaskResponseSent))

	task.Cancel()
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, TaskResponseSent, task.State())
}

func TestTask_CancelDrivesPipeline(t *testing.T) {
	task := NewTask("t1", &payload{}, nil)
	p := New("conditional", task)

	var aborted atomic.Bool
	require.NoError(t, p.Then("remote", func(ctx context.Context, task *Task[*payload], cb *Callback) Result {
		task.AddCancellingHandler(func() { aborted.Store(true) })
		return Suspend(nil)
	}))
	errs := make(chan error, 1)
	require.NoError(t, p.OnSuccess(func(*Task[*payload]) { errs <- nil }))
	require.NoError(t, p.OnError(func(_ *Task[*payload], err error) { errs <- err }))
	task.Attach(p)

	require.NoError(t, p.Execute(context.Background()))
	task.Cancel()

	err := <-errs
	assert.True(t, IsCancelled(err))
	assert.True(t, aborted.Load())
	assert.Equal(t, StateFailed, p.State())
}
