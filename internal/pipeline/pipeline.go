package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/heremaps/xyz-hub-sub003/internal/metrics"
)

const tracerName = "github.com/heremaps/xyz-hub-sub003/internal/pipeline"

// StepFunc is one link of the chain. A step that returns Suspend must later
// call exactly one of cb.Success or cb.Fail.
type StepFunc[T any] func(ctx context.Context, target T, cb *Callback) Result

type resultKind uint8

const (
	resultContinue resultKind = iota
	resultFail
	resultSuspend
)

// Result tells the pipeline how a step ended.
type Result struct {
	kind   resultKind
	err    error
	cancel func()
}

// Continue advances to the next step.
func Continue() Result { return Result{kind: resultContinue} }

// Fail aborts the pipeline with err.
func Fail(err error) Result {
	if err == nil {
		err = errors.New("step failed without an error")
	}
	return Result{kind: resultFail, err: err}
}

// Suspend parks the pipeline until the step's callback is invoked. cancel,
// which may be nil, is called if the pipeline is cancelled meanwhile.
func Suspend(cancel func()) Result { return Result{kind: resultSuspend, cancel: cancel} }

// Callback resumes a suspended step. Only the first call has an effect.
type Callback struct {
	step   string
	logger *slog.Logger

	mu       sync.Mutex
	done     bool
	returned bool
	err      error
	cancel   func()
	resume   func(err error)
}

// Success advances the pipeline to the next step.
func (c *Callback) Success() { c.complete(nil) }

// Fail aborts the pipeline with err.
func (c *Callback) Fail(err error) {
	if err == nil {
		err = errors.New("step failed without an error")
	}
	c.complete(err)
}

func (c *Callback) complete(err error) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		c.logger.Warn("pipeline callback invoked more than once", slog.String("step", c.step))
		return
	}
	c.done = true
	if !c.returned {
		// the step is still running; the loop picks the outcome up when it returns
		c.err = err
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.resume(err)
}

// settle records that the step returned res. It reports whether the outcome
// is known now. For a suspended step, register runs before any later
// completion can resume the pipeline.
func (c *Callback) settle(res Result, register func()) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returned = true
	if c.done {
		return true, c.err
	}
	switch res.kind {
	case resultContinue:
		c.done = true
		return true, nil
	case resultFail:
		c.done = true
		return true, res.err
	default:
		c.cancel = res.cancel
		register()
		return false, nil
	}
}

type step[T any] struct {
	name string
	fn   StepFunc[T]
}

type config struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Pipeline.
type Option func(*config)

// WithLogger sets the logger used for handler panics and late callbacks.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the tracer for step spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Pipeline is an ordered, cancellable chain of steps bound to one target.
type Pipeline[T any] struct {
	name   string
	target T
	logger *slog.Logger
	tracer trace.Tracer

	state atomic.Int32

	mu        sync.Mutex
	steps     []step[T]
	onSuccess func(T)
	onError   func(T, error)
	ctx       context.Context
	cancelCtx context.CancelFunc
	current   string
	suspended *Callback
}

// New creates a pipeline for target.
func New[T any](name string, target T, opts ...Option) *Pipeline[T] {
	cfg := config{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline[T]{
		name:   name,
		target: target,
		logger: cfg.logger.With(slog.String("pipeline", name)),
		tracer: cfg.tracer,
	}
}

// Name returns the pipeline name.
func (p *Pipeline[T]) Name() string { return p.name }

// State returns the current state.
func (p *Pipeline[T]) State() State { return State(p.state.Load()) }

// Then appends a step.
func (p *Pipeline[T]) Then(name string, fn StepFunc[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != StateNew {
		return ErrNotNew
	}
	p.steps = append(p.steps, step[T]{name: name, fn: fn})
	return nil
}

// OnSuccess sets the handler that runs after the last step succeeded.
func (p *Pipeline[T]) OnSuccess(fn func(T)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != StateNew {
		return ErrNotNew
	}
	p.onSuccess = fn
	return nil
}

// OnError sets the handler that runs when a step fails or the pipeline is
// cancelled.
func (p *Pipeline[T]) OnError(fn func(T, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != StateNew {
		return ErrNotNew
	}
	p.onError = fn
	return nil
}

// Execute starts the chain. It returns once the chain completed or a step
// suspended; the handlers report the outcome.
func (p *Pipeline[T]) Execute(ctx context.Context) error {
	p.mu.Lock()
	if p.onSuccess == nil || p.onError == nil {
		p.mu.Unlock()
		return ErrMissingHandler
	}
	if !p.state.CompareAndSwap(int32(StateNew), int32(StatePreExecute)) {
		p.mu.Unlock()
		return ErrNotNew
	}
	p.ctx, p.cancelCtx = context.WithCancel(ctx)
	p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StatePreExecute), int32(StateExecute)) {
		return ErrNotNew
	}
	p.run(0)
	return nil
}

// Cancel aborts an executing pipeline: the suspended step's cancel token runs
// and the error handler receives a *CancelledError. It reports whether the
// cancellation took effect; outside StateExecute it is a no-op.
func (p *Pipeline[T]) Cancel() bool {
	if !p.state.CompareAndSwap(int32(StateExecute), int32(StateFailed)) {
		return false
	}
	p.mu.Lock()
	cb := p.suspended
	p.suspended = nil
	current := p.current
	cancelCtx := p.cancelCtx
	p.mu.Unlock()

	cancelCtx()
	if cb != nil && cb.cancel != nil {
		p.safely("cancel token", cb.cancel)
	}
	metrics.PipelineRuns.WithLabelValues(p.name, "cancelled").Inc()
	p.callError(&CancelledError{Pipeline: p.name, Step: current})
	return true
}

func (p *Pipeline[T]) run(from int) {
	for i := from; i < len(p.steps); i++ {
		if p.State() != StateExecute {
			return
		}
		s := p.steps[i]
		next := i + 1

		ctx, span := p.tracer.Start(p.ctx, p.name+"."+s.name, trace.WithAttributes(
			attribute.String("pipeline.name", p.name),
			attribute.String("pipeline.step", s.name),
		))
		started := time.Now()

		cb := &Callback{step: s.name, logger: p.logger}
		cb.resume = func(err error) {
			p.endStep(span, s.name, started, err)
			p.clearSuspended(cb)
			if err != nil {
				p.fail(s.name, err)
				return
			}
			p.run(next)
		}

		p.mu.Lock()
		p.current = s.name
		p.mu.Unlock()

		res := p.invoke(ctx, s, cb)
		ready, err := cb.settle(res, func() {
			p.mu.Lock()
			p.suspended = cb
			p.mu.Unlock()
		})
		if !ready {
			// cancellation may have won before the token was registered
			if p.State() != StateExecute {
				p.mu.Lock()
				stale := p.suspended == cb
				if stale {
					p.suspended = nil
				}
				p.mu.Unlock()
				if stale && cb.cancel != nil {
					p.safely("cancel token", cb.cancel)
				}
			}
			return
		}
		p.endStep(span, s.name, started, err)
		if err != nil {
			p.fail(s.name, err)
			return
		}
	}
	p.succeed()
}

func (p *Pipeline[T]) invoke(ctx context.Context, s step[T], cb *Callback) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline step panicked",
				slog.String("step", s.name),
				slog.Any("panic", r),
			)
			res = Fail(&PanicError{Step: s.name, Value: r})
		}
	}()
	return s.fn(ctx, p.target, cb)
}

func (p *Pipeline[T]) endStep(span trace.Span, name string, started time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	metrics.PipelineStepDuration.WithLabelValues(p.name, name).Observe(time.Since(started).Seconds())
}

func (p *Pipeline[T]) clearSuspended(cb *Callback) {
	p.mu.Lock()
	if p.suspended == cb {
		p.suspended = nil
	}
	p.mu.Unlock()
}

func (p *Pipeline[T]) fail(stepName string, err error) {
	if !p.state.CompareAndSwap(int32(StateExecute), int32(StateFailed)) {
		p.logger.Debug("dropping step error of a completed pipeline",
			slog.String("step", stepName),
			slog.String("error", err.Error()),
		)
		return
	}
	p.cancelCtx()
	metrics.PipelineRuns.WithLabelValues(p.name, "failed").Inc()
	var se *StepError
	if !errors.As(err, &se) {
		err = &StepError{Step: stepName, Err: err}
	}
	p.callError(err)
}

func (p *Pipeline[T]) succeed() {
	if !p.state.CompareAndSwap(int32(StateExecute), int32(StateExecuteSuccessHandler)) {
		return
	}
	p.safely("success handler", func() { p.onSuccess(p.target) })
	p.state.CompareAndSwap(int32(StateExecuteSuccessHandler), int32(StateSucceeded))
	p.cancelCtx()
	metrics.PipelineRuns.WithLabelValues(p.name, "succeeded").Inc()
}

func (p *Pipeline[T]) callError(err error) {
	p.safely("error handler", func() { p.onError(p.target, err) })
}

// safely runs fn and logs a panic instead of propagating it.
func (p *Pipeline[T]) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline "+what+" panicked", slog.Any("panic", r))
		}
	}()
	fn()
}
