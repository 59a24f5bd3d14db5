package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"prism/internal/ast"
	"prism/internal/object"
	"prism/internal/util/future"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type tokenKey struct{}

// holdsToken reports whether ctx belongs to a task that is running, i.e. the
// caller already owns the run token.
func holdsToken(ctx context.Context) bool {
	held, _ := ctx.Value(tokenKey{}).(bool)
	return held
}

// Scheduler runs tasks cooperatively: a single run token means at most one
// task evaluates at a time, and a task gives the token up only while it is
// suspended in await. Async natives run on a bounded worker pool outside
// the token.
type Scheduler struct {
	runtime *Runtime
	token   chan struct{}
	workers *semaphore.Weighted

	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

func NewScheduler(rt *Runtime, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		runtime: rt,
		token:   make(chan struct{}, 1),
		workers: semaphore.NewWeighted(int64(workers)),
		tasks:   make(map[uuid.UUID]*Task),
	}
}

func (s *Scheduler) acquire(ctx context.Context) error {
	select {
	case s.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (s *Scheduler) acquireBlocking() { s.token <- struct{}{} }

func (s *Scheduler) release() { <-s.token }

func (s *Scheduler) newTask(base context.Context, name string) *Task {
	ctx, cancel := context.WithCancelCause(base)
	result, complete := future.NewPromise[object.ConfidenceValue]()
	t := &Task{
		ID:       uuid.New(),
		Name:     name,
		Runtime:  s.runtime,
		state:    Pending,
		result:   result,
		complete: complete,
		base:     base,
		ctx:      context.WithValue(ctx, tokenKey{}, true),
		cancel:   cancel,
	}
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return t
}

func (s *Scheduler) done(t *Task, v object.ConfidenceValue, err error) {
	t.finish(v, t.loopSignalError(err))
	s.mu.Lock()
	delete(s.tasks, t.ID)
	s.mu.Unlock()
}

// runInline runs t on the calling goroutine. A caller that is itself a
// running task already owns the token.
func (s *Scheduler) runInline(t *Task, fn func(*Task) (object.ConfidenceValue, error)) (object.ConfidenceValue, error) {
	held := holdsToken(t.base)
	if !held {
		if err := s.acquire(t.ctx); err != nil {
			s.done(t, t.nilValue(), t.cancelledError())
			return t.Result()
		}
	}
	t.setState(Running)
	v, err := fn(t)
	if !held {
		s.release()
	}
	s.done(t, v, err)
	return t.Result()
}

// Spawn starts fn as a new task whose environment is env and whose context
// stack starts as a copy of the parent's.
func (s *Scheduler) Spawn(parent *Task, name string, env *object.Environment, fn func(*Task) (object.ConfidenceValue, error)) *Task {
	child := s.newTask(parent.base, name)
	child.ctxStack = parent.ctxStack.Clone()
	child.PushEnv(env)

	slog.Debug("spawn task",
		slog.String("task", child.ID.String()),
		slog.String("parent", parent.ID.String()),
		slog.String("name", name))

	go s.run(child, fn)
	return child
}

func (s *Scheduler) run(t *Task, fn func(*Task) (object.ConfidenceValue, error)) {
	if err := s.acquire(t.ctx); err != nil {
		s.done(t, t.nilValue(), t.cancelledError())
		return
	}
	t.setState(Running)
	v, err := fn(t)
	s.release()
	s.done(t, v, err)
}

// RunNative schedules an async native on the worker pool. Values it
// originates pick up the caller's transition multiplier at the call site.
func (s *Scheduler) RunNative(parent *Task, native *object.Native, args []object.ConfidenceValue) *Task {
	t := s.newTask(parent.base, native.Name)
	nctx := &nativeContext{
		ctx:        t.ctx,
		threshold:  parent.CurrentThreshold(),
		multiplier: parent.ctxStack.Multiplier(),
	}

	go func() {
		if err := s.workers.Acquire(t.ctx, 1); err != nil {
			s.done(t, t.nilValue(), t.cancelledError())
			return
		}
		t.setState(Running)
		f := future.New(func() (object.ConfidenceValue, error) {
			defer s.workers.Release(1)
			return native.Fn(nctx, args...)
		})
		v, err := f.AwaitContext(t.ctx)
		if err != nil {
			s.done(t, t.nilValue(), t.nativeError(native.Name, err))
			return
		}
		s.done(t, v, nil)
	}()
	return t
}

// startTimer is the other side of a timeout race: a task that completes
// after d unless cancelled first.
func (s *Scheduler) startTimer(parent *Task, d time.Duration) *Task {
	t := s.newTask(parent.base, "timer")
	t.setState(Running)
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.done(t, object.Certain(object.NIL), nil)
		case <-t.ctx.Done():
			s.done(t, t.nilValue(), t.cancelledError())
		}
	}()
	return t
}

func (e *Task) suspend() {
	e.savedEnv = e.CurrentEnv()
	e.savedContexts = e.ctxStack.Snapshot()
	e.setState(Suspended)
	slog.Debug("task suspended",
		slog.String("task", e.ID.String()),
		slog.Int("contexts", e.ctxStack.Depth()))
	e.Runtime.Scheduler.release()
}

func (e *Task) resume() {
	e.Runtime.Scheduler.acquireBlocking()
	e.ctxStack.Restore(e.savedContexts)
	if e.CurrentEnv() != e.savedEnv {
		e.envStack[len(e.envStack)-1] = e.savedEnv
	}
	e.savedEnv, e.savedContexts = nil, nil
	e.setState(Running)
	slog.Debug("task resumed", slog.String("task", e.ID.String()))
}

// Await suspends e until handle finishes, the timeout fires, or e is
// cancelled. On timeout the awaited task is cancelled.
func (s *Scheduler) Await(e *Task, handle *Task, timeout time.Duration) (object.ConfidenceValue, error) {
	if handle == e {
		return e.nilValue(), e.newError(object.TypeMismatchError, "a task cannot await itself")
	}

	var timerDone <-chan struct{}
	var timer *Task
	if timeout > 0 {
		timer = s.startTimer(e, timeout)
		timerDone = timer.Done()
	}

	waitCtx := e.waitContext()
	e.suspend()
	var timedOut, cancelled bool
	select {
	case <-handle.Done():
	case <-timerDone:
		timedOut = !handle.result.IsDone()
	case <-waitCtx.Done():
		cancelled = true
	}
	e.resume()

	if timer != nil {
		timer.Cancel("awaited task finished")
	}
	switch {
	case cancelled:
		return e.nilValue(), e.cancelledError()
	case timedOut:
		handle.Cancel(fmt.Sprintf("await timed out after %s", timeout))
		return e.nilValue(), e.newError(object.TimeoutError, "task %s did not finish within %s", handle.ID, timeout)
	}

	v, err := handle.Result()
	if err != nil {
		return v, e.rethrow(err)
	}
	return v, nil
}

// AwaitAll waits for every handle. The first failure cancels the rest and is
// raised; otherwise the result is the list of values, as certain as the
// least certain of them combined.
func (s *Scheduler) AwaitAll(e *Task, handles []*Task, timeout time.Duration) (object.ConfidenceValue, error) {
	var timerDone <-chan struct{}
	var timer *Task
	if timeout > 0 {
		timer = s.startTimer(e, timeout)
		timerDone = timer.Done()
	}

	waitCtx := e.waitContext()
	e.suspend()
	g, gctx := errgroup.WithContext(waitCtx)
	for _, h := range handles {
		g.Go(func() error {
			select {
			case <-h.Done():
				_, err := h.Result()
				return err
			case <-timerDone:
				if h.result.IsDone() {
					_, err := h.Result()
					return err
				}
				return object.NewError(object.TimeoutError, "task %s did not finish within %s", h.ID, timeout)
			case <-gctx.Done():
				return context.Cause(gctx)
			}
		})
	}
	err := g.Wait()
	e.resume()

	if timer != nil {
		timer.Cancel("awaited tasks finished")
	}
	if err != nil {
		for _, h := range handles {
			h.Cancel("sibling task failed")
		}
		if waitCtx.Err() != nil {
			return e.nilValue(), e.cancelledError()
		}
		return e.nilValue(), e.rethrow(err)
	}

	results := make([]object.ConfidenceValue, 0, len(handles))
	for _, h := range handles {
		v, _ := h.Result()
		results = append(results, v)
	}
	return object.NewConfidenceValue(&object.List{Elements: results}, object.CombineAll(results...)), nil
}

// rethrow raises another task's error in e without sharing the error value.
func (e *Task) rethrow(err error) error {
	rtErr, ok := object.AsRuntimeError(err)
	if !ok {
		return err
	}
	copied := *rtErr
	return e.raise(&copied)
}

// Shutdown cancels every unfinished task and waits for them, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	if len(tasks) > 0 {
		slog.Info("shutting down scheduler", slog.Int("tasks", len(tasks)))
	}
	for _, t := range tasks {
		t.Cancel("runtime shutdown")
	}
	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Task) evalAsyncExpression(node *ast.AsyncExpression) (object.ConfidenceValue, error) {
	child := e.Runtime.Scheduler.Spawn(e, "async", e.CurrentEnv(), func(t *Task) (object.ConfidenceValue, error) {
		return t.evalBlockStatement(node.Body)
	})
	return object.Certain(child), nil
}

func (e *Task) evalAwaitExpression(node *ast.AwaitExpression) (object.ConfidenceValue, error) {
	val, err := e.Eval(node.Value)
	if err != nil {
		return val, err
	}

	var timeout time.Duration
	if node.Timeout != nil {
		tv, err := e.Eval(node.Timeout)
		if err != nil {
			return tv, err
		}
		ms, ok := toFloat(tv.Payload)
		if !ok || ms <= 0 {
			return tv, e.newError(object.TypeMismatchError, "await timeout must be a positive number of milliseconds, got %s", tv.Inspect())
		}
		timeout = millis(ms)
	}

	switch p := val.Payload.(type) {
	case *Task:
		return e.Runtime.Scheduler.Await(e, p, timeout)
	case *object.List:
		handles := make([]*Task, 0, len(p.Elements))
		for _, elem := range p.Elements {
			h, ok := elem.Payload.(*Task)
			if !ok {
				return val, e.newError(object.TypeMismatchError, "await expects task handles, got %s", elem.Payload.Type())
			}
			handles = append(handles, h)
		}
		return e.Runtime.Scheduler.AwaitAll(e, handles, timeout)
	}
	return val, e.newError(object.TypeMismatchError, "await expects a task handle, got %s", val.Payload.Type())
}

// nativeContext is what an async native sees: it runs off the run token, so
// it cannot call back into the evaluator.
type nativeContext struct {
	ctx        context.Context
	threshold  float64
	multiplier float64
}

func (n *nativeContext) Context() context.Context  { return n.ctx }
func (n *nativeContext) CurrentThreshold() float64 { return n.threshold }
func (n *nativeContext) Originate(payload object.Object) object.ConfidenceValue {
	return object.NewConfidenceValue(payload, n.multiplier)
}
func (n *nativeContext) ApplyFunction(fn object.ConfidenceValue, args []object.ConfidenceValue) (object.ConfidenceValue, error) {
	return object.Certain(object.NIL), object.NewError(object.TypeMismatchError,
		"async native cannot call %s", fn.Payload.Inspect())
}
