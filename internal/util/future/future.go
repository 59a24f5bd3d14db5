package future

import (
	"context"
	"sync"
)

type result[T any] struct {
	v   T
	err error
}

// Future is a single-shot result that completes exactly once.
type Future[T any] struct {
	doneChannel chan struct{}
	res         result[T]
	once        sync.Once
}

// New runs fn in a goroutine and completes the Future when fn returns.
func New[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{doneChannel: make(chan struct{})}
	go func() {
		v, err := fn()
		f.complete(v, err)
	}()
	return f
}

// NewPromise returns an incomplete Future and the function that completes
// it. Calls after the first are ignored.
func NewPromise[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{doneChannel: make(chan struct{})}
	return f, f.complete
}

// Await blocks until completion and returns the result.
func (f *Future[T]) Await() (T, error) {
	<-f.doneChannel
	return f.res.v, f.res.err
}

// AwaitContext waits for completion or ctx, whichever comes first. When ctx
// wins the result is ctx's error; the Future itself keeps running.
func (f *Future[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.doneChannel:
		return f.res.v, f.res.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

// Done returns a channel closed when the Future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.doneChannel }

// IsDone reports completion without blocking.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.doneChannel:
		return true
	default:
		return false
	}
}

// complete sets the result exactly once and closes doneChannel.
func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.res = result[T]{v: v, err: err}
		close(f.doneChannel)
	})
}
