package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func completed(v int, err error) *Future[int] {
	f, complete := NewPromise[int]()
	complete(v, err)
	return f
}

func TestAwaitContext(t *testing.T) {
	type testCase struct {
		name    string
		future  func() *Future[int]
		ctx     func() (context.Context, context.CancelFunc)
		wantVal int
		wantErr error
	}

	errCause := errors.New("stop")
	testCases := []testCase{
		{
			name:    "completed value",
			future:  func() *Future[int] { return completed(42, nil) },
			ctx:     func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			wantVal: 42,
		},
		{
			name:    "completed error",
			future:  func() *Future[int] { return completed(0, errCause) },
			ctx:     func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			wantErr: errCause,
		},
		{
			name: "delayed success",
			future: func() *Future[int] {
				return New(func() (int, error) {
					time.Sleep(5 * time.Millisecond)
					return 7, nil
				})
			},
			ctx:     func() (context.Context, context.CancelFunc) { return context.WithTimeout(context.Background(), time.Second) },
			wantVal: 7,
		},
		{
			name: "context wins",
			future: func() *Future[int] {
				return New(func() (int, error) {
					time.Sleep(50 * time.Millisecond)
					return 1, nil
				})
			},
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancelCause(context.Background())
				cancel(errCause)
				return ctx, func() {}
			},
			wantErr: errCause,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.future()
			ctx, cancel := tc.ctx()
			defer cancel()

			val, err := f.AwaitContext(ctx)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error: %v, got: %v", tc.wantErr, err)
			}
			if val != tc.wantVal {
				t.Fatalf("expected value: %d, got: %d", tc.wantVal, val)
			}
			// drain so the goroutine from New finishes before goleak runs
			f.Await()
		})
	}
}

func TestPromiseCompletesOnce(t *testing.T) {
	f, complete := NewPromise[string]()
	if f.IsDone() {
		t.Fatalf("promise done before completion")
	}
	complete("first", nil)
	complete("second", errors.New("ignored"))

	v, err := f.Await()
	if v != "first" || err != nil {
		t.Fatalf("Await() = %q, %v", v, err)
	}
	if !f.IsDone() {
		t.Fatalf("promise not done after completion")
	}
}
