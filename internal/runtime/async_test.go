package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prism/internal/ast"
	"prism/internal/object"
)

func awaitWithin(v ast.Expression, ms int64) *ast.AwaitExpression {
	return &ast.AwaitExpression{Value: v, Timeout: num(ms)}
}

func TestAsyncAwait(t *testing.T) {
	rt, _ := newTestRuntime(t)
	got := mustRun(t, rt,
		let("t", async(stmt(with(num(42), 0.8)))),
		stmt(await(id("t"))),
	)
	require.Equal(t, "42", got.Payload.Inspect())
	require.Equal(t, 0.8, got.Confidence)

	handle := mustRun(t, rt, stmt(async(stmt(num(1)))))
	task, ok := handle.Payload.(*Task)
	require.True(t, ok)
	<-task.Done()
	require.Equal(t, Completed, task.State())
}

func TestAsyncFunction(t *testing.T) {
	rt, _ := newTestRuntime(t)
	slow := fn("slow", []string{"n"},
		stmt(await(call(id("sleep"), num(5)))),
		ret(infix(id("n"), "+", num(1))),
	)
	slow.IsAsync = true

	got := mustRun(t, rt,
		slow,
		stmt(await(call(id("slow"), with(num(1), 0.9)))),
	)
	require.Equal(t, "2", got.Payload.Inspect())
	require.InDelta(t, 0.9, got.Confidence, 1e-12)
}

func TestAwaitAll(t *testing.T) {
	t.Run("combines confidence", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		got := mustRun(t, rt,
			let("a", async(stmt(await(call(id("sleep"), num(5)))), stmt(with(num(1), 0.9)))),
			let("b", async(stmt(with(num(2), 0.5)))),
			stmt(await(list(id("a"), id("b")))),
		)
		require.Equal(t, "[1 ~> 0.9, 2 ~> 0.5]", got.Payload.Inspect())
		require.InDelta(t, 0.45, got.Confidence, 1e-12)
	})

	t.Run("first failure cancels siblings", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		_, err := run(t, rt,
			let("slow", async(stmt(await(call(id("sleep"), num(2000)))))),
			let("bad", async(throw(call(id("error"), str("broken"), str("E1"))))),
			stmt(await(list(id("slow"), id("bad")))),
		)
		rtErr := requireKind(t, err, object.UserError)
		require.Equal(t, "E1", rtErr.Code)

		slow, ok := rt.session.Get("slow")
		require.True(t, ok)
		task := slow.Payload.(*Task)
		select {
		case <-task.Done():
		case <-time.After(time.Second):
			t.Fatal("sibling task was not cancelled")
		}
		_, err = task.Result()
		requireKind(t, err, object.CancelledError)
	})

	t.Run("non task element", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		_, err := run(t, rt, stmt(await(list(num(1)))))
		requireKind(t, err, object.TypeMismatchError)
	})
}

func TestAwaitTimeout(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := run(t, rt,
		stmt(awaitWithin(async(stmt(await(call(id("sleep"), num(1000))))), 20)),
	)
	requireKind(t, err, object.TimeoutError)

	got := mustRun(t, rt, stmt(awaitWithin(async(stmt(str("fast"))), 1000)))
	require.Equal(t, "fast", stringOf(t, got))

	_, err = run(t, rt, stmt(awaitWithin(async(), 0)))
	requireKind(t, err, object.TypeMismatchError)
}

func TestCancelRunsFinally(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := run(t, rt,
		let("cleaned", boolean(false)),
		let("t", async(stmt(&ast.TryExpression{
			Body:    block(stmt(await(call(id("sleep"), num(1000))))),
			Finally: block(stmt(assign("cleaned", boolean(true)))),
		}))),
		stmt(await(call(id("sleep"), num(10)))),
		stmt(call(id("cancel"), id("t"))),
		stmt(await(id("t"))),
	)
	requireKind(t, err, object.CancelledError)

	got := mustRun(t, rt, stmt(id("cleaned")))
	require.True(t, boolOf(t, got))

	state := mustRun(t, rt, stmt(field(id("t"), "state")))
	require.Equal(t, Failed.String(), stringOf(t, state))
}

func TestCancelledErrorIsNotCaught(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := run(t, rt,
		let("t", async(stmt(&ast.TryExpression{
			Body:    block(stmt(await(call(id("sleep"), num(1000))))),
			Catches: []*ast.CatchClause{catchAll("", stmt(str("swallowed")))},
		}))),
		stmt(await(call(id("sleep"), num(10)))),
		stmt(call(id("cancel"), id("t"))),
		stmt(await(id("t"))),
	)
	requireKind(t, err, object.CancelledError)
}

func TestAsyncNativePicksUpTransition(t *testing.T) {
	rt, _ := newTestRuntime(t)
	got := mustRun(t, rt, stmt(&ast.ContextExpression{
		Name: "raw",
		Body: block(stmt(&ast.TransitionExpression{
			From:       "raw",
			To:         "scaled",
			Confidence: 0.5,
			Body:       value(await(call(id("sleep"), num(1)))),
		})),
	}))
	require.Equal(t, object.NIL, got.Payload)
	require.InDelta(t, 0.5, got.Confidence, 1e-12)
}

func TestTasksInterleaveOnAwait(t *testing.T) {
	rt, out := newTestRuntime(t)
	mustRun(t, rt,
		let("a", async(
			stmt(call(id("print"), str("a1"))),
			stmt(await(call(id("sleep"), num(30)))),
			stmt(call(id("print"), str("a2"))),
		)),
		let("b", async(
			stmt(await(call(id("sleep"), num(5)))),
			stmt(call(id("print"), str("b1"))),
		)),
		stmt(await(list(id("a"), id("b")))),
	)
	require.Equal(t, "a1\nb1\na2\n", out.String())
}

func TestContextsAreIsolatedPerTask(t *testing.T) {
	strict, loose := 0.9, 0.2
	rt, _ := newTestRuntime(t)
	registerDepth(rt)

	got := mustRun(t, rt,
		let("a", async(stmt(&ast.ContextExpression{Name: "x", Threshold: &strict, Body: block(
			stmt(await(call(id("sleep"), num(30)))),
			stmt(contextState()),
		)}))),
		let("b", async(stmt(&ast.ContextExpression{Name: "y", Threshold: &loose, Body: block(
			stmt(await(call(id("sleep"), num(5)))),
			stmt(contextState()),
		)}))),
		stmt(await(list(id("a"), id("b")))),
	)
	results := got.Payload.(*object.List).Elements
	require.Len(t, results, 2)

	threshold, depth := unpackContextState(t, results[0])
	require.Equal(t, strict, threshold)
	require.Equal(t, int64(1), depth)

	threshold, depth = unpackContextState(t, results[1])
	require.Equal(t, loose, threshold)
	require.Equal(t, int64(1), depth)

	threshold, depth = unpackContextState(t, mustRun(t, rt, stmt(contextState())))
	require.Equal(t, rt.Config.DefaultThreshold, threshold)
	require.Equal(t, int64(0), depth)
}
