package runtime

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"prism/internal/ast"
	"prism/internal/object"
	"prism/internal/util"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRuntime(t *testing.T) (*Runtime, *bytes.Buffer) {
	t.Helper()
	cfg := util.DefaultConfiguration()
	var out bytes.Buffer
	cfg.Output = &out
	cfg.Workers = 4
	rt := NewRuntime(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, rt.Shutdown(ctx))
	})
	return rt, &out
}

// registerDepth exposes the calling task's context depth as depth().
func registerDepth(rt *Runtime) {
	rt.RegisterNative("depth", &object.Native{Arity: 0, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return object.Certain(&object.Integer{Value: int64(ctx.(*Task).ctxStack.Depth())}), nil
	}})
}

// contextState is [threshold(), depth()] evaluated where it appears.
func contextState() *ast.ListLiteral {
	return list(call(id("threshold")), call(id("depth")))
}

func unpackContextState(t *testing.T, v object.ConfidenceValue) (float64, int64) {
	t.Helper()
	l, ok := v.Payload.(*object.List)
	require.True(t, ok, "expected a list, got %s", v.Inspect())
	require.Len(t, l.Elements, 2)
	depth, ok := l.Elements[1].Payload.(*object.Integer)
	require.True(t, ok)
	return floatOf(t, l.Elements[0]), depth.Value
}

func run(t *testing.T, rt *Runtime, stmts ...ast.Statement) (object.ConfidenceValue, error) {
	t.Helper()
	return rt.Evaluate(context.Background(), &ast.Program{Statements: stmts})
}

func mustRun(t *testing.T, rt *Runtime, stmts ...ast.Statement) object.ConfidenceValue {
	t.Helper()
	v, err := run(t, rt, stmts...)
	require.NoError(t, err)
	return v
}

func requireKind(t *testing.T, err error, kind object.ErrorKind) *object.RuntimeError {
	t.Helper()
	rtErr, ok := object.AsRuntimeError(err)
	require.True(t, ok, "expected %s, got %v", kind, err)
	require.Equal(t, kind, rtErr.Kind, "error: %v", err)
	return rtErr
}

// AST builders

func id(name string) *ast.Identifier                { return &ast.Identifier{Value: name} }
func num(v int64) *ast.IntegerLiteral               { return &ast.IntegerLiteral{Value: v} }
func flt(v float64) *ast.FloatLiteral               { return &ast.FloatLiteral{Value: v} }
func str(s string) *ast.StringLiteral               { return &ast.StringLiteral{Value: s} }
func boolean(b bool) *ast.BooleanLiteral            { return &ast.BooleanLiteral{Value: b} }
func list(elems ...ast.Expression) *ast.ListLiteral { return &ast.ListLiteral{Elements: elems} }

func with(v ast.Expression, c float64) *ast.FlowExpression {
	return &ast.FlowExpression{Value: v, Confidence: flt(c)}
}

func let(name string, v ast.Expression) *ast.LetStatement {
	return &ast.LetStatement{Name: name, Value: v}
}

func export(name string, v ast.Expression) *ast.LetStatement {
	return &ast.LetStatement{Name: name, Value: v, Exported: true}
}

func stmt(e ast.Expression) *ast.ExpressionStatement {
	return &ast.ExpressionStatement{Expression: e}
}

func block(stmts ...ast.Statement) *ast.BlockStatement {
	return &ast.BlockStatement{Statements: stmts}
}

// value is a block whose only statement is e.
func value(e ast.Expression) *ast.BlockStatement { return block(stmt(e)) }

func infix(l ast.Expression, op string, r ast.Expression) *ast.InfixExpression {
	return &ast.InfixExpression{Left: l, Operator: op, Right: r}
}

func call(fn ast.Expression, args ...ast.Expression) *ast.CallExpression {
	return &ast.CallExpression{Function: fn, Arguments: args}
}

func assign(name string, v ast.Expression) *ast.AssignExpression {
	return &ast.AssignExpression{Name: name, Value: v}
}

func throw(v ast.Expression) *ast.ThrowStatement { return &ast.ThrowStatement{Value: v} }

func async(stmts ...ast.Statement) *ast.AsyncExpression {
	return &ast.AsyncExpression{Body: block(stmts...)}
}

func await(v ast.Expression) *ast.AwaitExpression { return &ast.AwaitExpression{Value: v} }

func field(obj ast.Expression, name string) *ast.FieldAccess {
	return &ast.FieldAccess{Object: obj, Field: name}
}

func fn(name string, params []string, body ...ast.Statement) *ast.FunctionDeclaration {
	return &ast.FunctionDeclaration{Name: name, Parameters: params, Body: block(body...)}
}

func ret(v ast.Expression) *ast.ReturnStatement { return &ast.ReturnStatement{Value: v} }

func floatOf(t *testing.T, v object.ConfidenceValue) float64 {
	t.Helper()
	f, ok := toFloat(v.Payload)
	require.True(t, ok, "expected a number, got %s", v.Inspect())
	return f
}

func stringOf(t *testing.T, v object.ConfidenceValue) string {
	t.Helper()
	s, ok := v.Payload.(*object.String)
	require.True(t, ok, "expected a string, got %s", v.Inspect())
	return s.Value
}

func boolOf(t *testing.T, v object.ConfidenceValue) bool {
	t.Helper()
	b, ok := v.Payload.(*object.Boolean)
	require.True(t, ok, "expected a boolean, got %s", v.Inspect())
	return b.Value
}
