package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"prism/internal/ast"
	"prism/internal/object"
)

func TestArithmeticCombinesConfidence(t *testing.T) {
	rt, _ := newTestRuntime(t)
	got := mustRun(t, rt,
		let("x", with(num(1), 0.9)),
		let("y", with(flt(2.0), 0.8)),
		stmt(infix(id("x"), "+", id("y"))),
	)
	require.Equal(t, 3.0, floatOf(t, got))
	require.IsType(t, &object.Float{}, got.Payload)
	require.InDelta(t, 0.72, got.Confidence, 1e-12)
}

func TestInfixOperators(t *testing.T) {
	tests := []struct {
		name  string
		input ast.Expression
		want  string
	}{
		{"integer division truncates", infix(num(7), "/", num(2)), "3"},
		{"mixed promotes", infix(num(7), "/", flt(2)), "3.5"},
		{"modulo", infix(num(7), "%", num(4)), "3"},
		{"string concat", infix(str("a"), "+", str("b")), "ab"},
		{"string plus number", infix(str("n="), "+", num(4)), "n=4"},
		{"list concat", infix(list(num(1)), "+", list(num(2))), "[1, 2]"},
		{"int float equality", infix(num(2), "==", flt(2.0)), "true"},
		{"comparison", infix(flt(0.75), ">", flt(0.8)), "false"},
		{"string order", infix(str("a"), "<", str("b")), "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, _ := newTestRuntime(t)
			got := mustRun(t, rt, stmt(tt.input))
			require.Equal(t, tt.want, got.Payload.Inspect())
		})
	}
}

func TestArithmeticErrors(t *testing.T) {
	tests := []struct {
		name  string
		input ast.Expression
		kind  object.ErrorKind
	}{
		{"division by zero", infix(num(1), "/", num(0)), object.ArithmeticError},
		{"float division by zero", infix(flt(1), "/", flt(0)), object.ArithmeticError},
		{"bool plus int", infix(boolean(true), "+", num(1)), object.TypeMismatchError},
		{"negate string", &ast.PrefixExpression{Operator: "-", Right: str("x")}, object.TypeMismatchError},
		{"undefined", id("nope"), object.UndefinedBindingError},
		{"index out of range", &ast.IndexExpression{Left: list(num(1)), Index: num(3)}, object.IndexError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, _ := newTestRuntime(t)
			_, err := run(t, rt, stmt(tt.input))
			requireKind(t, err, tt.kind)
		})
	}
}

func TestShortCircuit(t *testing.T) {
	t.Run("and skips right operand", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		got := mustRun(t, rt, stmt(infix(with(boolean(false), 0.6), "&&", id("undefined"))))
		require.False(t, boolOf(t, got))
		require.Equal(t, 0.6, got.Confidence)
	})
	t.Run("or skips right operand", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		got := mustRun(t, rt, stmt(infix(with(boolean(true), 0.7), "||", id("undefined"))))
		require.True(t, boolOf(t, got))
		require.Equal(t, 0.7, got.Confidence)
	})
	t.Run("and evaluates both", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		got := mustRun(t, rt, stmt(infix(with(boolean(true), 0.9), "&&", with(boolean(true), 0.8))))
		require.True(t, boolOf(t, got))
		require.InDelta(t, 0.72, got.Confidence, 1e-12)
	})
	t.Run("or evaluates both", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		got := mustRun(t, rt, stmt(infix(with(boolean(false), 0.9), "||", with(boolean(true), 0.5))))
		require.True(t, boolOf(t, got))
		require.InDelta(t, 0.95, got.Confidence, 1e-12)
	})
	t.Run("non boolean operand", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		_, err := run(t, rt, stmt(infix(num(1), "&&", boolean(true))))
		requireKind(t, err, object.TypeMismatchError)
	})
}

func TestFlowAndContextTag(t *testing.T) {
	rt, _ := newTestRuntime(t)
	got := mustRun(t, rt,
		let("reading", &ast.InContextExpression{Context: "lab", Value: with(num(21), 0.9)}),
		stmt(infix(id("reading"), "*", with(num(2), 0.5))),
	)
	require.Equal(t, "42", got.Payload.Inspect())
	require.InDelta(t, 0.45, got.Confidence, 1e-12)
	require.Equal(t, "lab", got.Context)
}

func TestContainersCapElementConfidence(t *testing.T) {
	rt, _ := newTestRuntime(t)
	got := mustRun(t, rt,
		let("xs", with(list(with(num(1), 0.9), num(2)), 0.5)),
		stmt(&ast.IndexExpression{Left: id("xs"), Index: num(0)}),
	)
	require.Equal(t, "1", got.Payload.Inspect())
	require.InDelta(t, 0.45, got.Confidence, 1e-12)

	m := &ast.MapLiteral{Entries: []ast.MapEntry{{Key: str("k"), Value: with(str("v"), 0.8)}}}
	got = mustRun(t, rt, stmt(field(m, "k")))
	require.Equal(t, "v", stringOf(t, got))
	require.Equal(t, 0.8, got.Confidence)

	got = mustRun(t, rt, stmt(field(m, "missing")))
	require.Equal(t, object.NIL, got.Payload)
}

func TestFunctions(t *testing.T) {
	rt, _ := newTestRuntime(t)
	declared := 0.9
	double := fn("double", []string{"n"}, ret(infix(id("n"), "*", num(2))))
	double.Confidence = &declared

	got := mustRun(t, rt,
		double,
		stmt(call(id("double"), with(num(21), 0.8))),
	)
	require.Equal(t, "42", got.Payload.Inspect())
	require.InDelta(t, 0.72, got.Confidence, 1e-12)

	_, err := run(t, rt, stmt(call(id("double"))))
	requireKind(t, err, object.TypeMismatchError)
}

func TestRecursionAndClosures(t *testing.T) {
	rt, _ := newTestRuntime(t)
	fact := fn("fact", []string{"n"},
		stmt(&ast.IfExpression{
			Condition:   infix(id("n"), "<=", num(1)),
			Consequence: block(ret(num(1))),
		}),
		ret(infix(id("n"), "*", call(id("fact"), infix(id("n"), "-", num(1))))),
	)
	got := mustRun(t, rt, fact, stmt(call(id("fact"), num(10))))
	require.Equal(t, "3628800", got.Payload.Inspect())

	counter := mustRun(t, rt,
		let("count", num(0)),
		let("inc", &ast.FunctionLiteral{Body: block(stmt(assign("count", infix(id("count"), "+", num(1)))))}),
		stmt(call(id("inc"))),
		stmt(call(id("inc"))),
		stmt(id("count")),
	)
	require.Equal(t, "2", counter.Payload.Inspect())
}

func TestLoops(t *testing.T) {
	rt, _ := newTestRuntime(t)
	got := mustRun(t, rt,
		let("total", num(0)),
		&ast.ForInStatement{
			Variable: "x",
			Iterable: list(num(1), num(2), num(3), num(4)),
			Body: block(
				stmt(&ast.IfExpression{Condition: infix(id("x"), "==", num(2)), Consequence: block(&ast.ContinueStatement{})}),
				stmt(&ast.IfExpression{Condition: infix(id("x"), "==", num(4)), Consequence: block(&ast.BreakStatement{})}),
				stmt(assign("total", infix(id("total"), "+", id("x")))),
			),
		},
		let("i", num(0)),
		&ast.WhileStatement{
			Condition: infix(id("i"), "<", num(5)),
			Body:      block(stmt(assign("i", infix(id("i"), "+", num(1))))),
		},
		&ast.ForStatement{
			Init:      let("j", num(0)),
			Condition: infix(id("j"), "<", num(3)),
			Update:    assign("j", infix(id("j"), "+", num(1))),
			Body:      block(stmt(assign("total", infix(id("total"), "+", num(10))))),
		},
		stmt(infix(id("total"), "+", id("i"))),
	)
	require.Equal(t, "39", got.Payload.Inspect())

	_, err := run(t, rt, &ast.BreakStatement{})
	requireKind(t, err, object.TypeMismatchError)
}

func TestUncertainIf(t *testing.T) {
	high, low := 0.8, 0.3
	tiered := func(subject ast.Expression) *ast.UncertainIfExpression {
		return &ast.UncertainIfExpression{
			Subject: subject,
			High:    &ast.UncertainArm{Body: value(str("high"))},
			Medium:  &ast.UncertainArm{Body: value(str("medium"))},
			Low:     value(str("low")),
		}
	}

	tests := []struct {
		name string
		expr *ast.UncertainIfExpression
		want string
	}{
		{
			name: "conditions pick medium",
			expr: &ast.UncertainIfExpression{
				High:   &ast.UncertainArm{Condition: infix(flt(0.75), ">", flt(0.8)), Body: value(str("high"))},
				Medium: &ast.UncertainArm{Condition: infix(flt(0.75), ">", flt(0.6)), Body: value(str("medium"))},
				Low:    value(str("low")),
			},
			want: "medium",
		},
		{
			name: "arm threshold gates a true condition",
			expr: &ast.UncertainIfExpression{
				High: &ast.UncertainArm{Condition: with(boolean(true), 0.7), Threshold: &high, Body: value(str("high"))},
				Low:  value(str("low")),
			},
			want: "low",
		},
		{
			name: "explicit low threshold",
			expr: &ast.UncertainIfExpression{
				High: &ast.UncertainArm{Condition: with(boolean(true), 0.4), Threshold: &low, Body: value(str("high"))},
				Low:  value(str("low")),
			},
			want: "high",
		},
		{"subject high", tiered(with(num(1), 0.9)), "high"},
		{"subject medium", tiered(with(num(1), 0.6)), "medium"},
		{"subject low", tiered(with(num(1), 0.2)), "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, _ := newTestRuntime(t)
			got := mustRun(t, rt, stmt(tt.expr))
			require.Equal(t, tt.want, stringOf(t, got))
		})
	}

	t.Run("missing low arm", func(t *testing.T) {
		rt, _ := newTestRuntime(t)
		_, err := run(t, rt, stmt(&ast.UncertainIfExpression{
			High: &ast.UncertainArm{Condition: boolean(true), Body: value(str("high"))},
		}))
		requireKind(t, err, object.MissingFallbackArm)
	})
}

func TestStructsAndTraits(t *testing.T) {
	rt, _ := newTestRuntime(t)
	weight := 0.9
	got := mustRun(t, rt,
		&ast.StructDeclaration{Name: "Reading", Weight: &weight, Fields: []ast.StructField{
			{Name: "value"},
			{Name: "unit", Default: str("C")},
		}},
		&ast.TraitDeclaration{
			Name:     "Describe",
			Required: []string{"label"},
			Defaults: []*ast.FunctionDeclaration{
				fn("describe", nil, ret(infix(call(field(id("self"), "label")), "+", field(id("self"), "unit")))),
			},
		},
		&ast.ImplDeclaration{Trait: "Describe", Struct: "Reading", Methods: []*ast.FunctionDeclaration{
			fn("label", nil, ret(str("reading in "))),
		}},
		let("r", &ast.StructLiteral{Name: "Reading", Fields: []ast.FieldInit{{Name: "value", Value: with(num(21), 0.5)}}}),
		stmt(id("r")),
	)
	inst, ok := got.Payload.(*object.StructInstance)
	require.True(t, ok)
	require.InDelta(t, 0.45, got.Confidence, 1e-12)
	require.InDelta(t, 0.45, *inst.Overall, 1e-12)

	overall := mustRun(t, rt, stmt(field(id("r"), object.OverallField)))
	require.InDelta(t, 0.45, floatOf(t, overall), 1e-12)

	described := mustRun(t, rt, stmt(call(field(id("r"), "describe"))))
	require.Equal(t, "reading in C", stringOf(t, described))

	sat := mustRun(t, rt, stmt(call(id("satisfies"), id("r"), id("Describe"))))
	require.True(t, boolOf(t, sat))

	_, err := run(t, rt,
		&ast.StructDeclaration{Name: "Bare"},
		&ast.ImplDeclaration{Trait: "Describe", Struct: "Bare"},
	)
	rtErr := requireKind(t, err, object.TypeMismatchError)
	require.Contains(t, rtErr.Message, "missing method 'label'")
}

func TestBuiltins(t *testing.T) {
	rt, out := newTestRuntime(t)
	got := mustRun(t, rt,
		let("v", with(str("abc"), 0.5)),
		stmt(call(id("print"), id("v"), num(1))),
		stmt(call(id("len"), id("v"))),
	)
	require.Equal(t, "3", got.Payload.Inspect())
	require.Equal(t, 0.5, got.Confidence)
	require.Equal(t, "abc ~> 0.5 1\n", out.String())

	c := mustRun(t, rt, stmt(call(id("confidence"), id("v"))))
	require.Equal(t, 0.5, floatOf(t, c))
	require.Equal(t, 1.0, c.Confidence)

	decayed := mustRun(t, rt, stmt(call(id("decay"), with(num(1), 0.8), flt(0.5), num(1))))
	require.InDelta(t, 0.4, decayed.Confidence, 1e-12)

	typ := mustRun(t, rt, stmt(call(id("type"), num(1))))
	require.Equal(t, "integer", stringOf(t, typ))

	mapped := mustRun(t, rt, stmt(call(id("map"), list(num(1), num(2)),
		&ast.FunctionLiteral{Parameters: []string{"n"}, Body: value(infix(id("n"), "*", num(3)))})))
	require.Equal(t, "[3, 6]", mapped.Payload.Inspect())

	_, err := run(t, rt, stmt(call(id("assert"), boolean(false), str("broken"))))
	rtErr := requireKind(t, err, object.UserError)
	require.Equal(t, "AssertionError", rtErr.Code)

	_, err = run(t, rt, stmt(call(id("len"), num(1), num(2))))
	requireKind(t, err, object.TypeMismatchError)
}

func TestStackTraceNamesFunctions(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := run(t, rt,
		fn("inner", nil, throw(str("deep"))),
		fn("outer", nil, stmt(call(id("inner")))),
		stmt(call(id("outer"))),
	)
	rtErr := requireKind(t, err, object.UserError)
	var names []string
	for _, frame := range rtErr.StackTrace {
		names = append(names, frame.Function)
	}
	require.Equal(t, "inner outer main", strings.Join(names, " "))
}

func TestResultAccessors(t *testing.T) {
	rt, _ := newTestRuntime(t)
	v, err := run(t, rt, stmt(&ast.InContextExpression{Context: "lab", Value: with(num(1), 0.6)}))
	require.NoError(t, err)
	require.Equal(t, 0.6, ConfidenceOf(v, err))
	require.Equal(t, "lab", ContextOf(v, err))

	v, err = run(t, rt, throw(&ast.InContextExpression{Context: "field", Value: with(str("lost"), 0.3)}))
	require.Error(t, err)
	require.Equal(t, 0.3, ConfidenceOf(v, err))
	require.Equal(t, "field", ContextOf(v, err))

	v, err = run(t, rt, stmt(id("missing")))
	requireKind(t, err, object.UndefinedBindingError)
	require.Equal(t, 1.0, ConfidenceOf(v, err))
}
