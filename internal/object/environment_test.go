package object

import (
	"testing"
)

func TestEnvironmentScoping(t *testing.T) {
	global := NewEnvironment()
	global.Define("x", Certain(&Integer{Value: 1}), false, false)

	inner := NewEnclosedEnvironment(global, nil)
	inner.Define("x", NewConfidenceValue(&Integer{Value: 2}, 0.5), false, false)

	if v, _ := inner.Get("x"); v.Payload.(*Integer).Value != 2 {
		t.Fatalf("inner x = %s, want shadowed 2", v.Inspect())
	}
	if v, _ := global.Get("x"); v.Payload.(*Integer).Value != 1 {
		t.Fatalf("shadowing mutated the parent: %s", v.Inspect())
	}

	// redefinition in the same scope shadows without error
	inner.Define("x", Certain(&Integer{Value: 3}), false, false)
	if v, _ := inner.Get("x"); v.Payload.(*Integer).Value != 3 {
		t.Fatalf("redefinition = %s", v.Inspect())
	}
}

func TestEnvironmentAssignWalksToOwner(t *testing.T) {
	global := NewEnvironment()
	global.Define("counter", Certain(&Integer{Value: 0}), false, false)
	inner := NewEnclosedEnvironment(NewEnclosedEnvironment(global, nil), nil)

	if err := inner.Assign("counter", NewConfidenceValue(&Integer{Value: 5}, 0.7)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, ok := inner.GetLocalBinding("counter"); ok {
		t.Fatalf("Assign created a new local binding")
	}
	v, _ := global.Get("counter")
	if v.Payload.(*Integer).Value != 5 || v.Confidence != 0.7 {
		t.Fatalf("global counter = %s", v.Inspect())
	}
}

func TestEnvironmentUndefined(t *testing.T) {
	env := NewEnclosedEnvironment(NewEnvironment(), nil)

	_, err := env.Lookup("missing")
	if !IsKind(err, UndefinedBindingError) {
		t.Fatalf("Lookup error = %v, want UndefinedBindingError", err)
	}
	re, _ := AsRuntimeError(err)
	if re.Confidence() != 1.0 {
		t.Fatalf("undefined binding errors must not be confidence weighted")
	}

	if err := env.Assign("missing", Certain(NIL)); !IsKind(err, UndefinedBindingError) {
		t.Fatalf("Assign error = %v, want UndefinedBindingError", err)
	}
}

func TestEnvironmentExports(t *testing.T) {
	env := NewEnvironment()
	env.Define("public", Certain(TRUE), true, false)
	env.Define("private", Certain(FALSE), false, false)

	exports := env.Exports()
	if _, ok := exports["public"]; !ok || len(exports) != 1 {
		t.Fatalf("Exports() = %v", exports)
	}
}
