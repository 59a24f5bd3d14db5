package runtime

import (
	"bytes"
	"prism/internal/object"
	"strings"
	"time"
	"unicode/utf8"
)

func (r *Runtime) builtinFunctions() map[string]*object.Native {
	builtins := map[string]*object.Native{
		"len":        fnBuiltinLen(),
		"print":      r.fnBuiltinPrint(),
		"type":       fnBuiltinType(),
		"assert":     fnBuiltinAssert(),
		"confidence": fnBuiltinConfidence(),
		"context":    fnBuiltinContext(),
		"decay":      r.fnBuiltinDecay(),
		"threshold":  fnBuiltinThreshold(),
		"error":      fnBuiltinError(),
		"stacktrace": fnBuiltinStacktrace(),
		"cancel":     fnBuiltinCancel(),
		"sleep":      fnBuiltinSleep(),
		"satisfies":  fnBuiltinSatisfies(),
		"map":        fnBuiltinMap(),
	}
	for name, fn := range builtins {
		fn.Name = name
	}
	return builtins
}

func typeError(format string, a ...any) error {
	return object.NewError(object.TypeMismatchError, format, a...)
}

func numberArg(fnName string, arg object.ConfidenceValue) (float64, error) {
	n, ok := toFloat(arg.Payload)
	if !ok {
		return 0, typeError("argument to `%s` must be a number, got %s", fnName, arg.Payload.Type())
	}
	return n, nil
}

func fnBuiltinLen() *object.Native {
	return &object.Native{Arity: 1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		var n int
		switch arg := args[0].Payload.(type) {
		case *object.List:
			n = len(arg.Elements)
		case *object.Map:
			n = len(arg.Keys)
		case *object.String:
			n = utf8.RuneCountInString(arg.Value)
		default:
			return args[0], typeError("argument to `len` not supported, got %s", args[0].Payload.Type())
		}
		return args[0].WithPayload(&object.Integer{Value: int64(n)}), nil
	}}
}

func (r *Runtime) fnBuiltinPrint() *object.Native {
	return &object.Native{Arity: -1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		var out bytes.Buffer
		for i, arg := range args {
			out.WriteString(arg.Inspect())
			if i < len(args)-1 {
				out.WriteString(" ")
			}
		}
		out.WriteString("\n")
		r.printf("%s", out.String())
		if len(args) > 0 {
			return args[0], nil
		}
		return ctx.Originate(object.NIL), nil
	}}
}

func fnBuiltinType() *object.Native {
	return &object.Native{Arity: 1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return ctx.Originate(&object.String{Value: strings.ToLower(string(args[0].Payload.Type()))}), nil
	}}
}

func fnBuiltinAssert() *object.Native {
	return &object.Native{Arity: -1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		if len(args) < 1 || len(args) > 2 {
			return object.Certain(object.NIL), typeError("wrong number of arguments to `assert`, got=%d, want=1 or 2", len(args))
		}
		cond, ok := args[0].Payload.(*object.Boolean)
		if !ok {
			return args[0], typeError("argument to `assert` must be a boolean, got %s", args[0].Payload.Type())
		}
		if cond.Value {
			return args[0], nil
		}
		msg := object.Certain(&object.String{Value: "assertion failed"})
		if len(args) == 2 {
			msg = args[1]
		}
		return args[0], object.NewUserError(msg, "AssertionError")
	}}
}

func fnBuiltinConfidence() *object.Native {
	return &object.Native{Arity: 1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return ctx.Originate(&object.Float{Value: args[0].Confidence}), nil
	}}
}

func fnBuiltinContext() *object.Native {
	return &object.Native{Arity: 1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		if args[0].Context == "" {
			return ctx.Originate(object.NIL), nil
		}
		return ctx.Originate(&object.String{Value: args[0].Context}), nil
	}}
}

// decay(v, elapsed) uses the configured rate; decay(v, rate, elapsed) overrides it.
func (r *Runtime) fnBuiltinDecay() *object.Native {
	return &object.Native{Arity: -1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		rate := r.Config.DecayRate
		var elapsedArg object.ConfidenceValue
		switch len(args) {
		case 2:
			elapsedArg = args[1]
		case 3:
			var err error
			if rate, err = numberArg("decay", args[1]); err != nil {
				return args[0], err
			}
			elapsedArg = args[2]
		default:
			return object.Certain(object.NIL), typeError("wrong number of arguments to `decay`, got=%d, want=2 or 3", len(args))
		}
		elapsed, err := numberArg("decay", elapsedArg)
		if err != nil {
			return args[0], err
		}
		return object.Decay(args[0], rate, elapsed), nil
	}}
}

func fnBuiltinThreshold() *object.Native {
	return &object.Native{Arity: 0, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return ctx.Originate(&object.Float{Value: ctx.CurrentThreshold()}), nil
	}}
}

// error(value, code?) builds an error value to throw. It is as certain as
// the value it wraps.
func fnBuiltinError() *object.Native {
	return &object.Native{Arity: -1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		if len(args) < 1 || len(args) > 2 {
			return object.Certain(object.NIL), typeError("wrong number of arguments to `error`, got=%d, want=1 or 2", len(args))
		}
		code := ""
		if len(args) == 2 {
			s, ok := args[1].Payload.(*object.String)
			if !ok {
				return args[1], typeError("error code must be a string, got %s", args[1].Payload.Type())
			}
			code = s.Value
		}
		return object.NewUserError(args[0], code).Value(), nil
	}}
}

func fnBuiltinStacktrace() *object.Native {
	return &object.Native{Arity: 1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		rtErr, ok := args[0].Payload.(*object.RuntimeError)
		if !ok {
			return args[0], typeError("argument to `stacktrace` must be an error, got %s", args[0].Payload.Type())
		}
		return ctx.Originate(&object.String{Value: object.RenderStacktrace(rtErr)}), nil
	}}
}

func fnBuiltinCancel() *object.Native {
	return &object.Native{Arity: 1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		t, ok := args[0].Payload.(*Task)
		if !ok {
			return args[0], typeError("argument to `cancel` must be a task, got %s", args[0].Payload.Type())
		}
		return ctx.Originate(object.NativeBool(t.Cancel("cancelled by program"))), nil
	}}
}

// sleep(ms) runs on the worker pool and evaluates to a task handle.
func fnBuiltinSleep() *object.Native {
	return &object.Native{Arity: 1, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		ms, err := numberArg("sleep", args[0])
		if err != nil {
			return args[0], err
		}
		timer := time.NewTimer(millis(ms))
		defer timer.Stop()
		select {
		case <-timer.C:
			return ctx.Originate(object.NIL), nil
		case <-ctx.Context().Done():
			return object.Certain(object.NIL), ctx.Context().Err()
		}
	}}
}

func fnBuiltinSatisfies() *object.Native {
	return &object.Native{Arity: 2, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		trait, ok := args[1].Payload.(*object.Trait)
		if !ok {
			return args[1], typeError("second argument to `satisfies` must be a trait, got %s", args[1].Payload.Type())
		}
		return ctx.Originate(object.NativeBool(satisfies(args[0].Payload, trait))), nil
	}}
}

func fnBuiltinMap() *object.Native {
	return &object.Native{Arity: 2, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		list, ok := args[0].Payload.(*object.List)
		if !ok {
			return args[0], typeError("first argument to `map` must be a list, got %s", args[0].Payload.Type())
		}
		out := make([]object.ConfidenceValue, 0, len(list.Elements))
		for _, elem := range list.Elements {
			v, err := ctx.ApplyFunction(args[1], []object.ConfidenceValue{elem})
			if err != nil {
				return args[0], err
			}
			out = append(out, v)
		}
		return args[0].WithPayload(&object.List{Elements: out}), nil
	}}
}
