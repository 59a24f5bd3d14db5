package foreign

import (
	"prism/internal/object"
)

// confFunctions expose the confidence algebra to programs. Results are
// fresh numbers, except decay which returns the decayed value itself.
func confFunctions() map[string]*object.Native {
	return map[string]*object.Native{
		"and":   fnConfAnd(),
		"or":    fnConfOr(),
		"all":   fnConfAll(),
		"decay": fnConfDecay(),
	}
}

func number(ctx object.EvaluatorContext, f float64) object.ConfidenceValue {
	return ctx.Originate(&object.Float{Value: f})
}

func fnConfAnd() *object.Native {
	return &object.Native{Arity: 2, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return number(ctx, object.CombineAnd(args[0].Confidence, args[1].Confidence)), nil
	}}
}

func fnConfOr() *object.Native {
	return &object.Native{Arity: 2, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return number(ctx, object.CombineOr(args[0].Confidence, args[1].Confidence)), nil
	}}
}

func fnConfAll() *object.Native {
	return &object.Native{Arity: 1, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		list, ok := args[0].Payload.(*object.List)
		if !ok {
			return args[0], object.NewError(object.TypeMismatchError, "conf.all expects a list, got %s", args[0].Payload.Type())
		}
		return number(ctx, object.CombineAll(list.Elements...)), nil
	}}
}

func fnConfDecay() *object.Native {
	return &object.Native{Arity: 3, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		rate, err := unpackNumber(args[1], "rate")
		if err != nil {
			return args[0], err
		}
		elapsed, err := unpackNumber(args[2], "elapsed")
		if err != nil {
			return args[0], err
		}
		return object.Decay(args[0], rate, elapsed), nil
	}}
}
