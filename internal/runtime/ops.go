package runtime

import (
	"math"
	"prism/internal/ast"
	"prism/internal/object"
	"strings"
)

func (e *Task) evalPrefixExpression(operator string, right object.ConfidenceValue) (object.ConfidenceValue, error) {
	switch operator {
	case "!":
		b, ok := right.Payload.(*object.Boolean)
		if !ok {
			return right, e.newError(object.TypeMismatchError, "operator ! expects a boolean, got %s", right.Payload.Type())
		}
		return right.WithPayload(object.NativeBool(!b.Value)), nil
	case "-":
		switch n := right.Payload.(type) {
		case *object.Integer:
			return right.WithPayload(&object.Integer{Value: -n.Value}), nil
		case *object.Float:
			return right.WithPayload(&object.Float{Value: -n.Value}), nil
		}
		return right, e.newError(object.TypeMismatchError, "operator - expects a number, got %s", right.Payload.Type())
	}
	return right, e.newError(object.TypeMismatchError, "unknown operator: %s%s", operator, right.Payload.Type())
}

func (e *Task) evalInfixExpression(operator string, left, right object.ConfidenceValue) (object.ConfidenceValue, error) {
	payload, err := e.infixPayload(operator, left.Payload, right.Payload)
	if err != nil {
		return e.nilValue(), err
	}
	return object.Combine(payload, left, right), nil
}

func (e *Task) infixPayload(operator string, left, right object.Object) (object.Object, error) {
	switch {
	case operator == "==":
		return object.NativeBool(object.Equal(left, right)), nil
	case operator == "!=":
		return object.NativeBool(!object.Equal(left, right)), nil
	case left.Type() == object.INTEGER_OBJ && right.Type() == object.INTEGER_OBJ:
		return e.evalIntegerInfixExpression(operator, left.(*object.Integer).Value, right.(*object.Integer).Value)
	case isNumber(left) && isNumber(right):
		l, _ := toFloat(left)
		r, _ := toFloat(right)
		return e.evalFloatInfixExpression(operator, l, r)
	case left.Type() == object.STRING_OBJ && right.Type() == object.STRING_OBJ:
		return e.evalStringInfixExpression(operator, left.(*object.String).Value, right.(*object.String).Value)
	case operator == "+" && (left.Type() == object.STRING_OBJ || right.Type() == object.STRING_OBJ):
		return &object.String{Value: left.Inspect() + right.Inspect()}, nil
	case operator == "+" && left.Type() == object.LIST_OBJ && right.Type() == object.LIST_OBJ:
		l, r := left.(*object.List), right.(*object.List)
		elements := make([]object.ConfidenceValue, 0, len(l.Elements)+len(r.Elements))
		elements = append(elements, l.Elements...)
		elements = append(elements, r.Elements...)
		return &object.List{Elements: elements}, nil
	}
	return nil, e.newError(object.TypeMismatchError, "unsupported operands: %s %s %s", left.Type(), operator, right.Type())
}

func (e *Task) evalIntegerInfixExpression(operator string, l, r int64) (object.Object, error) {
	switch operator {
	case "+":
		return &object.Integer{Value: l + r}, nil
	case "-":
		return &object.Integer{Value: l - r}, nil
	case "*":
		return &object.Integer{Value: l * r}, nil
	case "/":
		if r == 0 {
			return nil, e.newError(object.ArithmeticError, "division by zero")
		}
		return &object.Integer{Value: l / r}, nil
	case "%":
		if r == 0 {
			return nil, e.newError(object.ArithmeticError, "modulo by zero")
		}
		return &object.Integer{Value: l % r}, nil
	case "<":
		return object.NativeBool(l < r), nil
	case ">":
		return object.NativeBool(l > r), nil
	case "<=":
		return object.NativeBool(l <= r), nil
	case ">=":
		return object.NativeBool(l >= r), nil
	}
	return nil, e.newError(object.TypeMismatchError, "unknown operator: INTEGER %s INTEGER", operator)
}

func (e *Task) evalFloatInfixExpression(operator string, l, r float64) (object.Object, error) {
	switch operator {
	case "+":
		return &object.Float{Value: l + r}, nil
	case "-":
		return &object.Float{Value: l - r}, nil
	case "*":
		return &object.Float{Value: l * r}, nil
	case "/":
		if r == 0 {
			return nil, e.newError(object.ArithmeticError, "division by zero")
		}
		return &object.Float{Value: l / r}, nil
	case "%":
		if r == 0 {
			return nil, e.newError(object.ArithmeticError, "modulo by zero")
		}
		return &object.Float{Value: math.Mod(l, r)}, nil
	case "<":
		return object.NativeBool(l < r), nil
	case ">":
		return object.NativeBool(l > r), nil
	case "<=":
		return object.NativeBool(l <= r), nil
	case ">=":
		return object.NativeBool(l >= r), nil
	}
	return nil, e.newError(object.TypeMismatchError, "unknown operator: FLOAT %s FLOAT", operator)
}

func (e *Task) evalStringInfixExpression(operator string, l, r string) (object.Object, error) {
	switch operator {
	case "+":
		return &object.String{Value: l + r}, nil
	case "<":
		return object.NativeBool(strings.Compare(l, r) < 0), nil
	case ">":
		return object.NativeBool(strings.Compare(l, r) > 0), nil
	case "<=":
		return object.NativeBool(strings.Compare(l, r) <= 0), nil
	case ">=":
		return object.NativeBool(strings.Compare(l, r) >= 0), nil
	}
	return nil, e.newError(object.TypeMismatchError, "unknown operator: STRING %s STRING", operator)
}

// evalShortCircuitInfixExpression skips the right operand when the left one
// decides the result; the result then carries only the left confidence.
func (e *Task) evalShortCircuitInfixExpression(node *ast.InfixExpression) (object.ConfidenceValue, error) {
	left, err := e.Eval(node.Left)
	if err != nil {
		return left, err
	}
	lb, ok := left.Payload.(*object.Boolean)
	if !ok {
		return left, e.newError(object.TypeMismatchError, "operator %s expects booleans, got %s", node.Operator, left.Payload.Type())
	}
	if (node.Operator == "&&" && !lb.Value) || (node.Operator == "||" && lb.Value) {
		return left, nil
	}

	right, err := e.Eval(node.Right)
	if err != nil {
		return right, err
	}
	rb, ok := right.Payload.(*object.Boolean)
	if !ok {
		return right, e.newError(object.TypeMismatchError, "operator %s expects booleans, got %s", node.Operator, right.Payload.Type())
	}

	confidence := object.CombineAnd(left.Confidence, right.Confidence)
	if node.Operator == "||" {
		confidence = object.CombineOr(left.Confidence, right.Confidence)
	}
	return object.ConfidenceValue{
		Payload:    object.NativeBool(rb.Value),
		Confidence: confidence,
		Context:    object.MergeContext(left.Context, right.Context),
	}, nil
}

// element derives a contained value: it can be no more certain than its
// container.
func element(container, elem object.ConfidenceValue) object.ConfidenceValue {
	return object.ConfidenceValue{
		Payload:    elem.Payload,
		Confidence: object.CombineAnd(container.Confidence, elem.Confidence),
		Context:    object.MergeContext(elem.Context, container.Context),
	}
}

func (e *Task) evalIndexExpression(left, index object.ConfidenceValue) (object.ConfidenceValue, error) {
	switch container := left.Payload.(type) {
	case *object.List:
		i, ok := index.Payload.(*object.Integer)
		if !ok {
			return left, e.newError(object.TypeMismatchError, "list index must be an integer, got %s", index.Payload.Type())
		}
		idx := i.Value
		if idx < 0 {
			idx += int64(len(container.Elements))
		}
		if idx < 0 || idx >= int64(len(container.Elements)) {
			return left, e.newError(object.IndexError, "index %d out of range for list of length %d", i.Value, len(container.Elements))
		}
		return element(left, container.Elements[idx]), nil

	case *object.Map:
		key, ok := index.Payload.(object.Hashable)
		if !ok {
			return left, e.newError(object.TypeMismatchError, "unusable as map key: %s", index.Payload.Type())
		}
		val, ok := container.Get(key)
		if !ok {
			return left.WithPayload(object.NIL), nil
		}
		return element(left, val), nil

	case *object.String:
		i, ok := index.Payload.(*object.Integer)
		if !ok {
			return left, e.newError(object.TypeMismatchError, "string index must be an integer, got %s", index.Payload.Type())
		}
		runes := []rune(container.Value)
		idx := i.Value
		if idx < 0 {
			idx += int64(len(runes))
		}
		if idx < 0 || idx >= int64(len(runes)) {
			return left, e.newError(object.IndexError, "index %d out of range for string of length %d", i.Value, len(runes))
		}
		return left.WithPayload(&object.String{Value: string(runes[idx])}), nil
	}
	return left, e.newError(object.TypeMismatchError, "index operator not supported: %s", left.Payload.Type())
}

func (e *Task) evalFieldAccess(obj object.ConfidenceValue, field string) (object.ConfidenceValue, error) {
	switch o := obj.Payload.(type) {
	case *object.StructInstance:
		if field == object.OverallField && o.Overall != nil {
			return object.Certain(&object.Float{Value: *o.Overall}), nil
		}
		if val, ok := o.Fields[field]; ok {
			return element(obj, val), nil
		}
		if fn, ok := o.Schema.Method(field); ok {
			return object.Certain(fn.Bind(obj)), nil
		}
		return obj, e.newError(object.TypeMismatchError, "%s has no field or method '%s'", o.Schema.Name, field)

	case *object.Module:
		if val, ok := o.Exports[field]; ok {
			return val, nil
		}
		return obj, e.newError(object.ModuleResolutionError, "module '%s' has no export '%s'", o.Name, field)

	case *object.Map:
		val, ok := o.Get(&object.String{Value: field})
		if !ok {
			return obj.WithPayload(object.NIL), nil
		}
		return element(obj, val), nil

	case *object.RuntimeError:
		switch field {
		case "kind":
			return object.Certain(&object.String{Value: string(o.Kind)}), nil
		case "message":
			return object.Certain(&object.String{Value: o.Message}), nil
		case "code":
			return object.Certain(&object.String{Value: o.Code}), nil
		case "value":
			return o.Payload, nil
		case "cause":
			if o.Cause == nil {
				return object.Certain(object.NIL), nil
			}
			return o.Cause.Value(), nil
		}
		return obj, e.newError(object.TypeMismatchError, "error has no field '%s'", field)

	case *Task:
		switch field {
		case "id":
			return object.Certain(&object.String{Value: o.ID.String()}), nil
		case "state":
			return object.Certain(&object.String{Value: o.State().String()}), nil
		}
		return obj, e.newError(object.TypeMismatchError, "task has no field '%s'", field)
	}
	return obj, e.newError(object.TypeMismatchError, "field access not supported: %s.%s", obj.Payload.Type(), field)
}

func isNumber(o object.Object) bool {
	_, ok := toFloat(o)
	return ok
}

func toFloat(o object.Object) (float64, bool) {
	switch n := o.(type) {
	case *object.Integer:
		return float64(n.Value), true
	case *object.Float:
		return n.Value, true
	}
	return 0, false
}
