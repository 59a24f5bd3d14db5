package runtime

import (
	"prism/internal/ast"
	"prism/internal/object"
)

func (e *Task) evalMatchExpression(node *ast.MatchExpression) (object.ConfidenceValue, error) {
	subject, err := e.Eval(node.Value)
	if err != nil {
		return subject, err
	}

	for _, arm := range node.Arms {
		result, matched, err := e.evalMatchArm(subject, arm)
		if err != nil {
			return result, err
		}
		if matched {
			return result, nil
		}
	}
	return e.nilValue(), e.newError(object.NonExhaustiveMatchError, "no pattern matched %s", subject.Inspect())
}

// evalMatchArm tries one arm in its own scope, so bindings made by a pattern
// that then fails to match, or by a guard that rejects it, never leak.
func (e *Task) evalMatchArm(subject object.ConfidenceValue, arm *ast.MatchArm) (object.ConfidenceValue, bool, error) {
	env := object.NewEnclosedEnvironment(e.CurrentEnv(), nil)
	e.PushEnv(env)
	defer e.PopEnv()

	ok, err := e.patternMatches(arm.Pattern, subject, env)
	if err != nil || !ok {
		return e.nilValue(), false, err
	}

	if arm.Guard != nil {
		guard, err := e.Eval(arm.Guard)
		if err != nil {
			return guard, false, err
		}
		b, isBool := guard.Payload.(*object.Boolean)
		if !isBool {
			return guard, false, e.newError(object.TypeMismatchError, "match guard must be a boolean, got %s", guard.Payload.Type())
		}
		if !b.Value {
			return e.nilValue(), false, nil
		}
	}

	result, err := e.Eval(arm.Body)
	return result, true, err
}

// patternMatches tests v against pattern, defining any captures in env.
func (e *Task) patternMatches(pattern ast.Pattern, v object.ConfidenceValue, env *object.Environment) (bool, error) {
	switch p := pattern.(type) {
	case *ast.WildcardPattern:
		return true, nil

	case *ast.IdentifierPattern:
		env.Define(p.Name, v, false, false)
		return true, nil

	case *ast.LiteralPattern:
		lit, err := e.Eval(p.Value)
		if err != nil {
			return false, err
		}
		return object.Equal(lit.Payload, v.Payload), nil

	case *ast.RangePattern:
		if !p.Range.Contains(v.Confidence) {
			return false, nil
		}
		if p.Inner == nil {
			return true, nil
		}
		return e.patternMatches(p.Inner, v, env)

	case *ast.ContextPattern:
		if !e.inContext(v, p.Context) {
			return false, nil
		}
		if p.Inner == nil {
			return true, nil
		}
		return e.patternMatches(p.Inner, v, env)

	case *ast.AndPattern:
		return e.matchInScratch(env, func(scratch *object.Environment) (bool, error) {
			ok, err := e.patternMatches(p.Left, v, scratch)
			if err != nil || !ok {
				return false, err
			}
			return e.patternMatches(p.Right, v, scratch)
		})

	case *ast.OrPattern:
		ok, err := e.matchInScratch(env, func(scratch *object.Environment) (bool, error) {
			return e.patternMatches(p.Left, v, scratch)
		})
		if err != nil || ok {
			return ok, err
		}
		return e.matchInScratch(env, func(scratch *object.Environment) (bool, error) {
			return e.patternMatches(p.Right, v, scratch)
		})

	case *ast.ListPattern:
		list, ok := v.Payload.(*object.List)
		if !ok {
			return false, nil
		}
		if p.Rest == "" && len(list.Elements) != len(p.Elements) {
			return false, nil
		}
		if len(list.Elements) < len(p.Elements) {
			return false, nil
		}
		return e.matchInScratch(env, func(scratch *object.Environment) (bool, error) {
			for i, elemPattern := range p.Elements {
				ok, err := e.patternMatches(elemPattern, element(v, list.Elements[i]), scratch)
				if err != nil || !ok {
					return false, err
				}
			}
			if p.Rest != "" {
				rest := append([]object.ConfidenceValue(nil), list.Elements[len(p.Elements):]...)
				scratch.Define(p.Rest, v.WithPayload(&object.List{Elements: rest}), false, false)
			}
			return true, nil
		})

	case *ast.StructPattern:
		inst, ok := v.Payload.(*object.StructInstance)
		if !ok || inst.Schema.Name != p.Name {
			return false, nil
		}
		return e.matchInScratch(env, func(scratch *object.Environment) (bool, error) {
			for _, fp := range p.Fields {
				field, ok := inst.Fields[fp.Name]
				if !ok {
					return false, nil
				}
				fieldPattern := fp.Pattern
				if fieldPattern == nil {
					fieldPattern = &ast.IdentifierPattern{Name: fp.Name}
				}
				ok, err := e.patternMatches(fieldPattern, element(v, field), scratch)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		})
	}
	return false, e.newError(object.TypeMismatchError, "unsupported pattern %T", pattern)
}

// matchInScratch runs fn against a throwaway scope and copies its captures to
// env only when fn matched.
func (e *Task) matchInScratch(env *object.Environment, fn func(*object.Environment) (bool, error)) (bool, error) {
	scratch := object.NewEnvironment()
	ok, err := fn(scratch)
	if err != nil || !ok {
		return false, err
	}
	for _, name := range scratch.Names() {
		binding, _ := scratch.GetLocalBinding(name)
		env.Define(name, binding.Value, false, false)
	}
	return true, nil
}

// inContext holds for values tagged with name, and for untagged values
// produced while name is active.
func (e *Task) inContext(v object.ConfidenceValue, name string) bool {
	if v.Context != "" {
		return v.Context == name
	}
	return e.ctxStack.Has(name)
}
