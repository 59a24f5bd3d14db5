package runtime

import (
	"errors"
	"log/slog"
	"prism/internal/ast"
	"prism/internal/contexts"
	"prism/internal/object"
)

func (e *Task) evalCondition(exp ast.Expression, what string) (object.ConfidenceValue, bool, error) {
	cond, err := e.Eval(exp)
	if err != nil {
		return cond, false, err
	}
	b, ok := cond.Payload.(*object.Boolean)
	if !ok {
		return cond, false, e.newError(object.TypeMismatchError, "%s must be a boolean, got %s", what, cond.Payload.Type())
	}
	return cond, b.Value, nil
}

func (e *Task) evalIfExpression(node *ast.IfExpression) (object.ConfidenceValue, error) {
	_, ok, err := e.evalCondition(node.Condition, "if condition")
	if err != nil {
		return e.nilValue(), err
	}
	if ok {
		return e.evalBlockStatement(node.Consequence)
	}
	if node.Alternative != nil {
		return e.evalBlockStatement(node.Alternative)
	}
	return e.nilValue(), nil
}

// evalUncertainIfExpression picks the first tier whose condition holds and
// whose measured confidence reaches the tier threshold, falling back to low.
func (e *Task) evalUncertainIfExpression(node *ast.UncertainIfExpression) (object.ConfidenceValue, error) {
	if node.Low == nil {
		return e.nilValue(), e.newError(object.MissingFallbackArm, "uncertain if requires a low arm")
	}

	var subject *object.ConfidenceValue
	if node.Subject != nil {
		v, err := e.Eval(node.Subject)
		if err != nil {
			return v, err
		}
		subject = &v
	}

	tiers := []struct {
		arm      *ast.UncertainArm
		fallback float64
	}{
		{node.High, e.Runtime.Config.HighThreshold},
		{node.Medium, e.Runtime.Config.MediumThreshold},
	}
	for _, tier := range tiers {
		if tier.arm == nil {
			continue
		}
		fires, err := e.armFires(tier.arm, subject, tier.fallback)
		if err != nil {
			return e.nilValue(), err
		}
		if fires {
			return e.evalBlockStatement(tier.arm.Body)
		}
	}
	return e.evalBlockStatement(node.Low)
}

func (e *Task) armFires(arm *ast.UncertainArm, subject *object.ConfidenceValue, fallback float64) (bool, error) {
	measured := 1.0
	threshold := arm.Threshold
	switch {
	case arm.Condition != nil:
		cond, ok, err := e.evalCondition(arm.Condition, "uncertain if condition")
		if err != nil || !ok {
			return false, err
		}
		measured = cond.Confidence
	case subject != nil:
		measured = subject.Confidence
		if threshold == nil {
			threshold = &fallback
		}
	}
	return threshold == nil || measured >= *threshold, nil
}

func (e *Task) evalWhileStatement(node *ast.WhileStatement) (object.ConfidenceValue, error) {
	for {
		if err := e.checkCancelled(); err != nil {
			return e.nilValue(), err
		}
		_, ok, err := e.evalCondition(node.Condition, "while condition")
		if err != nil {
			return e.nilValue(), err
		}
		if !ok {
			return e.nilValue(), nil
		}
		if brk, err := e.evalLoopBody(node.Body); err != nil || brk {
			return e.nilValue(), err
		}
	}
}

func (e *Task) evalForStatement(node *ast.ForStatement) (object.ConfidenceValue, error) {
	return e.withEnv(object.NewEnclosedEnvironment(e.CurrentEnv(), nil), func() (object.ConfidenceValue, error) {
		if node.Init != nil {
			if _, err := e.Eval(node.Init); err != nil {
				return e.nilValue(), err
			}
		}
		for {
			if err := e.checkCancelled(); err != nil {
				return e.nilValue(), err
			}
			if node.Condition != nil {
				_, ok, err := e.evalCondition(node.Condition, "for condition")
				if err != nil {
					return e.nilValue(), err
				}
				if !ok {
					return e.nilValue(), nil
				}
			}
			if brk, err := e.evalLoopBody(node.Body); err != nil || brk {
				return e.nilValue(), err
			}
			if node.Update != nil {
				if _, err := e.Eval(node.Update); err != nil {
					return e.nilValue(), err
				}
			}
		}
	})
}

func (e *Task) evalForInStatement(node *ast.ForInStatement) (object.ConfidenceValue, error) {
	iterable, err := e.Eval(node.Iterable)
	if err != nil {
		return iterable, err
	}

	var items []object.ConfidenceValue
	switch it := iterable.Payload.(type) {
	case *object.List:
		for _, elem := range it.Elements {
			items = append(items, element(iterable, elem))
		}
	case *object.Map:
		for _, pair := range it.Ordered() {
			items = append(items, iterable.WithPayload(pair.Key))
		}
	case *object.Integer:
		for i := int64(0); i < it.Value; i++ {
			items = append(items, iterable.WithPayload(&object.Integer{Value: i}))
		}
	default:
		return iterable, e.newError(object.TypeMismatchError, "cannot iterate over %s", iterable.Payload.Type())
	}

	for _, item := range items {
		if err := e.checkCancelled(); err != nil {
			return e.nilValue(), err
		}
		env := object.NewEnclosedEnvironment(e.CurrentEnv(), nil)
		env.Define(node.Variable, item, false, false)
		var brk bool
		_, err := e.withEnv(env, func() (object.ConfidenceValue, error) {
			var err error
			brk, err = e.evalLoopBody(node.Body)
			return e.nilValue(), err
		})
		if err != nil || brk {
			return e.nilValue(), err
		}
	}
	return e.nilValue(), nil
}

// evalLoopBody reports whether the loop should stop because of break.
func (e *Task) evalLoopBody(body *ast.BlockStatement) (bool, error) {
	_, err := e.evalBlockStatement(body)
	switch {
	case err == nil, errors.Is(err, errContinue):
		return false, nil
	case errors.Is(err, errBreak):
		return true, nil
	}
	return false, err
}

func (e *Task) evalThrowStatement(node *ast.ThrowStatement) (object.ConfidenceValue, error) {
	val, err := e.Eval(node.Value)
	if err != nil {
		return val, err
	}
	if rtErr, ok := val.Payload.(*object.RuntimeError); ok {
		thrown := *rtErr
		thrown.StackTrace = nil
		return val, e.raise(&thrown)
	}
	return val, e.raise(object.NewUserError(val, ""))
}

// catchable reports whether a try may handle err. Control signals and
// cancellation always pass through.
func catchable(err error) (*object.RuntimeError, bool) {
	if err == nil || isControlSignal(err) {
		return nil, false
	}
	rtErr, ok := object.AsRuntimeError(err)
	if !ok || rtErr.Kind == object.CancelledError {
		return nil, false
	}
	return rtErr, true
}

func (e *Task) evalTryExpression(node *ast.TryExpression) (object.ConfidenceValue, error) {
	result, err := e.evalBlockStatement(node.Body)
	if rtErr, ok := catchable(err); ok {
		result, err = e.evalCatchClauses(node.Catches, rtErr)
	}

	if node.Finally != nil {
		if _, ferr := e.runFinally(node.Finally); ferr != nil {
			if replaced, ok := object.AsRuntimeError(ferr); ok {
				if prev, ok := object.AsRuntimeError(err); ok && replaced != prev && replaced.Cause == nil {
					replaced.Cause = prev
				}
			}
			slog.Debug("finally block replaced outcome",
				slog.Any("error", ferr),
				slog.Any("replaced", err))
			return e.nilValue(), ferr
		}
	}
	return result, err
}

func (e *Task) runFinally(block *ast.BlockStatement) (object.ConfidenceValue, error) {
	e.shielded++
	defer func() { e.shielded-- }()
	return e.evalBlockStatement(block)
}

func (e *Task) evalCatchClauses(clauses []*ast.CatchClause, rtErr *object.RuntimeError) (object.ConfidenceValue, error) {
	for _, clause := range clauses {
		result, handled, err := e.evalCatchClause(clause, rtErr)
		if err != nil || handled {
			return result, err
		}
	}
	return e.nilValue(), rtErr
}

func (e *Task) evalCatchClause(clause *ast.CatchClause, rtErr *object.RuntimeError) (object.ConfidenceValue, bool, error) {
	if clause.Kind != "" && clause.Kind != string(rtErr.Kind) {
		return e.nilValue(), false, nil
	}
	if clause.Code != "" && clause.Code != rtErr.Code {
		return e.nilValue(), false, nil
	}
	if clause.Range != nil && !clause.Range.Contains(rtErr.Confidence()) {
		return e.nilValue(), false, nil
	}

	env := object.NewEnclosedEnvironment(e.CurrentEnv(), nil)
	if clause.Name != "" {
		env.Define(clause.Name, rtErr.Value(), false, false)
	}
	e.PushEnv(env)
	defer e.PopEnv()

	if clause.Guard != nil {
		_, ok, err := e.evalCondition(clause.Guard, "catch guard")
		if err != nil || !ok {
			return e.nilValue(), false, err
		}
	}
	result, err := e.evalStatements(clause.Body.Statements)
	return result, true, err
}

// evalTryConfidenceExpression routes a body result by confidence: at or
// above the threshold it is returned as is, below it goes to the below arm,
// and a runtime error goes to the uncertain arm.
func (e *Task) evalTryConfidenceExpression(node *ast.TryConfidenceExpression) (object.ConfidenceValue, error) {
	threshold := e.ctxStack.CurrentThreshold()
	if node.Threshold != nil {
		tv, err := e.Eval(node.Threshold)
		if err != nil {
			return tv, err
		}
		t, ok := toFloat(tv.Payload)
		if !ok {
			return tv, e.newError(object.TypeMismatchError, "confidence threshold must be a number, got %s", tv.Payload.Type())
		}
		threshold = object.Clamp(t)
	}

	result, err := e.evalBlockStatement(node.Body)
	if err != nil {
		rtErr, ok := catchable(err)
		if !ok {
			return result, err
		}
		if rtErr.Kind == object.ConfidenceThresholdError {
			if node.BelowThreshold == nil {
				return result, rtErr
			}
			return e.evalBoundArm(node.BelowThreshold, node.Binding, rtErr.Value())
		}
		if node.Uncertain == nil {
			return result, rtErr
		}
		return e.evalBoundArm(node.Uncertain, node.Binding, rtErr.Value())
	}

	if result.Confidence >= threshold {
		return result, nil
	}
	if node.BelowThreshold == nil {
		thresholdErr := e.newError(object.ConfidenceThresholdError,
			"confidence %g below threshold %g", result.Confidence, threshold)
		thresholdErr.Payload = result
		return result, thresholdErr
	}
	return e.evalBoundArm(node.BelowThreshold, node.Binding, result)
}

func (e *Task) evalBoundArm(body *ast.BlockStatement, binding string, v object.ConfidenceValue) (object.ConfidenceValue, error) {
	env := object.NewEnclosedEnvironment(e.CurrentEnv(), nil)
	if binding != "" {
		env.Define(binding, v, false, false)
	}
	return e.withEnv(env, func() (object.ConfidenceValue, error) {
		return e.evalStatements(body.Statements)
	})
}

func (e *Task) evalContextExpression(node *ast.ContextExpression) (object.ConfidenceValue, error) {
	desc := contexts.Descriptor{
		Name:      node.Name,
		Threshold: node.Threshold,
		Sources:   node.Sources,
		Loosen:    node.Loosen,
	}
	var result object.ConfidenceValue
	err := e.ctxStack.Within(desc, func() (err error) {
		result, err = e.evalBlockStatement(node.Body)
		return err
	})
	return result, err
}

func (e *Task) evalTransitionExpression(node *ast.TransitionExpression) (object.ConfidenceValue, error) {
	restore, err := e.ctxStack.Transition(node.From, node.To, node.Confidence)
	if err != nil {
		return e.nilValue(), e.raise(err)
	}
	defer restore()
	return e.evalBlockStatement(node.Body)
}

// evalVerifyExpression requires every named source to be a validation
// source of the current context and the body to meet its threshold.
func (e *Task) evalVerifyExpression(node *ast.VerifyExpression) (object.ConfidenceValue, error) {
	current := e.ctxStack.Current()
	for _, source := range node.Sources {
		if current == nil {
			return e.nilValue(), e.newError(object.ConfidenceThresholdError,
				"cannot verify against '%s' outside of a context", source)
		}
		if !current.HasSource(source) {
			return e.nilValue(), e.newError(object.ConfidenceThresholdError,
				"'%s' is not a validation source of context '%s'", source, current.Name)
		}
	}

	result, err := e.evalBlockStatement(node.Body)
	if err != nil {
		return result, err
	}
	if threshold := e.ctxStack.CurrentThreshold(); result.Confidence < threshold {
		verifyErr := e.newError(object.ConfidenceThresholdError,
			"verified value confidence %g below threshold %g", result.Confidence, threshold)
		verifyErr.Payload = result
		return result, verifyErr
	}
	return result, nil
}
