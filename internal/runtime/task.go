package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"prism/internal/ast"
	"prism/internal/contexts"
	"prism/internal/object"
	"prism/internal/util/future"
	"sync"

	"github.com/google/uuid"
)

type TaskState int

const (
	Pending TaskState = iota
	Running
	Suspended
	Completed
	Failed
)

func (s TaskState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// Task is one unit of cooperative execution. It owns its environment stack
// and context stack; nothing else touches them while the task holds the
// run token.
type Task struct {
	ID      uuid.UUID
	Name    string
	Runtime *Runtime

	mu       sync.Mutex
	state    TaskState
	result   *future.Future[object.ConfidenceValue]
	complete func(object.ConfidenceValue, error)

	base   context.Context // evaluation context spawned tasks derive from
	ctx    context.Context
	cancel context.CancelCauseFunc

	shielded int // >0 while a finally block runs

	envStack []*object.Environment
	ctxStack *contexts.Stack

	savedEnv      *object.Environment
	savedContexts []*contexts.Context
}

func (e *Task) Type() object.ObjectType { return object.TASK_HANDLE_OBJ }
func (e *Task) Inspect() string {
	return fmt.Sprintf("<task %s %s>", e.ID, e.State())
}

func (e *Task) State() TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Task) setState(s TaskState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Done is closed once the task has a result.
func (e *Task) Done() <-chan struct{} { return e.result.Done() }

// Result blocks until the task finishes.
func (e *Task) Result() (object.ConfidenceValue, error) { return e.result.Await() }

// Cancel requests cancellation. It reports false if the task already finished.
func (e *Task) Cancel(reason string) bool {
	if e.result.IsDone() {
		return false
	}
	slog.Debug("cancel task",
		slog.String("task", e.ID.String()),
		slog.String("reason", reason))
	e.cancel(object.NewError(object.CancelledError, "task %s cancelled: %s", e.ID, reason))
	return true
}

func (e *Task) finish(v object.ConfidenceValue, err error) {
	var ret *returnSignal
	if errors.As(err, &ret) {
		v, err = ret.value, nil
	}
	if err != nil {
		e.setState(Failed)
		slog.Debug("task failed",
			slog.String("task", e.ID.String()),
			slog.Any("error", err))
	} else {
		e.setState(Completed)
	}
	e.complete(v, err)
	e.cancel(nil)
}

// Context, ApplyFunction, CurrentThreshold and Originate make a Task an
// object.EvaluatorContext for synchronous natives.
func (e *Task) Context() context.Context { return e.ctx }

func (e *Task) ApplyFunction(fn object.ConfidenceValue, args []object.ConfidenceValue) (object.ConfidenceValue, error) {
	return e.applyFunction(fn, args)
}

func (e *Task) CurrentThreshold() float64 { return e.ctxStack.CurrentThreshold() }

func (e *Task) Originate(payload object.Object) object.ConfidenceValue { return e.originate(payload) }

func (e *Task) PushEnv(env *object.Environment) {
	e.envStack = append(e.envStack, env)
	slog.Debug("push stack frame",
		slog.Int("stack-size", len(e.envStack)))
}

func (e *Task) CurrentEnv() *object.Environment {
	if len(e.envStack) == 0 {
		panic("Environment stack is empty in the current frame")
	}
	return e.envStack[len(e.envStack)-1]
}

func (e *Task) PopEnv() {
	if len(e.envStack) == 0 {
		panic("Attempted to pop from an empty environment stack")
	}
	e.envStack = e.envStack[:len(e.envStack)-1]
	slog.Debug("pop stack frame",
		slog.Int("stack-size", len(e.envStack)))
}

func (e *Task) withEnv(env *object.Environment, fn func() (object.ConfidenceValue, error)) (object.ConfidenceValue, error) {
	e.PushEnv(env)
	defer e.PopEnv()
	return fn()
}

// originate gives a value created here the active transition multiplier.
func (e *Task) originate(payload object.Object) object.ConfidenceValue {
	return object.NewConfidenceValue(payload, e.ctxStack.Multiplier())
}

func (e *Task) nilValue() object.ConfidenceValue { return object.Certain(object.NIL) }

func (e *Task) newError(kind object.ErrorKind, format string, a ...any) *object.RuntimeError {
	return object.NewError(kind, format, a...).WithStack(e.gatherStackTrace())
}

// raise attaches the current stack to a language error passing through.
func (e *Task) raise(err error) error {
	if rtErr, ok := object.AsRuntimeError(err); ok {
		rtErr.WithStack(e.gatherStackTrace())
		return rtErr
	}
	return err
}

func (e *Task) gatherStackTrace() []*object.StackFrame {
	var frames []*object.StackFrame
	for i := len(e.envStack) - 1; i >= 0; i-- {
		if e.envStack[i].StackInfo != nil {
			frames = append(frames, e.envStack[i].StackInfo)
		}
	}
	return frames
}

func (e *Task) checkCancelled() error {
	if e.shielded > 0 || e.ctx.Err() == nil {
		return nil
	}
	return e.cancelledError()
}

func (e *Task) cancelledError() *object.RuntimeError {
	cause := context.Cause(e.ctx)
	if rtErr, ok := object.AsRuntimeError(cause); ok && rtErr.Kind == object.CancelledError {
		return e.newError(object.CancelledError, "%s", rtErr.Message)
	}
	return e.newError(object.CancelledError, "task %s cancelled: %v", e.ID, cause)
}

// waitContext is what blocking operations observe; finally blocks ignore
// cancellation.
func (e *Task) waitContext() context.Context {
	if e.shielded > 0 {
		return context.WithoutCancel(e.ctx)
	}
	return e.ctx
}

func (e *Task) Eval(node ast.Node) (object.ConfidenceValue, error) {
	switch node := node.(type) {

	// Statements
	case *ast.Program:
		return e.evalProgram(node)

	case *ast.BlockStatement:
		return e.evalBlockStatement(node)

	case *ast.ExpressionStatement:
		return e.Eval(node.Expression)

	case *ast.LetStatement:
		val, err := e.Eval(node.Value)
		if err != nil {
			return val, err
		}
		e.CurrentEnv().Define(node.Name, val, node.Exported, false)
		return val, nil

	case *ast.ReturnStatement:
		val := e.nilValue()
		if node.Value != nil {
			var err error
			if val, err = e.Eval(node.Value); err != nil {
				return val, err
			}
		}
		return val, &returnSignal{value: val}

	case *ast.BreakStatement:
		return e.nilValue(), errBreak

	case *ast.ContinueStatement:
		return e.nilValue(), errContinue

	case *ast.ThrowStatement:
		return e.evalThrowStatement(node)

	case *ast.WhileStatement:
		return e.evalWhileStatement(node)

	case *ast.ForStatement:
		return e.evalForStatement(node)

	case *ast.ForInStatement:
		return e.evalForInStatement(node)

	case *ast.FunctionDeclaration:
		fn := e.newFunction(node.Name, node.Parameters, node.Body, node.IsAsync, node.Confidence)
		val := object.Certain(fn)
		e.CurrentEnv().Define(node.Name, val, node.Exported, false)
		return val, nil

	case *ast.StructDeclaration:
		return e.evalStructDeclaration(node)

	case *ast.TraitDeclaration:
		return e.evalTraitDeclaration(node)

	case *ast.ImplDeclaration:
		return e.evalImplDeclaration(node)

	case *ast.ImportStatement:
		return e.evalImportStatement(node)

	// Expressions
	case *ast.NilLiteral:
		return e.originate(object.NIL), nil

	case *ast.BooleanLiteral:
		return e.originate(object.NativeBool(node.Value)), nil

	case *ast.IntegerLiteral:
		return e.originate(&object.Integer{Value: node.Value}), nil

	case *ast.FloatLiteral:
		return e.originate(&object.Float{Value: node.Value}), nil

	case *ast.StringLiteral:
		return e.originate(&object.String{Value: node.Value}), nil

	case *ast.ListLiteral:
		elements, err := e.evalExpressions(node.Elements)
		if err != nil {
			return e.nilValue(), err
		}
		return e.originate(&object.List{Elements: elements}), nil

	case *ast.MapLiteral:
		return e.evalMapLiteral(node)

	case *ast.StructLiteral:
		return e.evalStructLiteral(node)

	case *ast.Identifier:
		val, err := e.CurrentEnv().Lookup(node.Value)
		if err != nil {
			return val, e.raise(err)
		}
		return val, nil

	case *ast.PrefixExpression:
		right, err := e.Eval(node.Right)
		if err != nil {
			return right, err
		}
		return e.evalPrefixExpression(node.Operator, right)

	case *ast.InfixExpression:
		if node.Operator == "&&" || node.Operator == "||" {
			return e.evalShortCircuitInfixExpression(node)
		}
		left, err := e.Eval(node.Left)
		if err != nil {
			return left, err
		}
		right, err := e.Eval(node.Right)
		if err != nil {
			return right, err
		}
		return e.evalInfixExpression(node.Operator, left, right)

	case *ast.AssignExpression:
		val, err := e.Eval(node.Value)
		if err != nil {
			return val, err
		}
		if err := e.CurrentEnv().Assign(node.Name, val); err != nil {
			return val, e.raise(err)
		}
		return val, nil

	case *ast.FlowExpression:
		return e.evalFlowExpression(node)

	case *ast.InContextExpression:
		val, err := e.Eval(node.Value)
		if err != nil {
			return val, err
		}
		return val.WithContext(node.Context), nil

	case *ast.CallExpression:
		callee, err := e.Eval(node.Function)
		if err != nil {
			return callee, err
		}
		args, err := e.evalExpressions(node.Arguments)
		if err != nil {
			return e.nilValue(), err
		}
		return e.applyFunction(callee, args)

	case *ast.IndexExpression:
		left, err := e.Eval(node.Left)
		if err != nil {
			return left, err
		}
		index, err := e.Eval(node.Index)
		if err != nil {
			return index, err
		}
		return e.evalIndexExpression(left, index)

	case *ast.FieldAccess:
		obj, err := e.Eval(node.Object)
		if err != nil {
			return obj, err
		}
		return e.evalFieldAccess(obj, node.Field)

	case *ast.FunctionLiteral:
		fn := e.newFunction("", node.Parameters, node.Body, node.IsAsync, node.Confidence)
		return object.Certain(fn), nil

	case *ast.IfExpression:
		return e.evalIfExpression(node)

	case *ast.UncertainIfExpression:
		return e.evalUncertainIfExpression(node)

	case *ast.MatchExpression:
		return e.evalMatchExpression(node)

	case *ast.TryExpression:
		return e.evalTryExpression(node)

	case *ast.TryConfidenceExpression:
		return e.evalTryConfidenceExpression(node)

	case *ast.ContextExpression:
		return e.evalContextExpression(node)

	case *ast.TransitionExpression:
		return e.evalTransitionExpression(node)

	case *ast.VerifyExpression:
		return e.evalVerifyExpression(node)

	case *ast.AsyncExpression:
		return e.evalAsyncExpression(node)

	case *ast.AwaitExpression:
		return e.evalAwaitExpression(node)
	}

	return e.nilValue(), e.newError(object.TypeMismatchError, "cannot evaluate node %T", node)
}

func (e *Task) evalProgram(program *ast.Program) (object.ConfidenceValue, error) {
	result := e.nilValue()
	for _, statement := range program.Statements {
		if err := e.checkCancelled(); err != nil {
			return result, err
		}
		val, err := e.Eval(statement)
		if err != nil {
			var ret *returnSignal
			if errors.As(err, &ret) {
				return ret.value, nil
			}
			return val, e.loopSignalError(err)
		}
		result = val
	}
	return result, nil
}

func (e *Task) evalBlockStatement(block *ast.BlockStatement) (object.ConfidenceValue, error) {
	return e.withEnv(object.NewEnclosedEnvironment(e.CurrentEnv(), nil), func() (object.ConfidenceValue, error) {
		return e.evalStatements(block.Statements)
	})
}

func (e *Task) evalStatements(statements []ast.Statement) (object.ConfidenceValue, error) {
	result := e.nilValue()
	for _, statement := range statements {
		if err := e.checkCancelled(); err != nil {
			return result, err
		}
		val, err := e.Eval(statement)
		if err != nil {
			return val, err
		}
		result = val
	}
	return result, nil
}

func (e *Task) evalExpressions(exps []ast.Expression) ([]object.ConfidenceValue, error) {
	result := make([]object.ConfidenceValue, 0, len(exps))
	for _, exp := range exps {
		val, err := e.Eval(exp)
		if err != nil {
			return nil, err
		}
		result = append(result, val)
	}
	return result, nil
}

func (e *Task) evalMapLiteral(node *ast.MapLiteral) (object.ConfidenceValue, error) {
	m := &object.Map{}
	for _, entry := range node.Entries {
		key, err := e.Eval(entry.Key)
		if err != nil {
			return key, err
		}
		hashKey, ok := key.Payload.(object.Hashable)
		if !ok {
			return key, e.newError(object.TypeMismatchError, "unusable as map key: %s", key.Payload.Type())
		}
		val, err := e.Eval(entry.Value)
		if err != nil {
			return val, err
		}
		m.Put(hashKey, val)
	}
	return e.originate(m), nil
}

func (e *Task) evalFlowExpression(node *ast.FlowExpression) (object.ConfidenceValue, error) {
	val, err := e.Eval(node.Value)
	if err != nil {
		return val, err
	}
	target, err := e.Eval(node.Confidence)
	if err != nil {
		return target, err
	}
	c, ok := toFloat(target.Payload)
	if !ok {
		return val, e.newError(object.TypeMismatchError, "confidence must be a number, got %s", target.Payload.Type())
	}
	return object.Flow(val, c), nil
}

func (e *Task) newFunction(name string, params []string, body *ast.BlockStatement, isAsync bool, confidence *float64) *object.Function {
	return &object.Function{
		Name:       name,
		Parameters: params,
		Body:       body,
		Env:        e.CurrentEnv(),
		IsAsync:    isAsync,
		Confidence: confidence,
	}
}

func (e *Task) applyFunction(callee object.ConfidenceValue, args []object.ConfidenceValue) (object.ConfidenceValue, error) {
	switch fn := callee.Payload.(type) {
	case *object.Function:
		if fn.IsAsync {
			child := e.Runtime.Scheduler.Spawn(e, functionName(fn), fn.Env, func(t *Task) (object.ConfidenceValue, error) {
				return t.callFunction(fn, args)
			})
			return object.Certain(child), nil
		}
		return e.callFunction(fn, args)

	case *object.Native:
		if fn.Arity >= 0 && len(args) != fn.Arity {
			return e.nilValue(), e.newError(object.TypeMismatchError,
				"%s expects %d arguments, got %d", fn.Name, fn.Arity, len(args))
		}
		if fn.Async {
			return object.Certain(e.Runtime.Scheduler.RunNative(e, fn, args)), nil
		}
		res, err := fn.Fn(e, args...)
		if err != nil {
			return e.nilValue(), e.nativeError(fn.Name, err)
		}
		return res, nil
	}
	return e.nilValue(), e.newError(object.TypeMismatchError, "not a function: %s", callee.Payload.Type())
}

func (e *Task) callFunction(fn *object.Function, args []object.ConfidenceValue) (object.ConfidenceValue, error) {
	name := functionName(fn)
	if len(args) != len(fn.Parameters) {
		return e.nilValue(), e.newError(object.TypeMismatchError,
			"function %s expects %d arguments, got %d", name, len(fn.Parameters), len(args))
	}

	env := object.NewEnclosedEnvironment(fn.Env, &object.StackFrame{Function: name})
	for i, param := range fn.Parameters {
		env.Define(param, args[i], false, false)
	}

	result, err := e.withEnv(env, func() (object.ConfidenceValue, error) {
		return e.evalStatements(fn.Body.Statements)
	})
	if err != nil {
		var ret *returnSignal
		if !errors.As(err, &ret) {
			return result, e.loopSignalError(err)
		}
		result = ret.value
	}
	if fn.Confidence != nil {
		result = result.WithConfidence(object.CombineAnd(result.Confidence, object.Clamp(*fn.Confidence)))
	}
	return result, nil
}

// nativeError turns a host error into a language error. Runtime errors raised
// by the native pass through unchanged.
func (e *Task) nativeError(name string, err error) error {
	if rtErr, ok := object.AsRuntimeError(err); ok {
		return e.raise(rtErr)
	}
	if e.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return e.cancelledError()
	}
	msg := fmt.Sprintf("%s: %v", name, err)
	return e.raise(object.NewUserError(object.Certain(&object.String{Value: msg}), "NativeError"))
}

func functionName(fn *object.Function) string {
	if fn.Name == "" {
		return "<anonymous>"
	}
	return fn.Name
}

type returnSignal struct{ value object.ConfidenceValue }

func (r *returnSignal) Error() string { return "return outside of a function" }

type loopSignal struct{ keyword string }

func (l *loopSignal) Error() string { return l.keyword + " outside of a loop" }

var (
	errBreak    = &loopSignal{keyword: "break"}
	errContinue = &loopSignal{keyword: "continue"}
)

func isControlSignal(err error) bool {
	var ret *returnSignal
	var loop *loopSignal
	return errors.As(err, &ret) || errors.As(err, &loop)
}

// loopSignalError reports break or continue that escaped every loop.
func (e *Task) loopSignalError(err error) error {
	var loop *loopSignal
	if errors.As(err, &loop) {
		return e.newError(object.TypeMismatchError, "%s", loop.Error())
	}
	return err
}
