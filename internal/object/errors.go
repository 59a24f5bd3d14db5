package object

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	UndefinedBindingError    ErrorKind = "UndefinedBindingError"
	TypeMismatchError        ErrorKind = "TypeMismatchError"
	NonExhaustiveMatchError  ErrorKind = "NonExhaustiveMatchError"
	MissingFallbackArm       ErrorKind = "MissingFallbackArm"
	CircularDependencyError  ErrorKind = "CircularDependencyError"
	ModuleResolutionError    ErrorKind = "ModuleResolutionError"
	ConfidenceThresholdError ErrorKind = "ConfidenceThresholdError"
	CancelledError           ErrorKind = "CancelledError"
	UserError                ErrorKind = "UserError"
	ArithmeticError          ErrorKind = "ArithmeticError"
	IndexError               ErrorKind = "IndexError"
	TimeoutError             ErrorKind = "TimeoutError"
	ContextError             ErrorKind = "ContextError"
)

// RuntimeError is a raised language error. Payload is the ConfidenceValue the
// error carries: the thrown value for UserError, the message otherwise.
type RuntimeError struct {
	Kind       ErrorKind
	Code       string
	Message    string
	Payload    ConfidenceValue
	Cause      *RuntimeError
	StackTrace []*StackFrame
}

// NewError builds an error whose payload is the message with confidence 1.0.
func NewError(kind ErrorKind, format string, a ...any) *RuntimeError {
	msg := fmt.Sprintf(format, a...)
	return &RuntimeError{
		Kind:    kind,
		Code:    string(kind),
		Message: msg,
		Payload: Certain(&String{Value: msg}),
	}
}

// NewUserError wraps a thrown value; the error inherits its confidence and context.
func NewUserError(payload ConfidenceValue, code string) *RuntimeError {
	if code == "" {
		code = string(UserError)
	}
	return &RuntimeError{
		Kind:    UserError,
		Code:    code,
		Message: payload.Payload.Inspect(),
		Payload: payload,
	}
}

func (re *RuntimeError) Error() string {
	if re.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by %s)", re.Kind, re.Message, re.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", re.Kind, re.Message)
}

func (re *RuntimeError) Unwrap() error {
	if re.Cause == nil {
		return nil
	}
	return re.Cause
}

func (re *RuntimeError) Type() ObjectType { return ERROR_OBJ }
func (re *RuntimeError) Inspect() string {
	return RenderStacktrace(re)
}

// Confidence is the error's own confidence. UndefinedBindingError is a
// programmer error and is never confidence-weighted.
func (re *RuntimeError) Confidence() float64 {
	if re.Kind == UndefinedBindingError {
		return 1.0
	}
	return re.Payload.Confidence
}

// Value is the error as a bindable ConfidenceValue.
func (re *RuntimeError) Value() ConfidenceValue {
	return ConfidenceValue{Payload: re, Confidence: re.Confidence(), Context: re.Payload.Context}
}

// WithStack records the frames once; later calls keep the innermost trace.
func (re *RuntimeError) WithStack(frames []*StackFrame) *RuntimeError {
	if re.StackTrace == nil {
		re.StackTrace = frames
	}
	return re
}

// AsRuntimeError unwraps err to a RuntimeError.
func AsRuntimeError(err error) (*RuntimeError, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func IsKind(err error, kind ErrorKind) bool {
	re, ok := AsRuntimeError(err)
	return ok && re.Kind == kind
}
