package object

import (
	"log/slog"
	"math"
	"strconv"
)

// ConfidenceValue is the unit of evaluation: a payload, its confidence in
// [0,1], and an optional context name ("" means none). Values are immutable.
type ConfidenceValue struct {
	Payload    Object
	Confidence float64
	Context    string
}

func NewConfidenceValue(payload Object, confidence float64) ConfidenceValue {
	if payload == nil {
		payload = NIL
	}
	return ConfidenceValue{Payload: payload, Confidence: Clamp(confidence)}
}

// Certain wraps a payload with confidence 1.0.
func Certain(payload Object) ConfidenceValue {
	return NewConfidenceValue(payload, 1.0)
}

func (cv ConfidenceValue) WithConfidence(c float64) ConfidenceValue {
	cv.Confidence = Clamp(c)
	return cv
}

func (cv ConfidenceValue) WithContext(name string) ConfidenceValue {
	cv.Context = name
	return cv
}

func (cv ConfidenceValue) WithPayload(payload Object) ConfidenceValue {
	cv.Payload = payload
	return cv
}

func (cv ConfidenceValue) Inspect() string {
	if cv.Payload == nil {
		return "nil"
	}
	s := cv.Payload.Inspect()
	if cv.Confidence < 1.0 {
		s += " ~> " + strconv.FormatFloat(cv.Confidence, 'f', -1, 64)
	}
	if cv.Context != "" {
		s += " @" + cv.Context
	}
	return s
}

// Clamp bounds c to [0,1]. NaN becomes 0.
func Clamp(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// ValidConfidence reports whether c is a usable confidence without clamping.
func ValidConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

func CombineAnd(a, b float64) float64 {
	return Clamp(a * b)
}

func CombineOr(a, b float64) float64 {
	return Clamp(math.Max(a, b))
}

// CombineAll multiplies every confidence; an empty set is certain.
func CombineAll(values ...ConfidenceValue) float64 {
	c := 1.0
	for _, v := range values {
		c *= v.Confidence
	}
	return Clamp(c)
}

// Flow replaces the confidence of v with target.
func Flow(v ConfidenceValue, target float64) ConfidenceValue {
	if !ValidConfidence(target) {
		slog.Warn("confidence out of range, clamping",
			slog.Float64("confidence", target),
			slog.String("value", v.Inspect()))
	}
	return v.WithConfidence(target)
}

// Decay returns v with confidence c*(1-rate)^elapsed.
func Decay(v ConfidenceValue, rate, elapsed float64) ConfidenceValue {
	if elapsed <= 0 {
		return v
	}
	return v.WithConfidence(v.Confidence * math.Pow(1-Clamp(rate), elapsed))
}

// MergeContext prefers the left operand's context.
func MergeContext(left, right string) string {
	if left != "" {
		return left
	}
	return right
}

// Combine builds the result of a binary operation over l and r.
func Combine(payload Object, l, r ConfidenceValue) ConfidenceValue {
	return ConfidenceValue{
		Payload:    payload,
		Confidence: CombineAnd(l.Confidence, r.Confidence),
		Context:    MergeContext(l.Context, r.Context),
	}
}
