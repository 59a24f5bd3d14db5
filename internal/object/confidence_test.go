package object

import (
	"math"
	"testing"
)

var samples = []float64{0, 0.1, 0.25, 0.5, 0.72, 0.8, 0.9, 0.999, 1}

const eps = 1e-12

func TestCombineAndCommutativeWithIdentity(t *testing.T) {
	for _, a := range samples {
		for _, b := range samples {
			if CombineAnd(a, b) != CombineAnd(b, a) {
				t.Fatalf("CombineAnd(%v,%v) != CombineAnd(%v,%v)", a, b, b, a)
			}
		}
		if CombineAnd(a, 1.0) != a {
			t.Fatalf("CombineAnd(%v, 1) = %v", a, CombineAnd(a, 1.0))
		}
	}
}

func TestCombineOrIsMaxAndIdempotent(t *testing.T) {
	for _, a := range samples {
		for _, b := range samples {
			if CombineOr(a, b) != math.Max(a, b) {
				t.Fatalf("CombineOr(%v,%v) = %v", a, b, CombineOr(a, b))
			}
		}
		if CombineOr(a, a) != a {
			t.Fatalf("CombineOr(%v,%v) is not idempotent", a, a)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := map[string]struct {
		in, want float64
	}{
		"below zero": {-0.5, 0},
		"above one":  {1.7, 1},
		"nan":        {math.NaN(), 0},
		"inside":     {0.3, 0.3},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := Clamp(tt.in); got != tt.want {
				t.Fatalf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if got := NewConfidenceValue(NIL, tt.in).Confidence; got != tt.want {
				t.Fatalf("NewConfidenceValue clamps to %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlowOverrides(t *testing.T) {
	v := NewConfidenceValue(&Float{Value: 1}, 0.3).WithContext("lab")
	got := Flow(v, 0.9)
	if got.Confidence != 0.9 || got.Context != "lab" {
		t.Fatalf("Flow = %+v", got)
	}
	if v.Confidence != 0.3 {
		t.Fatalf("Flow mutated its input")
	}
	if Flow(v, 2).Confidence != 1 {
		t.Fatalf("Flow did not clamp an out of range target")
	}
}

func TestDecay(t *testing.T) {
	v := NewConfidenceValue(&Integer{Value: 1}, 0.8)
	tests := []struct {
		rate, elapsed, want float64
	}{
		{0.5, 1, 0.4},
		{0.5, 2, 0.2},
		{0.1, 0, 0.8},
		{0, 10, 0.8},
		{1, 3, 0},
	}
	for _, tt := range tests {
		got := Decay(v, tt.rate, tt.elapsed).Confidence
		if math.Abs(got-tt.want) > eps {
			t.Fatalf("Decay(0.8, %v, %v) = %v, want %v", tt.rate, tt.elapsed, got, tt.want)
		}
	}
}

func TestCombineAllIsOrderIndependent(t *testing.T) {
	a := NewConfidenceValue(NIL, 0.9)
	b := NewConfidenceValue(NIL, 0.8)
	c := NewConfidenceValue(NIL, 0.5)
	x := CombineAll(a, b, c)
	y := CombineAll(c, a, b)
	if math.Abs(x-y) > eps || math.Abs(x-0.36) > eps {
		t.Fatalf("CombineAll = %v / %v, want 0.36", x, y)
	}
	if CombineAll() != 1 {
		t.Fatalf("empty CombineAll should be certain")
	}
}

func TestCombineMergesContext(t *testing.T) {
	l := NewConfidenceValue(&Float{Value: 1}, 0.9)
	r := NewConfidenceValue(&Float{Value: 2}, 0.8).WithContext("lab")
	got := Combine(&Float{Value: 3}, l, r)
	if math.Abs(got.Confidence-0.72) > eps || got.Context != "lab" {
		t.Fatalf("Combine = %+v", got)
	}
	got = Combine(&Float{Value: 3}, l.WithContext("field"), r)
	if got.Context != "field" {
		t.Fatalf("left context should win, got %q", got.Context)
	}
}
