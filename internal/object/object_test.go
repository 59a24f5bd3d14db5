package object

import (
	"strconv"
	"testing"
)

func TestStringMapKey(t *testing.T) {
	hello1 := &String{Value: "Hello World"}
	hello2 := &String{Value: "Hello World"}
	diff1 := &String{Value: "My name is johnny"}

	if hello1.MapKey() != hello2.MapKey() {
		t.Errorf("strings with same content have different map keys")
	}
	if hello1.MapKey() == diff1.MapKey() {
		t.Errorf("strings with different content have same map keys")
	}
}

func TestStringKeysNeverShareAnEntry(t *testing.T) {
	const n = 50000
	m := &Map{}
	for i := 0; i < n; i++ {
		m.Put(&String{Value: "key-" + strconv.Itoa(i)}, Certain(&Integer{Value: int64(i)}))
	}
	if len(m.Keys) != n || len(m.Pairs) != n {
		t.Fatalf("map holds %d keys and %d pairs, want %d", len(m.Keys), len(m.Pairs), n)
	}
	v, ok := m.Get(&String{Value: "key-4242"})
	if !ok || v.Payload.(*Integer).Value != 4242 {
		t.Fatalf("Get(key-4242) = %s, %v", v.Inspect(), ok)
	}
	if key := (&String{Value: "x"}).MapKey(); key.Text != "x" {
		t.Errorf("string map key %+v does not carry its text", key)
	}
}

func TestBooleanMapKey(t *testing.T) {
	if (&Boolean{Value: true}).MapKey() != TRUE.MapKey() {
		t.Errorf("trues do not have same map key")
	}
	if TRUE.MapKey() == FALSE.MapKey() {
		t.Errorf("true has same map key as false")
	}
}

func TestNumberMapKeysDoNotCollideAcrossTypes(t *testing.T) {
	if (&Integer{Value: 1}).MapKey() == (&Float{Value: 1}).MapKey() {
		t.Errorf("integer and float share a map key")
	}
	if (&Integer{Value: 2}).MapKey() != (&Integer{Value: 2}).MapKey() {
		t.Errorf("integers with same content have different map keys")
	}
}

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := &Map{}
	m.Put(&String{Value: "b"}, Certain(&Integer{Value: 2}))
	m.Put(&String{Value: "a"}, NewConfidenceValue(&Integer{Value: 1}, 0.5))
	m.Put(&String{Value: "b"}, Certain(&Integer{Value: 3}))

	if got, want := m.Inspect(), "{b: 3, a: 1 ~> 0.5}"; got != want {
		t.Fatalf("Inspect() = %q, want %q", got, want)
	}
	v, ok := m.Get(&String{Value: "a"})
	if !ok || v.Confidence != 0.5 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}
}

func TestEqual(t *testing.T) {
	schema := &StructSchema{Name: "P"}
	tests := []struct {
		name string
		a, b Object
		want bool
	}{
		{"int float", &Integer{Value: 3}, &Float{Value: 3}, true},
		{"strings", &String{Value: "x"}, &String{Value: "x"}, true},
		{"different kinds", &String{Value: "1"}, &Integer{Value: 1}, false},
		{"nil", NIL, &Nil{}, true},
		{
			"lists ignore confidence",
			&List{Elements: []ConfidenceValue{NewConfidenceValue(&Integer{Value: 1}, 0.2)}},
			&List{Elements: []ConfidenceValue{Certain(&Integer{Value: 1})}},
			true,
		},
		{
			"structs",
			&StructInstance{Schema: schema, Fields: map[string]ConfidenceValue{}},
			&StructInstance{Schema: schema, Fields: map[string]ConfidenceValue{}},
			true,
		},
		{"functions by identity", &Function{Name: "f"}, &Function{Name: "f"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Fatalf("Equal(%s, %s) = %v, want %v", tt.a.Inspect(), tt.b.Inspect(), got, tt.want)
			}
		})
	}
}
