package object

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"prism/internal/ast"
	"sort"
	"strconv"
	"strings"
)

const (
	NIL_OBJ     = "NIL"
	BOOLEAN_OBJ = "BOOLEAN"
	INTEGER_OBJ = "INTEGER"
	FLOAT_OBJ   = "FLOAT"
	STRING_OBJ  = "STRING"

	LIST_OBJ          = "LIST"
	MAP_OBJ           = "MAP"
	STRUCT_SCHEMA_OBJ = "STRUCT_SCHEMA"
	STRUCT_OBJ        = "STRUCT"
	TRAIT_OBJ         = "TRAIT"

	MODULE_OBJ      = "MODULE"
	FUNCTION_OBJ    = "FUNCTION"
	NATIVE_OBJ      = "NATIVE"
	ERROR_OBJ       = "ERROR"
	TASK_HANDLE_OBJ = "TASK"
)

var (
	NIL   = &Nil{}
	TRUE  = &Boolean{Value: true}
	FALSE = &Boolean{Value: false}
)

// EvaluatorContext is what native functions see of the interpreter.
// Originate wraps a value the native creates, giving it the confidence of
// the active transition; values passed through keep their own.
type EvaluatorContext interface {
	Context() context.Context
	ApplyFunction(fn ConfidenceValue, args []ConfidenceValue) (ConfidenceValue, error)
	CurrentThreshold() float64
	Originate(payload Object) ConfidenceValue
}

type NativeFunction func(ctx EvaluatorContext, args ...ConfidenceValue) (ConfidenceValue, error)

type ObjectType string

type Object interface {
	Type() ObjectType
	Inspect() string
}

type Hashable interface {
	Object
	MapKey() MapKey
}

type Nil struct{}

func (n *Nil) Type() ObjectType { return NIL_OBJ }
func (n *Nil) Inspect() string  { return "nil" }

type Boolean struct {
	Value bool
}

func (b *Boolean) Type() ObjectType { return BOOLEAN_OBJ }
func (b *Boolean) Inspect() string  { return strconv.FormatBool(b.Value) }
func (b *Boolean) MapKey() MapKey {
	var value uint64
	if b.Value {
		value = 1
	}
	return MapKey{Type: b.Type(), Value: value}
}

func NativeBool(b bool) *Boolean {
	if b {
		return TRUE
	}
	return FALSE
}

type Integer struct {
	Value int64
}

func (i *Integer) Type() ObjectType { return INTEGER_OBJ }
func (i *Integer) Inspect() string  { return strconv.FormatInt(i.Value, 10) }
func (i *Integer) MapKey() MapKey {
	return MapKey{Type: i.Type(), Value: uint64(i.Value)}
}

type Float struct {
	Value float64
}

func (f *Float) Type() ObjectType { return FLOAT_OBJ }
func (f *Float) Inspect() string {
	s := strconv.FormatFloat(f.Value, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}
func (f *Float) MapKey() MapKey {
	return MapKey{Type: f.Type(), Value: math.Float64bits(f.Value)}
}

type String struct {
	Value string
}

func (s *String) Type() ObjectType { return STRING_OBJ }
func (s *String) Inspect() string  { return s.Value }
func (s *String) MapKey() MapKey {
	return MapKey{Type: s.Type(), Text: s.Value}
}

type List struct {
	Elements []ConfidenceValue
}

func (l *List) Type() ObjectType { return LIST_OBJ }
func (l *List) Inspect() string {
	elements := make([]string, 0, len(l.Elements))
	for _, e := range l.Elements {
		elements = append(elements, e.Inspect())
	}
	return "[" + strings.Join(elements, ", ") + "]"
}

// MapKey identifies a map entry. Strings key by their text, so distinct
// strings never share an entry.
type MapKey struct {
	Type  ObjectType
	Value uint64
	Text  string
}

type MapPair struct {
	Key   Object
	Value ConfidenceValue
}

// Map keeps insertion order in Keys for stable rendering and iteration.
type Map struct {
	Pairs map[MapKey]MapPair
	Keys  []MapKey
}

func (m *Map) Type() ObjectType { return MAP_OBJ }
func (m *Map) Inspect() string {
	pairs := make([]string, 0, len(m.Keys))
	for _, k := range m.Keys {
		pair := m.Pairs[k]
		pairs = append(pairs, fmt.Sprintf("%s: %s", pair.Key.Inspect(), pair.Value.Inspect()))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

// Put simplify adding values to a map
func (m *Map) Put(k Hashable, v ConfidenceValue) *Map {
	if m.Pairs == nil {
		m.Pairs = map[MapKey]MapPair{}
	}
	key := k.MapKey()
	if _, exists := m.Pairs[key]; !exists {
		m.Keys = append(m.Keys, key)
	}
	m.Pairs[key] = MapPair{Key: k, Value: v}
	return m
}

func (m *Map) Get(k Hashable) (ConfidenceValue, bool) {
	pair, ok := m.Pairs[k.MapKey()]
	return pair.Value, ok
}

// Ordered returns the pairs in insertion order.
func (m *Map) Ordered() []MapPair {
	out := make([]MapPair, 0, len(m.Keys))
	for _, k := range m.Keys {
		out = append(out, m.Pairs[k])
	}
	return out
}

type StructSchema struct {
	Name    string
	Fields  []ast.StructField
	Weight  *float64
	Env     *Environment
	Methods map[string]*Function
	Traits  []*Trait
}

func (s *StructSchema) Type() ObjectType { return STRUCT_SCHEMA_OBJ }
func (s *StructSchema) Inspect() string {
	var out bytes.Buffer
	out.WriteString(s.Name)
	out.WriteString(" struct {")
	parts := make([]string, 0, len(s.Fields))
	for _, field := range s.Fields {
		if field.Default != nil {
			parts = append(parts, field.Name+" = "+field.Default.String())
		} else {
			parts = append(parts, field.Name)
		}
	}
	out.WriteString(strings.Join(parts, ", "))
	out.WriteString("}")
	return out.String()
}

func (s *StructSchema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Method finds an inherent or trait-provided method, then a trait default.
func (s *StructSchema) Method(name string) (*Function, bool) {
	if fn, ok := s.Methods[name]; ok {
		return fn, true
	}
	for _, t := range s.Traits {
		if fn, ok := t.Defaults[name]; ok {
			return fn, true
		}
	}
	return nil, false
}

func (s *StructSchema) Implements(t *Trait) bool {
	for _, impl := range s.Traits {
		if impl == t {
			return true
		}
	}
	return false
}

// OverallField is the reserved field holding a weighted struct's combined confidence.
const OverallField = "confidence"

type StructInstance struct {
	Schema  *StructSchema
	Fields  map[string]ConfidenceValue
	Overall *float64
}

func (s *StructInstance) Type() ObjectType { return STRUCT_OBJ }
func (s *StructInstance) Inspect() string {
	parts := make([]string, 0, len(s.Fields))
	for _, field := range s.Schema.Fields {
		if val, ok := s.Fields[field.Name]; ok {
			parts = append(parts, field.Name+": "+val.Inspect())
		}
	}
	return s.Schema.Name + " {" + strings.Join(parts, ", ") + "}"
}

// Trait is a capability set: the required method names and default methods
// stored once on the trait.
type Trait struct {
	Name     string
	Required []string
	Defaults map[string]*Function
}

func (t *Trait) Type() ObjectType { return TRAIT_OBJ }
func (t *Trait) Inspect() string {
	defaults := make([]string, 0, len(t.Defaults))
	for name := range t.Defaults {
		defaults = append(defaults, name)
	}
	sort.Strings(defaults)
	return fmt.Sprintf("trait %s {required: [%s], defaults: [%s]}",
		t.Name, strings.Join(t.Required, ", "), strings.Join(defaults, ", "))
}

type Function struct {
	Name       string
	Parameters []string
	Body       *ast.BlockStatement
	Env        *Environment
	IsAsync    bool
	Confidence *float64
}

func (f *Function) Type() ObjectType { return FUNCTION_OBJ }
func (f *Function) Inspect() string {
	name := f.Name
	if name == "" {
		name = "<anonymous>"
	}
	prefix := "fn "
	if f.IsAsync {
		prefix = "async fn "
	}
	return prefix + name + "(" + strings.Join(f.Parameters, ", ") + ")"
}

// Bind returns a copy of f whose closure has self defined.
func (f *Function) Bind(self ConfidenceValue) *Function {
	env := NewEnclosedEnvironment(f.Env, nil)
	env.Define("self", self, false, false)
	bound := *f
	bound.Env = env
	return &bound
}

// Native is a host function. Arity < 0 accepts any number of arguments.
// Async natives run on the worker pool and evaluate to a task handle.
type Native struct {
	Name  string
	Arity int
	Async bool
	Fn    NativeFunction
}

func (n *Native) Type() ObjectType { return NATIVE_OBJ }
func (n *Native) Inspect() string {
	if n.Async {
		return "async native " + n.Name
	}
	return "native " + n.Name
}

// Module is the handle bound by a namespace import. Exports already carry the
// module and import multipliers.
type Module struct {
	Name    string
	Exports map[string]ConfidenceValue
}

func (m *Module) Type() ObjectType { return MODULE_OBJ }
func (m *Module) Inspect() string {
	names := make([]string, 0, len(m.Exports))
	for name := range m.Exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return "<module " + m.Name + " {" + strings.Join(names, ", ") + "}>"
}

type StackFrame struct {
	Function string
}

// Equal compares payloads structurally, ignoring confidence and context.
func Equal(a, b Object) bool {
	switch av := a.(type) {
	case *Integer:
		switch bv := b.(type) {
		case *Integer:
			return av.Value == bv.Value
		case *Float:
			return float64(av.Value) == bv.Value
		}
		return false
	case *Float:
		switch bv := b.(type) {
		case *Float:
			return av.Value == bv.Value
		case *Integer:
			return av.Value == float64(bv.Value)
		}
		return false
	}

	if a.Type() != b.Type() {
		return false
	}

	switch av := a.(type) {
	case *Nil:
		return true
	case *Boolean:
		return av.Value == b.(*Boolean).Value
	case *String:
		return av.Value == b.(*String).Value
	case *List:
		bl := b.(*List)
		if len(av.Elements) != len(bl.Elements) {
			return false
		}
		for i, elem := range av.Elements {
			if !Equal(elem.Payload, bl.Elements[i].Payload) {
				return false
			}
		}
		return true
	case *Map:
		bm := b.(*Map)
		if len(av.Pairs) != len(bm.Pairs) {
			return false
		}
		for k, v := range av.Pairs {
			bp, ok := bm.Pairs[k]
			if !ok || !Equal(v.Value.Payload, bp.Value.Payload) {
				return false
			}
		}
		return true
	case *StructInstance:
		other := b.(*StructInstance)
		if av.Schema != other.Schema {
			return false
		}
		for _, field := range av.Schema.Fields {
			left, lok := av.Fields[field.Name]
			right, rok := other.Fields[field.Name]
			if lok != rok || (lok && !Equal(left.Payload, right.Payload)) {
				return false
			}
		}
		return true
	}

	// functions, natives, modules, tasks and errors compare by identity
	return a == b
}
