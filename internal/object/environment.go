package object

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

var nextID atomic.Uint64

// Environment is one lexical scope. Closures hold a reference to the chain
// active at their creation; tasks may share it, so bindings are guarded.
type Environment struct {
	ID        uint64
	Bindings  map[string]*Binding
	Outer     *Environment
	ModuleFqn string
	StackInfo *StackFrame // set on function call scopes

	mu sync.RWMutex
}

type Binding struct {
	Value ConfidenceValue
	Meta  Meta
}

type Meta struct {
	IsImport bool
	IsExport bool
}

func nextEnvID() uint64 {
	return nextID.Add(1)
}

// NewEnclosedEnvironment initializes an environment with a parent and optional stack frame.
func NewEnclosedEnvironment(outer *Environment, stackFrame *StackFrame) *Environment {
	env := NewEnvironment()
	env.Outer = outer
	if outer != nil {
		env.ModuleFqn = outer.ModuleFqn
	}
	env.StackInfo = stackFrame
	return env
}

func NewEnvironment() *Environment {
	return &Environment{
		ID:       nextEnvID(),
		Bindings: make(map[string]*Binding),
	}
}

// GetLocalBinding returns a binding from this environment only (it does not walk outers).
func (e *Environment) GetLocalBinding(name string) (*Binding, bool) {
	e.mu.RLock()
	binding, ok := e.Bindings[name]
	e.mu.RUnlock()
	return binding, ok
}

func (e *Environment) Get(name string) (ConfidenceValue, bool) {
	for env := e; env != nil; env = env.Outer {
		env.mu.RLock()
		binding, ok := env.Bindings[name]
		var val ConfidenceValue
		if ok {
			val = binding.Value
		}
		env.mu.RUnlock()
		if ok {
			return val, true
		}
	}
	return ConfidenceValue{}, false
}

// Lookup is Get with the missing case reported as an UndefinedBindingError.
func (e *Environment) Lookup(name string) (ConfidenceValue, error) {
	if v, ok := e.Get(name); ok {
		return v, nil
	}
	return ConfidenceValue{}, NewError(UndefinedBindingError, "undefined binding '%s'", name)
}

// Define binds name in this scope. Re-declaring a name shadows it.
func (e *Environment) Define(name string, val ConfidenceValue, isExported bool, isImport bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, exists := e.Bindings[name]; exists && existing.Meta.IsImport && !isImport {
		slog.Warn("imported name shadowed by local definition",
			slog.String("name", name),
			slog.String("module", e.ModuleFqn),
		)
	}

	e.Bindings[name] = &Binding{
		Value: val,
		Meta:  Meta{IsImport: isImport, IsExport: isExported},
	}

	slog.Debug("binding value",
		slog.String("name", name),
		slog.Any("type", val.Payload.Type()),
		slog.Float64("confidence", val.Confidence))
}

// Assign replaces the value of the nearest binding of name.
func (e *Environment) Assign(name string, val ConfidenceValue) error {
	e.mu.Lock()
	binding, exists := e.Bindings[name]
	if exists {
		binding.Value = val
		binding.Meta.IsImport = false
		e.mu.Unlock()
		slog.Debug("assigning bound value",
			slog.String("name", name),
			slog.Float64("confidence", val.Confidence))
		return nil
	}
	e.mu.Unlock()

	if e.Outer != nil {
		return e.Outer.Assign(name, val)
	}
	return NewError(UndefinedBindingError, "failed to assign to '%s': not defined in any accessible scope", name)
}

// Exports returns the exported bindings of this scope.
func (e *Environment) Exports() map[string]ConfidenceValue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]ConfidenceValue)
	for name, b := range e.Bindings {
		if b.Meta.IsExport {
			out[name] = b.Value
		}
	}
	return out
}

// Names lists the names bound in this scope, sorted.
func (e *Environment) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.Bindings))
	for name := range e.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
