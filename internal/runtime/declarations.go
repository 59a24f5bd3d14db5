package runtime

import (
	"context"
	"log/slog"
	"prism/internal/ast"
	"prism/internal/modules"
	"prism/internal/object"
	"slices"
)

func (e *Task) evalStructDeclaration(node *ast.StructDeclaration) (object.ConfidenceValue, error) {
	schema := &object.StructSchema{
		Name:    node.Name,
		Fields:  node.Fields,
		Env:     e.CurrentEnv(),
		Methods: make(map[string]*object.Function),
	}
	if node.Weight != nil {
		w := *node.Weight
		if !object.ValidConfidence(w) {
			slog.Warn("struct weight out of range, clamping",
				slog.String("struct", node.Name),
				slog.Float64("weight", w))
			w = object.Clamp(w)
		}
		schema.Weight = &w
	}
	val := object.Certain(schema)
	e.CurrentEnv().Define(node.Name, val, node.Exported, false)
	return val, nil
}

func (e *Task) evalStructLiteral(node *ast.StructLiteral) (object.ConfidenceValue, error) {
	schemaVal, err := e.CurrentEnv().Lookup(node.Name)
	if err != nil {
		return schemaVal, e.raise(err)
	}
	schema, ok := schemaVal.Payload.(*object.StructSchema)
	if !ok {
		return schemaVal, e.newError(object.TypeMismatchError, "%s is not a struct, got %s", node.Name, schemaVal.Payload.Type())
	}

	fields := make(map[string]object.ConfidenceValue, len(schema.Fields))
	for _, init := range node.Fields {
		if !schema.HasField(init.Name) {
			return e.nilValue(), e.newError(object.TypeMismatchError, "struct %s has no field '%s'", schema.Name, init.Name)
		}
		val, err := e.Eval(init.Value)
		if err != nil {
			return val, err
		}
		fields[init.Name] = val
	}

	ordered := make([]object.ConfidenceValue, 0, len(schema.Fields))
	for _, field := range schema.Fields {
		val, ok := fields[field.Name]
		if !ok {
			val = e.nilValue()
			if field.Default != nil {
				val, err = e.withEnv(object.NewEnclosedEnvironment(schema.Env, nil), func() (object.ConfidenceValue, error) {
					return e.Eval(field.Default)
				})
				if err != nil {
					return val, err
				}
			}
			fields[field.Name] = val
		}
		ordered = append(ordered, val)
	}

	inst := &object.StructInstance{Schema: schema, Fields: fields}
	if schema.Weight == nil {
		return e.originate(inst), nil
	}
	overall := object.CombineAnd(*schema.Weight, object.CombineAll(ordered...))
	inst.Overall = &overall
	return object.NewConfidenceValue(inst, overall), nil
}

func (e *Task) evalTraitDeclaration(node *ast.TraitDeclaration) (object.ConfidenceValue, error) {
	trait := &object.Trait{
		Name:     node.Name,
		Required: node.Required,
		Defaults: make(map[string]*object.Function, len(node.Defaults)),
	}
	for _, fd := range node.Defaults {
		trait.Defaults[fd.Name] = e.newFunction(fd.Name, fd.Parameters, fd.Body, fd.IsAsync, fd.Confidence)
	}
	val := object.Certain(trait)
	e.CurrentEnv().Define(node.Name, val, node.Exported, false)
	return val, nil
}

// evalImplDeclaration attaches methods to a struct. With a trait, every
// required method must be provided here or already exist on the struct.
func (e *Task) evalImplDeclaration(node *ast.ImplDeclaration) (object.ConfidenceValue, error) {
	schemaVal, err := e.CurrentEnv().Lookup(node.Struct)
	if err != nil {
		return schemaVal, e.raise(err)
	}
	schema, ok := schemaVal.Payload.(*object.StructSchema)
	if !ok {
		return schemaVal, e.newError(object.TypeMismatchError, "impl target %s is not a struct", node.Struct)
	}

	methods := make(map[string]*object.Function, len(node.Methods))
	for _, fd := range node.Methods {
		methods[fd.Name] = e.newFunction(fd.Name, fd.Parameters, fd.Body, fd.IsAsync, fd.Confidence)
	}

	var trait *object.Trait
	if node.Trait != "" {
		traitVal, err := e.CurrentEnv().Lookup(node.Trait)
		if err != nil {
			return traitVal, e.raise(err)
		}
		if trait, ok = traitVal.Payload.(*object.Trait); !ok {
			return traitVal, e.newError(object.TypeMismatchError, "%s is not a trait", node.Trait)
		}
		for _, name := range trait.Required {
			if _, ok := methods[name]; ok {
				continue
			}
			if _, ok := schema.Methods[name]; ok {
				continue
			}
			return e.nilValue(), e.newError(object.TypeMismatchError,
				"struct %s does not satisfy trait %s: missing method '%s'", schema.Name, trait.Name, name)
		}
	}

	for name, fn := range methods {
		schema.Methods[name] = fn
	}
	if trait != nil && !schema.Implements(trait) {
		schema.Traits = append(schema.Traits, trait)
	}
	return e.nilValue(), nil
}

// satisfies checks a value against a trait's capability set: an instance of
// an implementing struct, or any value exposing every required function.
func satisfies(v object.Object, trait *object.Trait) bool {
	switch o := v.(type) {
	case *object.StructInstance:
		if o.Schema.Implements(trait) {
			return true
		}
		return !slices.ContainsFunc(trait.Required, func(name string) bool {
			_, ok := o.Schema.Method(name)
			return !ok
		})
	case *object.Map:
		return !slices.ContainsFunc(trait.Required, func(name string) bool {
			fn, ok := o.Get(&object.String{Value: name})
			return !ok || !isCallable(fn.Payload)
		})
	case *object.Module:
		return !slices.ContainsFunc(trait.Required, func(name string) bool {
			fn, ok := o.Exports[name]
			return !ok || !isCallable(fn.Payload)
		})
	}
	return false
}

func isCallable(o object.Object) bool {
	switch o.(type) {
	case *object.Function, *object.Native:
		return true
	}
	return false
}

func (e *Task) evalImportStatement(node *ast.ImportStatement) (object.ConfidenceValue, error) {
	registry := e.Runtime.Modules
	if len(node.Symbols) > 0 {
		symbols := make([]modules.Symbol, 0, len(node.Symbols))
		for _, s := range node.Symbols {
			symbols = append(symbols, modules.Symbol{Name: s.Name, Alias: s.Alias})
		}
		if err := registry.Import(e.importContext(), e.CurrentEnv(), node.Module, symbols, node.Confidence); err != nil {
			return e.nilValue(), e.importError(err)
		}
		return e.nilValue(), nil
	}

	handle, err := registry.Handle(e.importContext(), node.Module, node.Confidence)
	if err != nil {
		return e.nilValue(), e.importError(err)
	}
	name := node.Alias
	if name == "" {
		name = node.Module
	}
	val := object.Certain(handle)
	e.CurrentEnv().Define(name, val, false, true)
	return val, nil
}

// importContext lets the registry suspend e while another task runs the
// module body it waits for.
func (e *Task) importContext() context.Context {
	return modules.WithWaiter(e.waitContext(), importWaiter{e})
}

func (e *Task) importError(err error) error {
	if e.waitContext().Err() != nil {
		return e.cancelledError()
	}
	return e.raise(err)
}

type importWaiter struct{ task *Task }

func (w importWaiter) Suspend() { w.task.suspend() }
func (w importWaiter) Resume()  { w.task.resume() }
