package foreign

import (
	"prism/internal/modules"
	"prism/internal/object"
	"sort"
)

// Natives holds the host-backed modules of one runtime.
type Natives struct {
	sql *sqlStore
}

func New() *Natives {
	return &Natives{sql: newSQLStore()}
}

// Modules returns the native module definitions, ready for registration.
func (n *Natives) Modules() []*modules.Definition {
	return []*modules.Definition{
		nativeModule("sql", n.sql.sqlFunctions()),
		nativeModule("conf", confFunctions()),
	}
}

// Close releases every resource the natives opened.
func (n *Natives) Close() error {
	n.sql.closeAll()
	return nil
}

func nativeModule(name string, fns map[string]*object.Native) *modules.Definition {
	names := make([]string, 0, len(fns))
	for fnName := range fns {
		names = append(names, fnName)
	}
	sort.Strings(names)

	exports := make(map[string]object.ConfidenceValue, len(fns))
	for _, fnName := range names {
		fn := fns[fnName]
		fn.Name = name + "." + fnName
		exports[fnName] = object.Certain(fn)
	}
	return &modules.Definition{Name: name, Exports: exports}
}

func unpackString(arg object.ConfidenceValue, what string) (string, error) {
	s, ok := arg.Payload.(*object.String)
	if !ok {
		return "", object.NewError(object.TypeMismatchError, "%s must be a string, got %s", what, arg.Payload.Type())
	}
	return s.Value, nil
}

func unpackInt(arg object.ConfidenceValue, what string) (int64, error) {
	i, ok := arg.Payload.(*object.Integer)
	if !ok {
		return 0, object.NewError(object.TypeMismatchError, "%s must be an integer, got %s", what, arg.Payload.Type())
	}
	return i.Value, nil
}

func unpackNumber(arg object.ConfidenceValue, what string) (float64, error) {
	switch n := arg.Payload.(type) {
	case *object.Integer:
		return float64(n.Value), nil
	case *object.Float:
		return n.Value, nil
	}
	return 0, object.NewError(object.TypeMismatchError, "%s must be a number, got %s", what, arg.Payload.Type())
}
