package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"prism/internal/ast"
	"prism/internal/object"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

type State int

const (
	Unloaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case Loading:
		return "Loading"
	case Loaded:
		return "Loaded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Definition is what a host registers. Body, when present, is executed by
// the registry's Executor; Exports are merged over whatever Body exports.
type Definition struct {
	Name                 string
	Dependencies         []string
	ConfidenceMultiplier float64 // zero means 1.0
	Body                 *ast.Program
	Exports              map[string]object.ConfidenceValue
}

type Module struct {
	Name                 string
	Exports              map[string]object.ConfidenceValue
	ConfidenceMultiplier float64
	Dependencies         []string
	State                State

	def *Definition
}

// Executor runs a module body and returns its exported bindings. ctx carries
// the resolution path, so imports made by the body must use it.
type Executor interface {
	ExecuteModule(ctx context.Context, def *Definition) (map[string]object.ConfidenceValue, error)
}

// Waiter is implemented by callers that hold something other loads need,
// such as a task holding the run token. Suspend is called before the caller
// blocks on a load and Resume once it returns.
type Waiter interface {
	Suspend()
	Resume()
}

type Symbol struct {
	Name  string
	Alias string
}

func (s Symbol) binding() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Registry is the process-wide module cache. Each name is loaded at most
// once; concurrent loads of the same name share one execution.
type Registry struct {
	mu       sync.Mutex
	modules  map[string]*Module
	group    singleflight.Group
	executor Executor
}

func NewRegistry(executor Executor) *Registry {
	return &Registry{
		modules:  make(map[string]*Module),
		executor: executor,
	}
}

// Define declares a module without loading it. Redefining a module that
// already left the Unloaded state keeps the existing one.
func (r *Registry) Define(def *Definition) error {
	if def == nil || def.Name == "" {
		return object.NewError(object.ModuleResolutionError, "module definition requires a name")
	}
	multiplier := def.ConfidenceMultiplier
	if multiplier == 0 {
		multiplier = 1.0
	}
	if !object.ValidConfidence(multiplier) {
		return object.NewError(object.ModuleResolutionError,
			"module '%s' confidence multiplier %v outside [0,1]", def.Name, def.ConfidenceMultiplier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.modules[def.Name]; ok && existing.State != Unloaded {
		slog.Debug("module already registered",
			slog.String("name", def.Name),
			slog.String("state", existing.State.String()))
		return nil
	}
	r.modules[def.Name] = &Module{
		Name:                 def.Name,
		ConfidenceMultiplier: multiplier,
		Dependencies:         slices.Clone(def.Dependencies),
		State:                Unloaded,
		def:                  def,
	}
	return nil
}

// Register defines def and loads it together with its dependencies.
func (r *Registry) Register(ctx context.Context, def *Definition) (*Module, error) {
	if err := r.Define(def); err != nil {
		return nil, err
	}
	return r.Load(ctx, def.Name)
}

// Load returns the cached module or loads it.
func (r *Registry) Load(ctx context.Context, name string) (*Module, error) {
	path := resolutionPath(ctx)

	r.mu.Lock()
	mod, ok := r.modules[name]
	if !ok {
		r.mu.Unlock()
		return nil, object.NewError(object.ModuleResolutionError, "module '%s' not found", name)
	}
	state := mod.State
	r.mu.Unlock()

	switch state {
	case Loaded:
		slog.Debug("module loaded from cache", slog.String("name", name))
		return mod, nil
	case Loading:
		if idx := slices.Index(path, name); idx >= 0 {
			cycle := append(slices.Clone(path[idx:]), name)
			return nil, object.NewError(object.CircularDependencyError,
				"circular dependency: %s", strings.Join(cycle, " -> "))
		}
	}

	// the load belongs to every caller that joins it, not to whoever started it
	loadCtx := WithWaiter(context.WithoutCancel(ctx), nil)
	ch := r.group.DoChan(name, func() (any, error) {
		return r.load(loadCtx, mod, path)
	})
	return r.wait(ctx, name, ch)
}

// wait blocks until the load on ch finishes. A caller that registered a
// Waiter is suspended for the duration, so other tasks, including the
// module body itself, can run.
func (r *Registry) wait(ctx context.Context, name string, ch <-chan singleflight.Result) (*Module, error) {
	if w := waiterFrom(ctx); w != nil {
		w.Suspend()
		defer w.Resume()
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("module load shared", slog.String("name", name))
		}
		return res.Val.(*Module), nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (r *Registry) load(ctx context.Context, mod *Module, path []string) (*Module, error) {
	r.mu.Lock()
	if mod.State == Loaded {
		r.mu.Unlock()
		return mod, nil
	}
	mod.State = Loading
	def := mod.def
	executor := r.executor
	r.mu.Unlock()

	slog.Info("loading module",
		slog.String("name", mod.Name),
		slog.String("path", strings.Join(path, " -> ")))

	ctx = withResolutionPath(ctx, append(slices.Clone(path), mod.Name))

	exports, err := r.resolve(ctx, def, executor)
	if err != nil {
		r.mu.Lock()
		mod.State = Unloaded
		r.mu.Unlock()
		return nil, loadError(mod.Name, err)
	}

	r.mu.Lock()
	mod.Exports = exports
	mod.State = Loaded
	r.mu.Unlock()

	slog.Info("module loaded, added to cache",
		slog.String("name", mod.Name),
		slog.Int("exports", len(exports)))
	return mod, nil
}

func (r *Registry) resolve(ctx context.Context, def *Definition, executor Executor) (map[string]object.ConfidenceValue, error) {
	for _, dep := range def.Dependencies {
		if _, err := r.Load(ctx, dep); err != nil {
			return nil, err
		}
	}

	exports := make(map[string]object.ConfidenceValue)
	if def.Body != nil {
		if executor == nil {
			return nil, fmt.Errorf("module '%s' has a body but the registry has no executor", def.Name)
		}
		bodyExports, err := executor.ExecuteModule(ctx, def)
		if err != nil {
			return nil, err
		}
		for name, v := range bodyExports {
			exports[name] = v
		}
	}
	for name, v := range def.Exports {
		exports[name] = v
	}
	return exports, nil
}

// loadError keeps cycle and resolution errors as they are and wraps
// everything else as a ModuleResolutionError.
func loadError(name string, err error) error {
	if object.IsKind(err, object.CircularDependencyError) || object.IsKind(err, object.ModuleResolutionError) {
		return err
	}
	rtErr, ok := object.AsRuntimeError(err)
	wrapped := object.NewError(object.ModuleResolutionError, "failed to load module '%s': %v", name, err)
	if ok {
		wrapped.Cause = rtErr
	} else if errors.Is(err, context.Canceled) {
		wrapped.Cause = object.NewError(object.CancelledError, "%v", err)
	}
	return wrapped
}

// Import binds the listed symbols of module name into env. Every value's
// confidence is multiplied by the module's multiplier and, if given, extra.
func (r *Registry) Import(ctx context.Context, env *object.Environment, name string, symbols []Symbol, extra *float64) error {
	mod, err := r.Load(ctx, name)
	if err != nil {
		return err
	}
	multiplier := importMultiplier(mod, extra)

	bound := make(map[string]object.ConfidenceValue, len(symbols))
	for _, sym := range symbols {
		v, ok := mod.Exports[sym.Name]
		if !ok {
			return object.NewError(object.ModuleResolutionError, "module '%s' has no export '%s'", name, sym.Name)
		}
		bound[sym.binding()] = v.WithConfidence(object.CombineAnd(v.Confidence, multiplier))
	}
	for alias, v := range bound {
		env.Define(alias, v, false, true)
	}
	return nil
}

// Handle loads name and returns a handle whose exports carry the multipliers.
func (r *Registry) Handle(ctx context.Context, name string, extra *float64) (*object.Module, error) {
	mod, err := r.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	multiplier := importMultiplier(mod, extra)
	exports := make(map[string]object.ConfidenceValue, len(mod.Exports))
	for k, v := range mod.Exports {
		exports[k] = v.WithConfidence(object.CombineAnd(v.Confidence, multiplier))
	}
	return &object.Module{Name: mod.Name, Exports: exports}, nil
}

func importMultiplier(mod *Module, extra *float64) float64 {
	if extra == nil {
		return mod.ConfidenceMultiplier
	}
	return object.CombineAnd(mod.ConfidenceMultiplier, object.Clamp(*extra))
}

func (r *Registry) State(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.modules[name]
	if !ok {
		return Unloaded, false
	}
	return mod.State, true
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type (
	pathKey   struct{}
	waiterKey struct{}
)

// WithWaiter registers w with the loads made under ctx. A nil w clears it.
func WithWaiter(ctx context.Context, w Waiter) context.Context {
	return context.WithValue(ctx, waiterKey{}, w)
}

func waiterFrom(ctx context.Context) Waiter {
	w, _ := ctx.Value(waiterKey{}).(Waiter)
	return w
}

func resolutionPath(ctx context.Context) []string {
	path, _ := ctx.Value(pathKey{}).([]string)
	return path
}

func withResolutionPath(ctx context.Context, path []string) context.Context {
	return context.WithValue(ctx, pathKey{}, path)
}
