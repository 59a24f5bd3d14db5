package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"prism/internal/ast"
	"prism/internal/contexts"
	"prism/internal/foreign"
	"prism/internal/modules"
	"prism/internal/object"
	"prism/internal/util"
	"time"
)

type Runtime struct {
	Config    util.Configuration
	Modules   *modules.Registry
	Scheduler *Scheduler
	Builtins  map[string]*object.Native

	natives *foreign.Natives
	globals *object.Environment // builtins
	session *object.Environment // top-level bindings shared by Evaluate calls
}

func NewRuntime(config util.Configuration) *Runtime {
	if err := config.Validate(); err != nil {
		slog.Warn("invalid configuration, using defaults",
			slog.Any("error", err))
		output := config.Output
		config = util.DefaultConfiguration()
		if output != nil {
			config.Output = output
		}
	}

	r := &Runtime{Config: config}
	r.Scheduler = NewScheduler(r, config.Workers)
	r.Modules = modules.NewRegistry(r)
	r.Builtins = r.builtinFunctions()

	r.globals = object.NewEnvironment()
	for name, fn := range r.Builtins {
		r.globals.Define(name, object.Certain(fn), false, false)
	}
	r.session = object.NewEnclosedEnvironment(r.globals, &object.StackFrame{Function: "main"})

	r.natives = foreign.New()
	for _, def := range r.natives.Modules() {
		if err := r.Modules.Define(def); err != nil {
			slog.Error("failed to define native module",
				slog.String("name", def.Name),
				slog.Any("error", err))
		}
	}
	return r
}

// RegisterNative makes fn visible to every program under name.
func (r *Runtime) RegisterNative(name string, fn *object.Native) {
	if fn.Name == "" {
		fn.Name = name
	}
	r.Builtins[name] = fn
	r.globals.Define(name, object.Certain(fn), false, false)
}

func (r *Runtime) RegisterModule(def *modules.Definition) error {
	return r.Modules.Define(def)
}

func (r *Runtime) LoadManifest(in io.Reader) ([]string, error) {
	return r.Modules.LoadManifest(in)
}

// Evaluate runs program as the main task and returns its last value. An
// uncaught language error is returned as *object.RuntimeError.
func (r *Runtime) Evaluate(ctx context.Context, program *ast.Program) (object.ConfidenceValue, error) {
	t := r.Scheduler.newTask(ctx, "main")
	t.ctxStack = contexts.NewStack(r.Config.DefaultThreshold)
	t.PushEnv(r.session)

	slog.Debug("evaluate program",
		slog.String("task", t.ID.String()),
		slog.Int("statements", len(program.Statements)))

	return r.Scheduler.runInline(t, func(t *Task) (object.ConfidenceValue, error) {
		return t.evalProgram(program)
	})
}

// ExecuteModule runs a module body in a fresh module scope and returns its
// exports. It implements modules.Executor.
func (r *Runtime) ExecuteModule(ctx context.Context, def *modules.Definition) (map[string]object.ConfidenceValue, error) {
	env := object.NewEnclosedEnvironment(r.globals, &object.StackFrame{Function: "module " + def.Name})
	env.ModuleFqn = def.Name

	// the importer is suspended while the body runs, so the body task takes
	// the run token for itself
	t := r.Scheduler.newTask(context.WithValue(ctx, tokenKey{}, false), "module "+def.Name)
	t.ctxStack = contexts.NewStack(r.Config.DefaultThreshold)
	t.PushEnv(env)

	slog.Debug("executing module body",
		slog.String("name", def.Name),
		slog.String("task", t.ID.String()))

	if _, err := r.Scheduler.runInline(t, func(t *Task) (object.ConfidenceValue, error) {
		return t.evalProgram(def.Body)
	}); err != nil {
		return nil, err
	}
	return env.Exports(), nil
}

// Shutdown cancels outstanding tasks and waits for them, bounded by ctx.
// Native module resources are released afterwards.
func (r *Runtime) Shutdown(ctx context.Context) error {
	err := r.Scheduler.Shutdown(ctx)
	if cerr := r.natives.Close(); err == nil {
		err = cerr
	}
	return err
}

// ConfidenceOf reads the confidence of an evaluation result, failed or not.
func ConfidenceOf(v object.ConfidenceValue, err error) float64 {
	if err != nil {
		if rtErr, ok := object.AsRuntimeError(err); ok {
			return rtErr.Confidence()
		}
		return 0
	}
	return v.Confidence
}

// ContextOf reads the context name of an evaluation result, failed or not.
func ContextOf(v object.ConfidenceValue, err error) string {
	if err != nil {
		if rtErr, ok := object.AsRuntimeError(err); ok {
			return rtErr.Payload.Context
		}
		return ""
	}
	return v.Context
}

func (r *Runtime) output() io.Writer {
	if r.Config.Output == nil {
		return os.Stdout
	}
	return r.Config.Output
}

func (r *Runtime) printf(format string, a ...any) {
	fmt.Fprintf(r.output(), format, a...)
}

func millis(n float64) time.Duration {
	return time.Duration(n * float64(time.Millisecond))
}
