package contexts

import (
	"log/slog"
	"math"
	"prism/internal/object"
	"slices"
	"strings"
)

// Context is one active entry. Threshold and Sources are already composed
// with the ancestors at push time.
type Context struct {
	Name       string
	Threshold  float64
	Sources    []string
	Multiplier float64
	Parent     *Context
}

func (c *Context) HasSource(source string) bool {
	return slices.Contains(c.Sources, source)
}

// Descriptor describes a context block. A nil Threshold or Sources inherits
// the parent's; Loosen lets the block lower the inherited threshold.
type Descriptor struct {
	Name      string
	Threshold *float64
	Sources   []string
	Loosen    bool
}

// Stack is the per-task context stack. It is not safe for concurrent use;
// each task owns its own copy.
type Stack struct {
	entries          []*Context
	defaultThreshold float64
}

func NewStack(defaultThreshold float64) *Stack {
	return &Stack{defaultThreshold: object.Clamp(defaultThreshold)}
}

func (s *Stack) Enter(d Descriptor) *Context {
	parent := s.Current()
	ctx := &Context{
		Name:       d.Name,
		Threshold:  s.defaultThreshold,
		Multiplier: 1.0,
		Parent:     parent,
	}
	if parent != nil {
		ctx.Threshold = parent.Threshold
		ctx.Sources = parent.Sources
		ctx.Multiplier = parent.Multiplier
	}
	if d.Threshold != nil {
		own := object.Clamp(*d.Threshold)
		if d.Loosen || parent == nil {
			ctx.Threshold = own
		} else {
			ctx.Threshold = math.Max(ctx.Threshold, own)
		}
	}
	if d.Sources != nil {
		ctx.Sources = slices.Clone(d.Sources)
	}

	s.entries = append(s.entries, ctx)
	slog.Debug("enter context",
		slog.String("name", ctx.Name),
		slog.Float64("threshold", ctx.Threshold),
		slog.Int("depth", len(s.entries)))
	return ctx
}

// Leave pops the innermost context. It reports false on an empty stack.
func (s *Stack) Leave() (*Context, bool) {
	if len(s.entries) == 0 {
		return nil, false
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	slog.Debug("leave context",
		slog.String("name", top.Name),
		slog.Int("depth", len(s.entries)))
	return top, true
}

// Within runs fn inside d and always leaves, whatever fn returns.
func (s *Stack) Within(d Descriptor, fn func() error) error {
	s.Enter(d)
	defer s.Leave()
	return fn()
}

func (s *Stack) Current() *Context {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

func (s *Stack) CurrentThreshold() float64 {
	if c := s.Current(); c != nil {
		return c.Threshold
	}
	return s.defaultThreshold
}

// Multiplier is the confidence newly produced values start with.
func (s *Stack) Multiplier() float64 {
	if c := s.Current(); c != nil {
		return c.Multiplier
	}
	return 1.0
}

func (s *Stack) Depth() int { return len(s.entries) }

func (s *Stack) Has(name string) bool {
	for _, c := range s.entries {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Names lists the active contexts, outermost first.
func (s *Stack) Names() []string {
	names := make([]string, 0, len(s.entries))
	for _, c := range s.entries {
		names = append(names, c.Name)
	}
	return names
}

// Transition pops contexts down to and including from, then pushes to with
// multiplier m. The returned restore func undoes both steps, leaving the
// stack exactly as it was before the transition.
func (s *Stack) Transition(from, to string, m float64) (func(), error) {
	idx := -1
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Name == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, object.NewError(object.ContextError,
			"cannot transition from '%s': not active (stack: %s)", from, strings.Join(s.Names(), " > "))
	}

	popped := slices.Clone(s.entries[idx:])
	s.entries = s.entries[:idx]

	base := popped[0]
	ctx := &Context{
		Name:       to,
		Threshold:  base.Threshold,
		Sources:    base.Sources,
		Multiplier: object.Clamp(m),
		Parent:     s.Current(),
	}
	s.entries = append(s.entries, ctx)
	slog.Debug("context transition",
		slog.String("from", from),
		slog.String("to", to),
		slog.Float64("multiplier", ctx.Multiplier),
		slog.Int("popped", len(popped)))

	restored := false
	return func() {
		if restored {
			return
		}
		restored = true
		s.entries = append(s.entries[:idx], popped...)
	}, nil
}

// Snapshot copies the active entries. Contexts are never mutated after
// push, so sharing the pointers is safe.
func (s *Stack) Snapshot() []*Context {
	return slices.Clone(s.entries)
}

func (s *Stack) Restore(snapshot []*Context) {
	s.entries = slices.Clone(snapshot)
}

// Clone gives a spawned task its own stack starting from s's state.
func (s *Stack) Clone() *Stack {
	return &Stack{entries: s.Snapshot(), defaultThreshold: s.defaultThreshold}
}
