package workflow

import (
	"sort"

	"github.com/rendis/recflow/pkg/schema"
)

// RegistryBuilder collects step declarations for one workflow type.
// Registration order is significant: it breaks priority ties.
type RegistryBuilder struct {
	steps []Step
}

// NewRegistry creates an empty builder.
func NewRegistry() *RegistryBuilder {
	return &RegistryBuilder{}
}

// Register adds a step declaration. Validation is deferred to Build so a
// workflow type can be declared fluently.
func (b *RegistryBuilder) Register(s Step) *RegistryBuilder {
	b.steps = append(b.steps, s)
	return b
}

// Build validates the declared steps and computes the execution order once:
// priority descending, ties resolved by declaration order. The returned
// Registry is immutable and reused for every item.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "registry has no steps")
	}

	seen := make(map[string]struct{}, len(b.steps))
	for _, s := range b.steps {
		if s.Name == "" {
			return nil, schema.NewError(schema.ErrCodeDefinition, "step name is empty")
		}
		if s.Run == nil {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition, "step %q has no action", s.Name).WithStep(s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "step %q declared twice", s.Name).WithStep(s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	ordered := make([]Step, len(b.steps))
	copy(ordered, b.steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	return &Registry{ordered: ordered}, nil
}

// MustBuild is Build for static workflow-type declarations; it panics on a
// definition error.
func (b *RegistryBuilder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Registry is the fixed, priority-ordered step collection of one workflow
// type. It is computed once and never mutated.
type Registry struct {
	ordered []Step
}

// OrderedSteps returns the execution order. The returned slice is a copy;
// mutating it cannot affect the registry.
func (r *Registry) OrderedSteps() []Step {
	out := make([]Step, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.ordered)
}
