package strategy

import (
	"fmt"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// Registry maps entity-type names to strategies. It is populated once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	order  []string
	byName map[string]reconcile.Strategy
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]reconcile.Strategy)}
}

// Register adds a strategy under its name. Names are case-sensitive.
// Registering a duplicate name or registering after Seal is a programming
// error and panics.
func (r *Registry) Register(s reconcile.Strategy) {
	if r.sealed {
		panic("strategy: register after seal")
	}
	name := s.Name()
	if _, dup := r.byName[name]; dup {
		panic(fmt.Sprintf("strategy: duplicate registration of %q", name))
	}
	r.byName[name] = s
	r.order = append(r.order, name)
}

// Seal marks the registry read-only. Called once startup wiring is done.
func (r *Registry) Seal() { r.sealed = true }

// Get returns the strategy for the entity-type name, matched
// case-sensitively. Unknown names yield [reconcile.ErrUnknownEntityType].
func (r *Registry) Get(name string) (reconcile.Strategy, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", reconcile.ErrUnknownEntityType, name)
	}
	return s, nil
}

// Names returns the registered entity-type names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns the registered strategies in registration order.
func (r *Registry) All() []reconcile.Strategy {
	out := make([]reconcile.Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
