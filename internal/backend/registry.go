package backend

import (
	"fmt"

	"github.com/vnmchuo/model-orchestrator/internal/task"
)

// Registry is the fixed list of backends known to the process. It has no
// mutating methods; build a new one to change the table.
type Registry struct {
	backends    []*Config
	byID        map[string]*Config
	preferences map[task.Type][]string
	fallback    []string
}

// NewRegistry validates and freezes the backend table. Preference entries
// may name a backend ID or a provider; fallback entries must be backend IDs.
func NewRegistry(backends []*Config, preferences map[task.Type][]string, fallback []string) (*Registry, error) {
	r := &Registry{
		byID:        make(map[string]*Config, len(backends)),
		preferences: make(map[task.Type][]string, len(preferences)),
	}
	for _, b := range backends {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if b.ID == LocalFallbackID {
			return nil, fmt.Errorf("%w: %s is reserved", ErrInvalidConfig, LocalFallbackID)
		}
		if _, dup := r.byID[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate backend id %q", ErrInvalidConfig, b.ID)
		}
		cp := *b
		cp.Tasks = append([]task.Type(nil), b.Tasks...)
		r.backends = append(r.backends, &cp)
		r.byID[cp.ID] = &cp
	}

	for t, order := range preferences {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: preferences for unknown task type %q", ErrInvalidConfig, t)
		}
		for _, name := range order {
			if _, ok := r.byID[name]; !ok && !Provider(name).Known() {
				return nil, fmt.Errorf("%w: preference %q for %s", ErrUnknownBackend, name, t)
			}
		}
		r.preferences[t] = append([]string(nil), order...)
	}

	seen := make(map[string]bool, len(fallback))
	for _, id := range fallback {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("%w: fallback entry %q", ErrUnknownBackend, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: fallback entry %q listed twice", ErrInvalidConfig, id)
		}
		seen[id] = true
		r.fallback = append(r.fallback, id)
	}
	return r, nil
}

// List returns every backend in registration order.
func (r *Registry) List() []*Config {
	out := make([]*Config, len(r.backends))
	copy(out, r.backends)
	return out
}

// ForTask returns the backends supporting t in registration order. The
// result is empty, not nil-with-error, when nothing qualifies.
func (r *Registry) ForTask(t task.Type) []*Config {
	out := make([]*Config, 0, len(r.backends))
	for _, b := range r.backends {
		if b.Supports(t) {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) Get(id string) (*Config, bool) {
	b, ok := r.byID[id]
	return b, ok
}

func (r *Registry) Preferences(t task.Type) []string {
	return append([]string(nil), r.preferences[t]...)
}

func (r *Registry) FallbackOrder() []string {
	return append([]string(nil), r.fallback...)
}

func (r *Registry) Len() int {
	return len(r.backends)
}
