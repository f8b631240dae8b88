package collector

import (
	"slices"
	"strings"
	"sync"

	"tangled.sh/tangled.sh/healthsync/health/models"
)

// Registry holds at most one collector per record type. It is safe for
// concurrent use: registration races with permission grants and resets.
type Registry struct {
	mu         sync.Mutex
	collectors map[models.RecordType]*Collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: make(map[models.RecordType]*Collector)}
}

// Register applies Decide. On Replace the displaced collector is retired
// before Register returns, so two collectors never share a token.
func (r *Registry) Register(c *Collector) Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *models.DeliverySetting
	prev, ok := r.collectors[c.Type()]
	if ok {
		s := prev.Setting()
		existing = &s
	}

	action := Decide(existing, c.Setting())
	switch action {
	case Add:
		r.collectors[c.Type()] = c
	case Replace:
		prev.retire()
		r.collectors[c.Type()] = c
	}
	return action
}

func (r *Registry) Get(t models.RecordType) (*Collector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collectors[t]
	return c, ok
}

// All returns the registered collectors ordered by record type id.
func (r *Registry) All() []*Collector {
	r.mu.Lock()
	out := make([]*Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		out = append(out, c)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b *Collector) int {
		return strings.Compare(a.Type().ID(), b.Type().ID())
	})
	return out
}

// Remove unregisters and retires every collector of t, returning them.
func (r *Registry) Remove(t models.RecordType) []*Collector {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.collectors[t]
	if !ok {
		return nil
	}
	delete(r.collectors, t)
	c.retire()
	return []*Collector{c}
}

// StopAll stops every collector but keeps them registered.
func (r *Registry) StopAll() {
	for _, c := range r.All() {
		c.Stop()
	}
}
