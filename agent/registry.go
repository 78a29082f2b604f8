package agent

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/store"
)

// Registry owns the fleet's named agent singletons. Registration is
// idempotent by name: registering the same name twice returns the existing
// Runtime rather than creating a second subscriber.
type Registry struct {
	b      *bus.Bus
	logger *slog.Logger
	audit  *store.AuditLog

	mu       sync.Mutex
	runtimes map[string]*Runtime
	order    []string
}

// NewRegistry constructs a Registry bound to b. audit may be nil, in which
// case registered Runtimes skip audit recording. It does not start the bus.
func NewRegistry(b *bus.Bus, logger *slog.Logger, audit *store.AuditLog) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		b:        b,
		logger:   logger,
		audit:    audit,
		runtimes: make(map[string]*Runtime),
	}
}

// Register wraps a in a Runtime, subscribes it to the bus, and stores it
// under a.Name(). Calling Register again with an already-registered name is
// a no-op that returns the existing Runtime; it does not create a duplicate
// subscription.
func (r *Registry) Register(a Agent) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runtimes[a.Name()]; ok {
		return existing
	}

	rt := NewRuntime(a, r.b, r.logger.With("agent", a.Name()))
	rt.audit = r.audit
	rt.Register()
	r.runtimes[a.Name()] = rt
	r.order = append(r.order, a.Name())
	return rt
}

// Get returns the named agent's Runtime, if registered.
func (r *Registry) Get(name string) (*Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[name]
	return rt, ok
}

// All returns every registered Runtime in registration order.
func (r *Registry) All() []*Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Runtime, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.runtimes[name])
	}
	return out
}

// Enable re-enables the named agent. Reports whether the agent was found.
func (r *Registry) Enable(name string) bool {
	rt, ok := r.Get(name)
	if !ok {
		return false
	}
	rt.Enable()
	return true
}

// Disable disables the named agent without unsubscribing it. Reports
// whether the agent was found.
func (r *Registry) Disable(name string) bool {
	rt, ok := r.Get(name)
	if !ok {
		return false
	}
	rt.Disable()
	return true
}

// Status returns a Descriptor snapshot for every registered agent, sorted
// by name for stable API responses.
func (r *Registry) Status() []Descriptor {
	runtimes := r.All()
	out := make([]Descriptor, 0, len(runtimes))
	for _, rt := range runtimes {
		out = append(out, rt.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StopAll unsubscribes every registered agent from the bus. It does not stop
// the bus itself; callers own that lifecycle separately.
func (r *Registry) StopAll() {
	for _, rt := range r.All() {
		rt.Unregister()
	}
}
