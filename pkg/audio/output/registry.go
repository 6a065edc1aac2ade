// ABOUTME: Sink registry mapping engine roles onto backend factories
// ABOUTME: Hands back one shared sink per role, created on first use
package output

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

const (
	RoleDirect = "direct"
	RoleVoip   = "voip"

	BackendNull      = "null"
	BackendOto       = "oto"
	BackendMalgo     = "malgo"
	BackendPulse     = "pulse"
	BackendPortAudio = "portaudio"
	BackendWav       = "wav"
)

// Factory creates an uninitialised sink
type Factory func() Sink

// Provider resolves a sink for an engine role
type Provider interface {
	Sink(role string) (Sink, error)
}

// Registry holds backend factories and the role bindings that select them
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	roles     map[string]string
	sinks     map[string]Sink
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		roles:     make(map[string]string),
		sinks:     make(map[string]Sink),
	}
}

// NewDefaultRegistry registers every device backend built into the binary
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(BackendNull, NewNull)
	r.Register(BackendOto, NewOto)
	r.Register(BackendMalgo, NewMalgo)
	r.Register(BackendPulse, NewPulse)
	r.Register(BackendPortAudio, NewPortAudio)
	return r
}

// Register adds or replaces a backend factory
func (r *Registry) Register(backend string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[backend] = f
}

// Bind routes a role to a backend. Any cached sink for the role is dropped.
func (r *Registry) Bind(role, backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role] = backend
	delete(r.sinks, role)
}

// Backends lists registered backend names
func (r *Registry) Backends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sink returns the sink bound to role, creating it on first use
func (r *Registry) Sink(role string) (Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sinks[role]; ok {
		return s, nil
	}

	backend, ok := r.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: no backend bound for role %q", audio.ErrDevice, role)
	}
	f, ok := r.factories[backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", audio.ErrDevice, backend)
	}

	s := f()
	r.sinks[role] = s
	log.Debugf("Created %s sink for role %s", backend, role)
	return s, nil
}
