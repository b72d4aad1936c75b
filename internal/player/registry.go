package player

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// ErrUnknownPlayer is returned when a name is not bound in the registry.
var ErrUnknownPlayer = errors.New("unknown player")

// Names of the engines registered by Default.
const (
	NameMonteCarlo = "montecarlo"
	NameRandom     = "random"
)

// Constructor builds a fresh engine for a board size.
type Constructor func(size int) (Player, error)

// Registry binds engine names to constructors. It replaces loading engine
// implementations by name at run time: every name is known up front and can
// be validated before the first game starts.
type Registry struct {
	ctors map[string]Constructor
	mu    sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Default returns a registry holding the engines shipped with this module.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(NameMonteCarlo, NewMonteCarlo)
	_ = r.Register(NameRandom, NewRandom)
	return r
}

// Register binds name to c. Names cannot be rebound.
func (r *Registry) Register(name string, c Constructor) error {
	if name == "" || c == nil {
		return errors.New("player name and constructor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[name]; ok {
		return fmt.Errorf("player %q already registered", name)
	}
	r.ctors[name] = c
	return nil
}

// New constructs the engine bound to name.
func (r *Registry) New(name string, size int) (Player, error) {
	r.mu.RLock()
	c, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlayer, name)
	}
	return c(size)
}

// Validate checks that every name is bound.
func (r *Registry) Validate(names ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		if _, ok := r.ctors[n]; !ok {
			return fmt.Errorf("%w: %q (known: %v)", ErrUnknownPlayer, n, r.namesLocked())
		}
	}
	return nil
}

// Names lists the bound names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
