package block

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"opchain/pkg/field"
)

// InnerVarsFunc computes the inner variables a block needs to produce outer.
// It must be pure: chains call it before any block is constructed.
type InnerVarsFunc func(outer field.Variables, cfg Config) (field.Variables, error)

// Constructor builds a block. p.OuterVars is already validated by the
// registration's InnerVarsFunc.
type Constructor func(p Params) (Block, error)

// Registration binds a type name to its variable function and constructor.
type Registration struct {
	Type      string
	InnerVars InnerVarsFunc
	New       Constructor
	// Stateful blocks accept read and calibration configuration.
	Stateful bool
}

// Registry maps block type names to registrations. Registrations happen
// before first use; the first InnerVars or Create call seals the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
	plugins []PluginMetadata
	sealed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a registration. Re-registering a type name is an error.
func (r *Registry) Register(reg Registration) error {
	if reg.Type == "" || reg.InnerVars == nil || reg.New == nil {
		return fmt.Errorf("%w: registration for %q is incomplete", ErrInvalidConfiguration, reg.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, reg.Type)
	}
	if _, exists := r.entries[reg.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBlockType, reg.Type)
	}
	r.entries[reg.Type] = reg
	return nil
}

// MustRegister is Register for process start-up; it panics on error.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Seal forbids further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the registration for a type name.
func (r *Registry) Lookup(typeName string) (Registration, error) {
	r.mu.Lock()
	r.sealed = true
	reg, ok := r.entries[typeName]
	r.mu.Unlock()
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", ErrUnknownBlockType, typeName)
	}
	return reg, nil
}

// InnerVars evaluates the variable function registered for cfg.Type.
func (r *Registry) InnerVars(outer field.Variables, cfg Config) (field.Variables, error) {
	if _, err := cfg.Lifecycle(); err != nil {
		return field.Variables{}, err
	}
	reg, err := r.Lookup(cfg.Type)
	if err != nil {
		return field.Variables{}, err
	}
	if err := r.checkLifecycle(reg, cfg); err != nil {
		return field.Variables{}, err
	}
	inner, err := reg.InnerVars(outer, cfg)
	if err != nil {
		return field.Variables{}, Wrap(cfg.Identity(), "innerVars", err)
	}
	return inner, nil
}

// Create constructs the block named by p.Config.Type. The lifecycle of the
// configuration is checked before the type is resolved, so a conflicting
// configuration is reported even for an unknown type.
func (r *Registry) Create(p Params) (Block, error) {
	if _, err := p.Config.Lifecycle(); err != nil {
		return nil, err
	}
	reg, err := r.Lookup(p.Config.Type)
	if err != nil {
		return nil, err
	}
	if err := r.checkLifecycle(reg, p.Config); err != nil {
		return nil, err
	}
	if p.Registry == nil {
		p.Registry = r
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	b, err := reg.New(p)
	if err != nil {
		return nil, Wrap(p.Config.Identity(), "create", err)
	}
	p.Logger.Debug("block created",
		zap.String("type", p.Config.Type),
		zap.String("id", b.Name()),
		zap.Strings("inner", b.InnerVars().Names()),
		zap.Strings("outer", b.OuterVars().Names()))
	return b, nil
}

func (r *Registry) checkLifecycle(reg Registration, cfg Config) error {
	lc, err := cfg.Lifecycle()
	if err != nil {
		return err
	}
	if lc.Mode != PassThrough && !reg.Stateful {
		return fmt.Errorf("%w: %s holds no statistics and cannot %s", ErrInvalidConfiguration, cfg.Identity(), lc.Mode)
	}
	return nil
}
