package block

import (
	"fmt"

	"opchain/pkg/field"
)

// Stage is one planned block of a chain with its resolved variable sets.
type Stage struct {
	Config    Config
	Lifecycle Lifecycle
	Inner     field.Variables
	Outer     field.Variables
}

// Member is a block owned by a composite together with the configuration it was built from.
type Member struct {
	Block  Block
	Config Config
}

// Composite is implemented by blocks owning members that carry their own
// read and calibration configuration.
type Composite interface {
	Members() []Member
}

// Plan resolves the variable sets of an innermost-first list of block
// configurations whose outermost block must produce outer. Every lifecycle is
// checked first, then inner variables are propagated from the outermost block
// inwards. No block is constructed.
func (r *Registry) Plan(outer field.Variables, cfgs []Config) ([]Stage, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: at least one block required", ErrInvalidConfiguration)
	}
	stages := make([]Stage, len(cfgs))
	for i, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		lc, _ := cfg.Lifecycle()
		stages[i] = Stage{Config: cfg, Lifecycle: lc}
	}
	current := outer
	for i := len(cfgs) - 1; i >= 0; i-- {
		inner, err := r.InnerVars(current, cfgs[i])
		if err != nil {
			return nil, fmt.Errorf("block %d (%s): %w", i, cfgs[i].Identity(), err)
		}
		if inner.Len() == 0 {
			return nil, fmt.Errorf("block %d (%s): %w: empty inner variables", i, cfgs[i].Identity(), ErrInvalidConfiguration)
		}
		if _, err := inner.Union(current); err != nil {
			return nil, fmt.Errorf("block %d (%s): %w", i, cfgs[i].Identity(), err)
		}
		stages[i].Outer = current
		stages[i].Inner = inner
		current = inner
	}
	return stages, nil
}

// Build constructs the planned stages, outermost first.
func (r *Registry) Build(stages []Stage, base Params) ([]Block, error) {
	blocks := make([]Block, len(stages))
	for i := len(stages) - 1; i >= 0; i-- {
		p := base
		p.OuterVars = stages[i].Outer
		p.Config = stages[i].Config
		b, err := r.Create(p)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if !b.InnerVars().Equal(stages[i].Inner) {
			return nil, fmt.Errorf("block %d (%s): %w: built with inner %v, planned %v", i, b.Name(),
				ErrInvalidConfiguration, b.InnerVars(), stages[i].Inner)
		}
		blocks[i] = b
	}
	return blocks, nil
}
