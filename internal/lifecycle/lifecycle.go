// Package lifecycle reads or calibrates the statistics of every block of a chain.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"opchain/internal/chain"
	"opchain/pkg/block"
	"opchain/pkg/field"
)

// EnsembleSource loads ensemble members holding the chain's model variables.
type EnsembleSource func(ctx context.Context) ([]*field.FieldSet, error)

// Leaf is a block whose statistics are managed directly, with its decided lifecycle.
type Leaf struct {
	Block     block.Block
	Config    block.Config
	Lifecycle block.Lifecycle
}

// Decision records what the manager did with one leaf.
type Decision struct {
	Block string
	Mode  block.Mode
	Wrote bool
}

// Manager applies read and calibration lifecycles.
type Manager struct {
	store  block.StatisticsStore
	logger *zap.Logger
}

// New returns a manager persisting through store. store may be nil when no
// block reads or writes.
func New(store block.StatisticsStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// Leaves flattens the chain, expanding composites into their members, innermost first.
func Leaves(ch *chain.Chain) ([]Leaf, error) {
	var out []Leaf
	var walk func(b block.Block, cfg block.Config) error
	walk = func(b block.Block, cfg block.Config) error {
		if comp, ok := b.(block.Composite); ok {
			for _, m := range comp.Members() {
				if err := walk(m.Block, m.Config); err != nil {
					return err
				}
			}
			return nil
		}
		lc, err := cfg.Lifecycle()
		if err != nil {
			return err
		}
		out = append(out, Leaf{Block: b, Config: cfg, Lifecycle: lc})
		return nil
	}
	stages := ch.Stages()
	for i, b := range ch.Blocks() {
		if err := walk(b, stages[i].Config); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Prepare walks the leaves outermost first. Read leaves load their statistics;
// calibrate leaves estimate them from the ensemble, written out immediately
// when configured. Between leaves the ensemble is mapped through each leaf's
// left inverse so every leaf calibrates in its own outer variables.
func (m *Manager) Prepare(ctx context.Context, ch *chain.Chain, source EnsembleSource) ([]Decision, error) {
	leaves, err := Leaves(ch)
	if err != nil {
		return nil, err
	}
	innermost := -1
	for i := len(leaves) - 1; i >= 0; i-- {
		l := leaves[i]
		if l.Lifecycle.Mode == block.CalibrateMode {
			innermost = i
		}
		if m.store == nil && (l.Lifecycle.Mode == block.ReadMode || l.Lifecycle.WritesAfterCalibration()) {
			return nil, fmt.Errorf("%s: %s requires a statistics store", l.Block.Name(), l.Lifecycle.Mode)
		}
	}

	var members []*field.FieldSet
	if innermost >= 0 {
		if source == nil {
			return nil, fmt.Errorf("%w: calibration requires an ensemble", block.ErrMissingInput)
		}
		loaded, err := source(ctx)
		if err != nil {
			return nil, fmt.Errorf("load ensemble: %w", err)
		}
		for i, mb := range loaded {
			if !mb.HasAll(ch.OuterVars()) {
				return nil, fmt.Errorf("%w: ensemble member %d lacks model variables %v", block.ErrMissingInput, i, mb.Missing(ch.OuterVars()))
			}
			members = append(members, mb.Clone())
		}
	}

	decisions := make([]Decision, 0, len(leaves))
	for i := len(leaves) - 1; i >= 0; i-- {
		l := leaves[i]
		d := Decision{Block: l.Block.Name(), Mode: l.Lifecycle.Mode}
		switch l.Lifecycle.Mode {
		case block.ReadMode:
			if err := ch.Observe(l.Block, "read", func() error { return l.Block.Read(ctx, m.store) }); err != nil {
				return nil, err
			}
		case block.CalibrateMode:
			if err := ch.Observe(l.Block, "directCalibration", func() error { return l.Block.DirectCalibration(ctx, members) }); err != nil {
				return nil, err
			}
			if l.Lifecycle.WritesAfterCalibration() {
				if err := ch.Observe(l.Block, "write", func() error { return l.Block.Write(ctx, m.store) }); err != nil {
					return nil, err
				}
				d.Wrote = true
			}
		}
		m.logger.Info("block prepared", zap.String("block", d.Block), zap.Stringer("mode", d.Mode), zap.Bool("wrote", d.Wrote))
		decisions = append(decisions, d)
		if i > innermost && innermost >= 0 {
			for k, mb := range members {
				if err := l.Block.LeftInverseMultiply(mb); err != nil {
					if errors.Is(err, block.ErrNotInvertible) {
						return nil, fmt.Errorf("cannot calibrate %s beneath non-invertible %s: %w",
							leaves[innermost].Block.Name(), l.Block.Name(), err)
					}
					return nil, fmt.Errorf("transform ensemble member %d: %w", k, err)
				}
			}
		}
	}
	return decisions, nil
}
