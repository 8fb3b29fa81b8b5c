// Package compose provides the generic Composite block, which owns an
// innermost-first list of member blocks built through the same registry.
package compose

import (
	"context"
	"errors"
	"fmt"

	"opchain/pkg/block"
	"opchain/pkg/field"
)

// Type is the registered block type name.
const Type = "Composite"

// Plugin registers the Composite block. Members are resolved through the
// registry the plugin is installed into.
type Plugin struct{}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "compose" }

// Version returns the plugin version.
func (Plugin) Version() string { return "1.0.0" }

// Register adds the Composite block type.
func (Plugin) Register(r *block.Registry) error {
	return r.Register(block.Registration{
		Type: Type,
		InnerVars: func(outer field.Variables, cfg block.Config) (field.Variables, error) {
			stages, err := plan(r, outer, cfg)
			if err != nil {
				return field.Variables{}, err
			}
			return stages[0].Inner, nil
		},
		New: New,
	})
}

func members(cfg block.Config) ([]block.Config, error) {
	var cfgs []block.Config
	if err := cfg.Options.Decode("blocks", &cfgs); err != nil {
		return nil, err
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: %s needs a non-empty blocks list", block.ErrInvalidConfiguration, cfg.Identity())
	}
	return cfgs, nil
}

func plan(r *block.Registry, outer field.Variables, cfg block.Config) ([]block.Stage, error) {
	cfgs, err := members(cfg)
	if err != nil {
		return nil, err
	}
	return r.Plan(outer, cfgs)
}

// Block applies its members in sequence, innermost first.
type Block struct {
	block.Base
	members      []block.Block
	configs      []block.Config
	intermediate field.Variables
}

// New plans and builds the members.
func New(p block.Params) (block.Block, error) {
	if p.Registry == nil {
		return nil, fmt.Errorf("%w: %s needs a registry", block.ErrInvalidConfiguration, Type)
	}
	stages, err := plan(p.Registry, p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	built, err := p.Registry.Build(stages, p)
	if err != nil {
		return nil, err
	}
	inner := stages[0].Inner
	all := inner
	for _, s := range stages {
		if all, err = all.Union(s.Outer); err != nil {
			return nil, err
		}
	}
	b := &Block{Base: block.NewBase(p, inner), members: built}
	for _, s := range stages {
		b.configs = append(b.configs, s.Config)
	}
	b.intermediate = all.Difference(inner).Difference(p.OuterVars)
	return b, nil
}

// Members returns the owned blocks, innermost first.
func (b *Block) Members() []block.Member {
	out := make([]block.Member, len(b.members))
	for i, m := range b.members {
		out[i] = block.Member{Block: m, Config: b.configs[i]}
	}
	return out
}

func (b *Block) Multiply(fset *field.FieldSet) error {
	for _, m := range b.members {
		if err := m.Multiply(fset); err != nil {
			return block.Wrap(b.Name(), "multiply", err)
		}
	}
	fset.RemoveVariables(b.intermediate)
	return nil
}

func (b *Block) MultiplyAD(fset *field.FieldSet) error {
	for i := len(b.members) - 1; i >= 0; i-- {
		if err := b.members[i].MultiplyAD(fset); err != nil {
			return block.Wrap(b.Name(), "multiplyAD", err)
		}
	}
	fset.RemoveVariables(b.intermediate)
	return nil
}

// LeftInverseMultiply inverts the members outermost first on a copy of fset,
// so a member without an inverse leaves fset untouched and the composite
// reports ErrNotInvertible.
func (b *Block) LeftInverseMultiply(fset *field.FieldSet) error {
	work := fset.Clone()
	for i := len(b.members) - 1; i >= 0; i-- {
		if err := b.members[i].LeftInverseMultiply(work); err != nil {
			if errors.Is(err, block.ErrNotInvertible) {
				return block.Wrap(b.Name(), "leftInverseMultiply", fmt.Errorf("%w: member %s", block.ErrNotInvertible, b.members[i].Name()))
			}
			return block.Wrap(b.Name(), "leftInverseMultiply", err)
		}
	}
	work.RemoveVariables(b.intermediate)
	fset.ReplaceWith(work)
	return nil
}

// LeftInverseMultiplyAD inverts the adjoint innermost first. Every member must
// implement block.AdjointInverter.
func (b *Block) LeftInverseMultiplyAD(fset *field.FieldSet) error {
	work := fset.Clone()
	for _, m := range b.members {
		inv, ok := m.(block.AdjointInverter)
		if !ok {
			return block.Wrap(b.Name(), "leftInverseMultiplyAD", fmt.Errorf("%w: member %s", block.ErrNotImplemented, m.Name()))
		}
		if err := inv.LeftInverseMultiplyAD(work); err != nil {
			return block.Wrap(b.Name(), "leftInverseMultiplyAD", err)
		}
	}
	work.RemoveVariables(b.intermediate)
	fset.ReplaceWith(work)
	return nil
}

// DirectCalibration calibrates every member in forward order.
func (b *Block) DirectCalibration(ctx context.Context, ensemble []*field.FieldSet) error {
	for _, m := range b.members {
		if err := m.DirectCalibration(ctx, ensemble); err != nil {
			return block.Wrap(b.Name(), "directCalibration", err)
		}
	}
	return nil
}

func (b *Block) Read(ctx context.Context, store block.StatisticsStore) error {
	for _, m := range b.members {
		if err := m.Read(ctx, store); err != nil {
			return block.Wrap(b.Name(), "read", err)
		}
	}
	return nil
}

func (b *Block) Write(ctx context.Context, store block.StatisticsStore) error {
	for _, m := range b.members {
		if err := m.Write(ctx, store); err != nil {
			return block.Wrap(b.Name(), "write", err)
		}
	}
	return nil
}
