// Package alias provides the FieldCopy block, which exposes one variable
// under another name (for example hydrostatic pressure as air pressure).
package alias

import (
	"fmt"

	"opchain/pkg/block"
	"opchain/pkg/field"
)

// Type is the registered block type name.
const Type = "FieldCopy"

// Plugin registers the FieldCopy block.
type Plugin struct{}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "alias" }

// Version returns the plugin version.
func (Plugin) Version() string { return "1.0.0" }

// Register adds the FieldCopy block type.
func (Plugin) Register(r *block.Registry) error {
	return r.Register(block.Registration{Type: Type, InnerVars: InnerVars, New: New})
}

func names(cfg block.Config) (string, string, error) {
	from, err := cfg.Options.String("from", field.HydrostaticPressure)
	if err != nil {
		return "", "", err
	}
	to, err := cfg.Options.String("to", field.AirPressure)
	if err != nil {
		return "", "", err
	}
	if from == to {
		return "", "", fmt.Errorf("%w: from and to must differ", block.ErrInvalidConfiguration)
	}
	return from, to, nil
}

// InnerVars replaces the target variable with the source on the same levels.
func InnerVars(outer field.Variables, cfg block.Config) (field.Variables, error) {
	from, to, err := names(cfg)
	if err != nil {
		return field.Variables{}, err
	}
	target, err := block.RequireOuter(outer, to)
	if err != nil {
		return field.Variables{}, err
	}
	if outer.Has(from) {
		return field.Variables{}, fmt.Errorf("%w: %s is already an outer variable", field.ErrIncompatibleVariables, from)
	}
	return outer.Without(to).With(field.Variable{Name: from, Levels: target.Levels, Units: target.Units, LevelType: target.LevelType})
}

// Block copies the source variable into the target variable.
type Block struct {
	block.Base
	from, to field.Variable
}

// New constructs the copy block. Options: from (default hydrostatic_pressure)
// and to (default air_pressure).
func New(p block.Params) (block.Block, error) {
	inner, err := InnerVars(p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	fromName, toName, _ := names(p.Config)
	from, _ := inner.Get(fromName)
	to, _ := p.OuterVars.Get(toName)
	return &Block{Base: block.NewBase(p, inner), from: from, to: to}, nil
}

// move sets dst to src (accumulating when add is true), allocating dst when missing.
func (b *Block) move(fset *field.FieldSet, op string, src string, dst field.Variable, add bool) error {
	in, err := b.Fields(fset, src)
	if err != nil {
		return block.Wrap(b.Name(), op, err)
	}
	out, err := block.Ensure(b.Geometry(), fset, dst)
	if err != nil {
		return block.Wrap(b.Name(), op, err)
	}
	if add {
		err = out.AddScaled(1, in[0])
	} else {
		err = out.CopyFrom(in[0])
	}
	if err != nil {
		return block.Wrap(b.Name(), op, err)
	}
	fset.Remove(src)
	return nil
}

func (b *Block) Multiply(fset *field.FieldSet) error {
	return b.move(fset, "multiply", b.from.Name, b.to, false)
}

func (b *Block) MultiplyAD(fset *field.FieldSet) error {
	return b.move(fset, "multiplyAD", b.to.Name, b.from, true)
}

func (b *Block) LeftInverseMultiply(fset *field.FieldSet) error {
	return b.move(fset, "leftInverseMultiply", b.to.Name, b.from, false)
}

func (b *Block) LeftInverseMultiplyAD(fset *field.FieldSet) error {
	return b.move(fset, "leftInverseMultiplyAD", b.from.Name, b.to, false)
}
