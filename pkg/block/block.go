// Package block defines the operator contract shared by every block, the
// configuration that selects and parameterises blocks, and the registry that
// maps block type names to constructors.
package block

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Block is a linear operator from its inner variables to its outer variables.
//
// Multiply reads the inner variables of fset and leaves it holding the outer
// variables; inner-only variables are removed. MultiplyAD is the exact
// transpose: it consumes the outer variables, accumulates into (allocating
// when missing) the inner variables and removes outer-only variables.
// Variables that are neither inner nor outer pass through untouched.
type Block interface {
	Name() string
	InnerVars() field.Variables
	OuterVars() field.Variables
	Multiply(fset *field.FieldSet) error
	MultiplyAD(fset *field.FieldSet) error
	// LeftInverseMultiply recovers the inner variables from the outer ones.
	// Blocks without an inverse return ErrNotInvertible.
	LeftInverseMultiply(fset *field.FieldSet) error
	DirectCalibration(ctx context.Context, ensemble []*field.FieldSet) error
	Read(ctx context.Context, store StatisticsStore) error
	Write(ctx context.Context, store StatisticsStore) error
}

// AdjointInverter is implemented by blocks that provide a left inverse of MultiplyAD.
type AdjointInverter interface {
	LeftInverseMultiplyAD(fset *field.FieldSet) error
}

// StatisticsStore reads and writes named arrays keyed by block identity and statistic name.
type StatisticsStore interface {
	ReadArray(ctx context.Context, key string) (*mat.Dense, error)
	WriteArray(ctx context.Context, key string, a mat.Matrix) error
}

// Params carries everything a constructor may consult.
type Params struct {
	Geometry   geometry.Geometry
	OuterVars  field.Variables
	Config     Config
	Background *field.FieldSet
	FirstGuess *field.FieldSet
	Registry   *Registry
	Logger     *zap.Logger
}

// Base holds the bookkeeping shared by block implementations and supplies the
// defaults of a stateless, non-invertible block.
type Base struct {
	cfg    Config
	geom   geometry.Geometry
	inner  field.Variables
	outer  field.Variables
	logger *zap.Logger
}

// NewBase records the construction parameters and the computed inner variables.
func NewBase(p Params, inner field.Variables) Base {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{
		cfg:    p.Config,
		geom:   p.Geometry,
		inner:  inner,
		outer:  p.OuterVars,
		logger: logger.With(zap.String("block", p.Config.Identity())),
	}
}

func (b *Base) Name() string { return b.cfg.Identity() }
func (b *Base) Config() Config { return b.cfg }
func (b *Base) Geometry() geometry.Geometry { return b.geom }
func (b *Base) Logger() *zap.Logger { return b.logger }
func (b *Base) InnerVars() field.Variables { return b.inner }
func (b *Base) OuterVars() field.Variables { return b.outer }
func (b *Base) InnerOnly() field.Variables { return b.inner.Difference(b.outer) }
func (b *Base) OuterOnly() field.Variables { return b.outer.Difference(b.inner) }

// LeftInverseMultiply reports ErrNotInvertible.
func (b *Base) LeftInverseMultiply(*field.FieldSet) error {
	return Wrap(b.Name(), "leftInverseMultiply", ErrNotInvertible)
}

// DirectCalibration is a no-op for stateless blocks.
func (b *Base) DirectCalibration(context.Context, []*field.FieldSet) error { return nil }

// Read is a no-op for stateless blocks.
func (b *Base) Read(context.Context, StatisticsStore) error { return nil }

// Write is a no-op for stateless blocks.
func (b *Base) Write(context.Context, StatisticsStore) error { return nil }

// PrepareForward allocates the outer-only variables missing from fset.
func (b *Base) PrepareForward(fset *field.FieldSet) error {
	_, err := geometry.Allocate(b.geom, fset, b.OuterOnly())
	return err
}

// FinishForward removes the inner-only variables.
func (b *Base) FinishForward(fset *field.FieldSet) { fset.RemoveVariables(b.InnerOnly()) }

// PrepareAdjoint allocates the inner-only variables missing from fset.
func (b *Base) PrepareAdjoint(fset *field.FieldSet) error {
	_, err := geometry.Allocate(b.geom, fset, b.InnerOnly())
	return err
}

// FinishAdjoint removes the outer-only variables.
func (b *Base) FinishAdjoint(fset *field.FieldSet) { fset.RemoveVariables(b.OuterOnly()) }

// Fields returns the named fields of fset, failing with ErrMissingInput when
// one is absent and with field.ErrIncompatibleVariables when its level count
// differs from the declared inner or outer variable.
func (b *Base) Fields(fset *field.FieldSet, names ...string) ([]*field.Field, error) {
	fields, err := Require(fset, names...)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		v, ok := b.inner.Get(f.Name())
		if !ok {
			v, ok = b.outer.Get(f.Name())
		}
		if ok && v.Levels != f.Levels() {
			return nil, fmt.Errorf("%w: %s has %d levels, want %d", field.ErrIncompatibleVariables, f.Name(), f.Levels(), v.Levels)
		}
	}
	return fields, nil
}
