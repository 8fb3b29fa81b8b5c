package pressure

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"opchain/pkg/block"
	"opchain/pkg/field"
)

// HydrostaticType is the registered name of the regression block.
const HydrostaticType = "GeostrophicToHydrostaticPressure"

// RegressionStatistic names the persisted regression matrix.
const RegressionStatistic = "vertical_regression_matrices"

// HydrostaticInnerVars replaces hydrostatic pressure in outer with geostrophic
// and unbalanced pressure on the same levels.
func HydrostaticInnerVars(outer field.Variables, _ block.Config) (field.Variables, error) {
	hp, err := block.RequireOuter(outer, field.HydrostaticPressure)
	if err != nil {
		return field.Variables{}, err
	}
	if outer.Has(field.GeostrophicPressure) || outer.Has(field.UnbalancedPressure) {
		return field.Variables{}, fmt.Errorf("%w: %s cannot pass through geostrophic or unbalanced pressure",
			field.ErrIncompatibleVariables, HydrostaticType)
	}
	return outer.Without(field.HydrostaticPressure).With(
		field.Variable{Name: field.GeostrophicPressure, Levels: hp.Levels, Units: hp.Units},
		field.Variable{Name: field.UnbalancedPressure, Levels: hp.Levels, Units: hp.Units},
	)
}

// Hydrostatic computes hp = gp·B + unbalanced column by column, where B is a
// levels × levels vertical regression matrix. Without read or calibration B is
// the identity.
type Hydrostatic struct {
	block.Base
	levels     int
	regression *mat.Dense
}

// NewHydrostatic constructs the regression block.
func NewHydrostatic(p block.Params) (block.Block, error) {
	inner, err := HydrostaticInnerVars(p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	hp, _ := p.OuterVars.Get(field.HydrostaticPressure)
	b := &Hydrostatic{Base: block.NewBase(p, inner), levels: hp.Levels, regression: mat.NewDense(hp.Levels, hp.Levels, nil)}
	for l := 0; l < hp.Levels; l++ {
		b.regression.Set(l, l, 1)
	}
	return b, nil
}

// Regression returns a copy of the regression matrix.
func (b *Hydrostatic) Regression() *mat.Dense { return mat.DenseCopyOf(b.regression) }

func (b *Hydrostatic) Multiply(fset *field.FieldSet) error {
	in, err := b.Fields(fset, field.GeostrophicPressure, field.UnbalancedPressure)
	if err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	if err := b.PrepareForward(fset); err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	out, err := b.Fields(fset, field.HydrostaticPressure)
	if err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	hp := out[0].Matrix()
	hp.Mul(in[0].Matrix(), b.regression)
	hp.Add(hp, in[1].Matrix())
	b.FinishForward(fset)
	return nil
}

func (b *Hydrostatic) MultiplyAD(fset *field.FieldSet) error {
	out, err := b.Fields(fset, field.HydrostaticPressure)
	if err != nil {
		return block.Wrap(b.Name(), "multiplyAD", err)
	}
	if err := b.PrepareAdjoint(fset); err != nil {
		return block.Wrap(b.Name(), "multiplyAD", err)
	}
	in, err := b.Fields(fset, field.GeostrophicPressure, field.UnbalancedPressure)
	if err != nil {
		return block.Wrap(b.Name(), "multiplyAD", err)
	}
	hp := out[0].Matrix()
	var tmp mat.Dense
	tmp.Mul(hp, b.regression.T())
	gp, unb := in[0].Matrix(), in[1].Matrix()
	gp.Add(gp, &tmp)
	unb.Add(unb, hp)
	b.FinishAdjoint(fset)
	return nil
}

// LeftInverseMultiply recovers unbalanced pressure as hp - gp·B. Geostrophic
// pressure must already be in fset; it cannot be recovered from hp alone.
func (b *Hydrostatic) LeftInverseMultiply(fset *field.FieldSet) error {
	if !fset.Has(field.GeostrophicPressure) {
		return block.Wrap(b.Name(), "leftInverseMultiply",
			fmt.Errorf("%w: %s must be supplied; use the %s composite", block.ErrMissingInput, field.GeostrophicPressure, CompositeType))
	}
	in, err := b.Fields(fset, field.HydrostaticPressure, field.GeostrophicPressure)
	if err != nil {
		return block.Wrap(b.Name(), "leftInverseMultiply", err)
	}
	uv, _ := b.InnerVars().Get(field.UnbalancedPressure)
	unbField, err := block.Ensure(b.Geometry(), fset, uv)
	if err != nil {
		return block.Wrap(b.Name(), "leftInverseMultiply", err)
	}
	unb := unbField.Matrix()
	unb.Mul(in[1].Matrix(), b.regression)
	unb.Sub(in[0].Matrix(), unb)
	b.FinishAdjoint(fset)
	return nil
}

// LeftInverseMultiplyAD inverts the adjoint: the adjoint copies hp into the
// unbalanced pressure, so hp is recovered from it directly.
func (b *Hydrostatic) LeftInverseMultiplyAD(fset *field.FieldSet) error {
	in, err := b.Fields(fset, field.UnbalancedPressure)
	if err != nil {
		return block.Wrap(b.Name(), "leftInverseMultiplyAD", err)
	}
	hv, _ := b.OuterVars().Get(field.HydrostaticPressure)
	hp, err := in[0].Renamed(hv)
	if err != nil {
		return block.Wrap(b.Name(), "leftInverseMultiplyAD", err)
	}
	fset.Put(hp)
	b.FinishForward(fset)
	return nil
}

// DirectCalibration regresses hydrostatic on geostrophic pressure perturbations
// pooled over members and points. Members must hold both variables.
func (b *Hydrostatic) DirectCalibration(_ context.Context, ensemble []*field.FieldSet) error {
	if len(ensemble) < 2 {
		return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("%w: need at least two members, got %d", block.ErrMissingInput, len(ensemble)))
	}
	gv, _ := b.InnerVars().Get(field.GeostrophicPressure)
	hv, _ := b.OuterVars().Get(field.HydrostaticPressure)
	gps, err := field.StackPerturbations(ensemble, gv)
	if err != nil {
		return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("%w: %w", block.ErrMissingInput, err))
	}
	hps, err := field.StackPerturbations(ensemble, hv)
	if err != nil {
		return block.Wrap(b.Name(), "directCalibration", err)
	}
	var reg mat.Dense
	if err := reg.Solve(gps, hps); err != nil {
		return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("regression: %w", err))
	}
	b.regression = &reg
	b.Logger().Info("regression calibrated")
	return nil
}

// Read loads the regression matrix.
func (b *Hydrostatic) Read(ctx context.Context, store block.StatisticsStore) error {
	key := b.Config().ReadKey(RegressionStatistic)
	m, err := store.ReadArray(ctx, key)
	if err != nil {
		return block.Wrap(b.Name(), "read", fmt.Errorf("%s: %w", key, err))
	}
	if r, c := m.Dims(); r != b.levels || c != b.levels {
		return block.Wrap(b.Name(), "read", fmt.Errorf("%w: %s is %dx%d, want %dx%d", field.ErrIncompatibleVariables, key, r, c, b.levels, b.levels))
	}
	b.regression = m
	return nil
}

// Write persists the regression matrix.
func (b *Hydrostatic) Write(ctx context.Context, store block.StatisticsStore) error {
	key := b.Config().WriteKey(RegressionStatistic)
	if err := store.WriteArray(ctx, key, b.regression); err != nil {
		return block.Wrap(b.Name(), "write", fmt.Errorf("%s: %w", key, err))
	}
	return nil
}
