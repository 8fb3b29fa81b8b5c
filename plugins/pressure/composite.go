package pressure

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"opchain/pkg/block"
	"opchain/pkg/field"
)

// CompositeType is the registered name of the hydrostatic pressure composite.
const CompositeType = "HydrostaticPressure"

// CompositeInnerVars composes the sub-block variable functions and drops the
// geostrophic pressure they exchange. The winds feed the geostrophic diagnosis
// in every direction, so both must be outer variables.
func CompositeInnerVars(outer field.Variables, cfg block.Config) (field.Variables, error) {
	for _, name := range []string{field.EastwardWind, field.NorthwardWind} {
		if _, err := block.RequireOuter(outer, name); err != nil {
			return field.Variables{}, fmt.Errorf("%s passes the winds through: %w", CompositeType, err)
		}
	}
	mid, err := HydrostaticInnerVars(outer, cfg)
	if err != nil {
		return field.Variables{}, err
	}
	inner, err := GeostrophicInnerVars(mid, cfg)
	if err != nil {
		return field.Variables{}, err
	}
	return inner.Without(field.GeostrophicPressure), nil
}

// Composite maps winds and unbalanced pressure to hydrostatic pressure. It owns
// a Geostrophic block (winds to geostrophic pressure) followed by a Hydrostatic
// block (geostrophic plus unbalanced to hydrostatic pressure).
type Composite struct {
	block.Base
	geostrophic  *Geostrophic
	hydrostatic  *Hydrostatic
	intermediate field.Variables
}

// NewComposite constructs the composite and its two sub-blocks. The regression
// sub-block shares the composite identity so statistics keys do not change.
func NewComposite(p block.Params) (block.Block, error) {
	inner, err := CompositeInnerVars(p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	hydroParams := p
	hydroParams.Config = block.Config{
		Type:        HydrostaticType,
		ID:          p.Config.Identity(),
		Read:        p.Config.Read,
		Calibration: p.Config.Calibration,
		Options:     p.Config.Options,
	}
	hb, err := NewHydrostatic(hydroParams)
	if err != nil {
		return nil, err
	}
	geoParams := p
	geoParams.OuterVars = hb.InnerVars()
	geoParams.Config = block.Config{Type: GeostrophicType, ID: p.Config.Identity() + "/geostrophic", Options: p.Config.Options}
	gb, err := NewGeostrophic(geoParams)
	if err != nil {
		return nil, err
	}
	c := &Composite{
		Base:        block.NewBase(p, inner),
		geostrophic: gb.(*Geostrophic),
		hydrostatic: hb.(*Hydrostatic),
	}
	all, err := gb.InnerVars().Union(gb.OuterVars())
	if err != nil {
		return nil, err
	}
	c.intermediate = all.Difference(inner).Difference(p.OuterVars)
	return c, nil
}

// Regression returns a copy of the calibrated regression matrix.
func (c *Composite) Regression() *mat.Dense { return c.hydrostatic.Regression() }

func (c *Composite) Multiply(fset *field.FieldSet) error {
	if err := c.geostrophic.Multiply(fset); err != nil {
		return block.Wrap(c.Name(), "multiply", err)
	}
	if err := c.hydrostatic.Multiply(fset); err != nil {
		return block.Wrap(c.Name(), "multiply", err)
	}
	fset.RemoveVariables(c.intermediate)
	c.FinishForward(fset)
	return nil
}

func (c *Composite) MultiplyAD(fset *field.FieldSet) error {
	if err := c.hydrostatic.MultiplyAD(fset); err != nil {
		return block.Wrap(c.Name(), "multiplyAD", err)
	}
	if err := c.geostrophic.MultiplyAD(fset); err != nil {
		return block.Wrap(c.Name(), "multiplyAD", err)
	}
	fset.RemoveVariables(c.intermediate)
	c.FinishAdjoint(fset)
	return nil
}

// LeftInverseMultiply diagnoses geostrophic pressure from the winds in fset and
// then inverts the regression.
func (c *Composite) LeftInverseMultiply(fset *field.FieldSet) error {
	work := fset.Clone()
	if err := c.geostrophic.Multiply(work); err != nil {
		return block.Wrap(c.Name(), "leftInverseMultiply", err)
	}
	if err := c.hydrostatic.LeftInverseMultiply(work); err != nil {
		return block.Wrap(c.Name(), "leftInverseMultiply", err)
	}
	work.RemoveVariables(c.intermediate)
	fset.ReplaceWith(work)
	return nil
}

// LeftInverseMultiplyAD inverts the adjoint. The adjoint maps hp* to
// unbalanced = hp* and adds G^T(hp*·B^T) to the winds, so hp* is read back from
// the unbalanced pressure and its wind contribution is subtracted.
func (c *Composite) LeftInverseMultiplyAD(fset *field.FieldSet) error {
	in, err := c.Fields(fset, field.UnbalancedPressure)
	if err != nil {
		return block.Wrap(c.Name(), "leftInverseMultiplyAD", err)
	}
	hv, _ := c.OuterVars().Get(field.HydrostaticPressure)
	hp, err := in[0].Renamed(hv)
	if err != nil {
		return block.Wrap(c.Name(), "leftInverseMultiplyAD", err)
	}
	scratch := field.NewFieldSet(fset.ValidTime())
	scratch.Put(hp.Clone())
	if err := c.hydrostatic.MultiplyAD(scratch); err != nil {
		return block.Wrap(c.Name(), "leftInverseMultiplyAD", err)
	}
	scratch.Remove(field.UnbalancedPressure)
	if err := c.geostrophic.MultiplyAD(scratch); err != nil {
		return block.Wrap(c.Name(), "leftInverseMultiplyAD", err)
	}
	for _, name := range []string{field.EastwardWind, field.NorthwardWind} {
		w, err := c.Fields(fset, name)
		if err != nil {
			return block.Wrap(c.Name(), "leftInverseMultiplyAD", err)
		}
		contribution, _ := scratch.Get(name)
		if err := w[0].AddScaled(-1, contribution); err != nil {
			return block.Wrap(c.Name(), "leftInverseMultiplyAD", err)
		}
	}
	fset.Put(hp)
	c.FinishForward(fset)
	return nil
}

// DirectCalibration diagnoses geostrophic pressure for every member and
// calibrates the regression against the members' hydrostatic pressure.
func (c *Composite) DirectCalibration(ctx context.Context, ensemble []*field.FieldSet) error {
	members := make([]*field.FieldSet, len(ensemble))
	for i, m := range ensemble {
		members[i] = m.Clone()
		if err := c.geostrophic.Multiply(members[i]); err != nil {
			return block.Wrap(c.Name(), "directCalibration", fmt.Errorf("member %d: %w", i, err))
		}
	}
	return c.hydrostatic.DirectCalibration(ctx, members)
}

func (c *Composite) Read(ctx context.Context, store block.StatisticsStore) error {
	return c.hydrostatic.Read(ctx, store)
}

func (c *Composite) Write(ctx context.Context, store block.StatisticsStore) error {
	return c.hydrostatic.Write(ctx, store)
}
