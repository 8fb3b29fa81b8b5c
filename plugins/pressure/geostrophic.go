package pressure

import (
	"fmt"

	"opchain/pkg/block"
	"opchain/pkg/field"
)

// GeostrophicType is the registered name of the wind to geostrophic pressure block.
const GeostrophicType = "WindToGeostrophicPressure"

// GeostrophicInnerVars replaces geostrophic pressure in outer with the wind
// components on the same levels. Winds already in outer pass through.
func GeostrophicInnerVars(outer field.Variables, _ block.Config) (field.Variables, error) {
	gp, err := block.RequireOuter(outer, field.GeostrophicPressure)
	if err != nil {
		return field.Variables{}, err
	}
	for _, name := range []string{field.EastwardWind, field.NorthwardWind} {
		if w, ok := outer.Get(name); ok {
			if err := block.SameLevels(gp, w); err != nil {
				return field.Variables{}, err
			}
		}
	}
	return outer.Without(field.GeostrophicPressure).With(
		field.Variable{Name: field.EastwardWind, Levels: gp.Levels, Units: "m s-1"},
		field.Variable{Name: field.NorthwardWind, Levels: gp.Levels, Units: "m s-1"},
	)
}

// Geostrophic diagnoses a balanced pressure proportional to the relative
// vorticity of the wind: gp = rho * f * L^2 * (dv/dx - du/dy).
type Geostrophic struct {
	block.Base
	levels int
	factor float64
}

// NewGeostrophic constructs the block. Options: density (kg m-3), coriolis (s-1)
// and length_scale (m, defaults to the grid dx).
func NewGeostrophic(p block.Params) (block.Block, error) {
	inner, err := GeostrophicInnerVars(p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	factor, err := balanceFactor(p)
	if err != nil {
		return nil, err
	}
	gp, _ := p.OuterVars.Get(field.GeostrophicPressure)
	return &Geostrophic{Base: block.NewBase(p, inner), levels: gp.Levels, factor: factor}, nil
}

func balanceFactor(p block.Params) (float64, error) {
	opts := p.Config.Options
	rho, err := opts.Float("density", 1.225)
	if err != nil {
		return 0, err
	}
	f, err := opts.Float("coriolis", 1e-4)
	if err != nil {
		return 0, err
	}
	l, err := opts.Float("length_scale", p.Geometry.FunctionSpace().DX)
	if err != nil {
		return 0, err
	}
	if rho <= 0 || l <= 0 {
		return 0, fmt.Errorf("%w: density and length_scale must be positive", block.ErrInvalidConfiguration)
	}
	return rho * f * l * l, nil
}

func (b *Geostrophic) Multiply(fset *field.FieldSet) error {
	in, err := b.Fields(fset, field.EastwardWind, field.NorthwardWind)
	if err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	if err := b.PrepareForward(fset); err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	out, err := b.Fields(fset, field.GeostrophicPressure)
	if err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	u, v, gp := in[0].Values(), in[1].Values(), out[0].Values()
	fs := b.Geometry().FunctionSpace()
	cx, cy := b.factor/(2*fs.DX), b.factor/(2*fs.DY)
	n := b.levels
	for p := 0; p < fs.Points(); p++ {
		e, w, no, so := fs.Neighbours(p)
		for l := 0; l < n; l++ {
			gp[p*n+l] = cx*(v[e*n+l]-v[w*n+l]) - cy*(u[no*n+l]-u[so*n+l])
		}
	}
	b.FinishForward(fset)
	return nil
}

func (b *Geostrophic) MultiplyAD(fset *field.FieldSet) error {
	out, err := b.Fields(fset, field.GeostrophicPressure)
	if err != nil {
		return block.Wrap(b.Name(), "multiplyAD", err)
	}
	var winds [2]*field.Field
	for i, name := range []string{field.EastwardWind, field.NorthwardWind} {
		v, _ := b.InnerVars().Get(name)
		if winds[i], err = block.Ensure(b.Geometry(), fset, v); err != nil {
			return block.Wrap(b.Name(), "multiplyAD", err)
		}
	}
	gp, u, v := out[0].Values(), winds[0].Values(), winds[1].Values()
	fs := b.Geometry().FunctionSpace()
	cx, cy := b.factor/(2*fs.DX), b.factor/(2*fs.DY)
	n := b.levels
	for p := 0; p < fs.Points(); p++ {
		e, w, no, so := fs.Neighbours(p)
		for l := 0; l < n; l++ {
			ga := gp[p*n+l]
			v[e*n+l] += cx * ga
			v[w*n+l] -= cx * ga
			u[no*n+l] -= cy * ga
			u[so*n+l] += cy * ga
		}
	}
	b.FinishAdjoint(fset)
	return nil
}
