// Package wind provides the stream function / velocity potential to wind block.
package wind

import (
	"fmt"

	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Type is the registered block type name.
const Type = "PsiChiToUV"

// Plugin registers the wind block.
type Plugin struct{}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "wind" }

// Version returns the plugin version.
func (Plugin) Version() string { return "1.0.0" }

// Register adds the PsiChiToUV block type.
func (Plugin) Register(r *block.Registry) error {
	return r.Register(block.Registration{Type: Type, InnerVars: InnerVars, New: New})
}

// InnerVars replaces the wind components of outer with stream function and
// velocity potential on the same levels.
func InnerVars(outer field.Variables, _ block.Config) (field.Variables, error) {
	u, err := block.RequireOuter(outer, field.EastwardWind)
	if err != nil {
		return field.Variables{}, err
	}
	v, err := block.RequireOuter(outer, field.NorthwardWind)
	if err != nil {
		return field.Variables{}, err
	}
	if err := block.SameLevels(u, v); err != nil {
		return field.Variables{}, err
	}
	if outer.Has(field.StreamFunction) || outer.Has(field.VelocityPotential) {
		return field.Variables{}, fmt.Errorf("%w: %s cannot pass through stream function or velocity potential", field.ErrIncompatibleVariables, Type)
	}
	return outer.Without(field.EastwardWind, field.NorthwardWind).With(
		field.Variable{Name: field.StreamFunction, Levels: u.Levels, Units: "m2 s-1"},
		field.Variable{Name: field.VelocityPotential, Levels: u.Levels, Units: "m2 s-1"},
	)
}

// Block maps (psi, chi) to (u, v) with centred differences on a periodic grid:
//
//	u = -dpsi/dy + dchi/dx
//	v =  dpsi/dx + dchi/dy
type Block struct {
	block.Base
	levels int
}

// New constructs the wind block.
func New(p block.Params) (block.Block, error) {
	inner, err := InnerVars(p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	u, _ := p.OuterVars.Get(field.EastwardWind)
	return &Block{Base: block.NewBase(p, inner), levels: u.Levels}, nil
}

func (b *Block) Multiply(fset *field.FieldSet) error {
	in, err := b.Fields(fset, field.StreamFunction, field.VelocityPotential)
	if err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	if err := b.PrepareForward(fset); err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	out, err := b.Fields(fset, field.EastwardWind, field.NorthwardWind)
	if err != nil {
		return block.Wrap(b.Name(), "multiply", err)
	}
	Forward(b.Geometry().FunctionSpace(), b.levels, in[0].Values(), in[1].Values(), out[0].Values(), out[1].Values())
	b.FinishForward(fset)
	return nil
}

func (b *Block) MultiplyAD(fset *field.FieldSet) error {
	out, err := b.Fields(fset, field.EastwardWind, field.NorthwardWind)
	if err != nil {
		return block.Wrap(b.Name(), "multiplyAD", err)
	}
	if err := b.PrepareAdjoint(fset); err != nil {
		return block.Wrap(b.Name(), "multiplyAD", err)
	}
	in, err := b.Fields(fset, field.StreamFunction, field.VelocityPotential)
	if err != nil {
		return block.Wrap(b.Name(), "multiplyAD", err)
	}
	psi, chi, u, v := in[0].Values(), in[1].Values(), out[0].Values(), out[1].Values()
	fs := b.Geometry().FunctionSpace()
	cx, cy := 1/(2*fs.DX), 1/(2*fs.DY)
	n := b.levels
	for p := 0; p < fs.Points(); p++ {
		e, w, no, so := fs.Neighbours(p)
		for l := 0; l < n; l++ {
			ua, va := u[p*n+l], v[p*n+l]
			psi[no*n+l] -= cy * ua
			psi[so*n+l] += cy * ua
			chi[e*n+l] += cx * ua
			chi[w*n+l] -= cx * ua
			psi[e*n+l] += cx * va
			psi[w*n+l] -= cx * va
			chi[no*n+l] += cy * va
			chi[so*n+l] -= cy * va
		}
	}
	b.FinishAdjoint(fset)
	return nil
}

var _ block.Block = (*Block)(nil)

// Forward evaluates the wind stencil over point-major arrays of the given
// level count, overwriting u and v.
func Forward(fs geometry.FunctionSpace, levels int, psi, chi, u, v []float64) {
	cx, cy := 1/(2*fs.DX), 1/(2*fs.DY)
	n := levels
	for p := 0; p < fs.Points(); p++ {
		e, w, no, so := fs.Neighbours(p)
		for l := 0; l < n; l++ {
			u[p*n+l] = -cy*(psi[no*n+l]-psi[so*n+l]) + cx*(chi[e*n+l]-chi[w*n+l])
			v[p*n+l] = cx*(psi[e*n+l]-psi[w*n+l]) + cy*(chi[no*n+l]-chi[so*n+l])
		}
	}
}
