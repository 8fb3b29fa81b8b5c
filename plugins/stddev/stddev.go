// Package stddev provides the diagonal standard deviation block.
package stddev

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"opchain/pkg/block"
	"opchain/pkg/field"
)

// Type is the registered block type name.
const Type = "StdDev"

// Statistic is the prefix of the persisted standard deviation arrays.
const Statistic = "standard_deviation"

// Plugin registers the StdDev block.
type Plugin struct{}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "stddev" }

// Version returns the plugin version.
func (Plugin) Version() string { return "1.0.0" }

// Register adds the StdDev block type.
func (Plugin) Register(r *block.Registry) error {
	return r.Register(block.Registration{Type: Type, InnerVars: InnerVars, New: New, Stateful: true})
}

// InnerVars returns outer unchanged after checking that every scaled variable is present.
func InnerVars(outer field.Variables, cfg block.Config) (field.Variables, error) {
	if _, err := scaled(outer, cfg); err != nil {
		return field.Variables{}, err
	}
	return outer, nil
}

func scaled(outer field.Variables, cfg block.Config) (field.Variables, error) {
	names, err := cfg.Options.Strings("variables")
	if err != nil {
		return field.Variables{}, err
	}
	if len(names) == 0 {
		return outer, nil
	}
	vs := make([]field.Variable, 0, len(names))
	for _, n := range names {
		v, err := block.RequireOuter(outer, n)
		if err != nil {
			return field.Variables{}, err
		}
		vs = append(vs, v)
	}
	return field.NewVariables(vs...)
}

// Block multiplies each active variable point-wise by its standard deviation.
type Block struct {
	block.Base
	active field.Variables
	sigma  map[string]*mat.Dense
}

// New constructs the block with a constant standard deviation (option value, default 1).
func New(p block.Params) (block.Block, error) {
	active, err := scaled(p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	value, err := p.Config.Options.Float("value", 1)
	if err != nil {
		return nil, err
	}
	if value <= 0 {
		return nil, fmt.Errorf("%w: value must be positive, got %g", block.ErrInvalidConfiguration, value)
	}
	b := &Block{Base: block.NewBase(p, p.OuterVars), active: active, sigma: make(map[string]*mat.Dense)}
	points := p.Geometry.FunctionSpace().Points()
	for _, v := range active.Slice() {
		s := mat.NewDense(points, v.Levels, nil)
		fill(s, value)
		b.sigma[v.Name] = s
	}
	return b, nil
}

func fill(m *mat.Dense, v float64) {
	raw := m.RawMatrix().Data
	for i := range raw {
		raw[i] = v
	}
}

// Sigma returns a copy of the standard deviation of the named variable.
func (b *Block) Sigma(name string) (*mat.Dense, bool) {
	s, ok := b.sigma[name]
	if !ok {
		return nil, false
	}
	return mat.DenseCopyOf(s), true
}

func (b *Block) apply(fset *field.FieldSet, op string, inverse bool) error {
	fields, err := b.Fields(fset, b.active.Names()...)
	if err != nil {
		return block.Wrap(b.Name(), op, err)
	}
	for _, f := range fields {
		m := f.Matrix()
		if inverse {
			m.DivElem(m, b.sigma[f.Name()])
		} else {
			m.MulElem(m, b.sigma[f.Name()])
		}
	}
	return nil
}

func (b *Block) Multiply(fset *field.FieldSet) error { return b.apply(fset, "multiply", false) }

func (b *Block) MultiplyAD(fset *field.FieldSet) error { return b.apply(fset, "multiplyAD", false) }

func (b *Block) LeftInverseMultiply(fset *field.FieldSet) error {
	return b.apply(fset, "leftInverseMultiply", true)
}

func (b *Block) LeftInverseMultiplyAD(fset *field.FieldSet) error {
	return b.apply(fset, "leftInverseMultiplyAD", true)
}

// DirectCalibration sets each standard deviation to the ensemble spread,
// floored at the hyperparameter minimum (default 1e-6).
func (b *Block) DirectCalibration(_ context.Context, ensemble []*field.FieldSet) error {
	if len(ensemble) < 2 {
		return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("%w: need at least two members, got %d", block.ErrMissingInput, len(ensemble)))
	}
	minimum, err := b.Config().Hyperparameters().Float("minimum", 1e-6)
	if err != nil {
		return block.Wrap(b.Name(), "directCalibration", err)
	}
	sample := make([]float64, len(ensemble))
	for _, v := range b.active.Slice() {
		members, err := field.MemberFields(ensemble, v)
		if err != nil {
			return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("%w: %w", block.ErrMissingInput, err))
		}
		s := mat.NewDense(members[0].Points(), v.Levels, nil)
		for p := 0; p < members[0].Points(); p++ {
			for l := 0; l < v.Levels; l++ {
				for i, f := range members {
					sample[i] = f.At(p, l)
				}
				s.Set(p, l, math.Max(stat.StdDev(sample, nil), minimum))
			}
		}
		b.sigma[v.Name] = s
	}
	b.Logger().Info("standard deviations calibrated")
	return nil
}

func (b *Block) Read(ctx context.Context, store block.StatisticsStore) error {
	for _, v := range b.active.Slice() {
		key := b.Config().ReadKey(Statistic + "/" + v.Name)
		m, err := store.ReadArray(ctx, key)
		if err != nil {
			return block.Wrap(b.Name(), "read", fmt.Errorf("%s: %w", key, err))
		}
		want := b.sigma[v.Name]
		if !sameDims(m, want) {
			return block.Wrap(b.Name(), "read", fmt.Errorf("%w: %s has wrong shape", field.ErrIncompatibleVariables, key))
		}
		for _, x := range m.RawMatrix().Data {
			if x <= 0 {
				return block.Wrap(b.Name(), "read", fmt.Errorf("%w: %s holds non-positive values", block.ErrInvalidConfiguration, key))
			}
		}
		b.sigma[v.Name] = m
	}
	return nil
}

func (b *Block) Write(ctx context.Context, store block.StatisticsStore) error {
	for _, v := range b.active.Slice() {
		key := b.Config().WriteKey(Statistic + "/" + v.Name)
		if err := store.WriteArray(ctx, key, b.sigma[v.Name]); err != nil {
			return block.Wrap(b.Name(), "write", fmt.Errorf("%s: %w", key, err))
		}
	}
	return nil
}

func sameDims(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}
