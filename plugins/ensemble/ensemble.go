// Package ensemble provides the Ensemble block: a vertical covariance model
// estimated from ensemble perturbations and applied through its Cholesky factor.
package ensemble

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"opchain/pkg/block"
	"opchain/pkg/field"
)

// Type is the registered block type name.
const Type = block.EnsembleType

// Statistic is the prefix of the persisted covariance matrices.
const Statistic = "vertical_covariance"

// Plugin registers the Ensemble block.
type Plugin struct{}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "ensemble" }

// Version returns the plugin version.
func (Plugin) Version() string { return "1.0.0" }

// Register adds the Ensemble block type.
func (Plugin) Register(r *block.Registry) error {
	return r.Register(block.Registration{Type: Type, InnerVars: InnerVars, New: New, Stateful: true})
}

// InnerVars returns outer unchanged; the block is square.
func InnerVars(outer field.Variables, cfg block.Config) (field.Variables, error) {
	if _, err := active(outer, cfg); err != nil {
		return field.Variables{}, err
	}
	return outer, nil
}

func active(outer field.Variables, cfg block.Config) (field.Variables, error) {
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

type factor struct {
	cov  *mat.SymDense
	l    *mat.TriDense
	linv *mat.TriDense
}

// Block applies, per active variable and column, the lower Cholesky factor L of
// the vertical covariance: forward X·Lᵀ, adjoint Y·L. Until calibrated L is the identity.
type Block struct {
	block.Base
	active  field.Variables
	factors map[string]factor
}

// New constructs an uncalibrated Ensemble block.
func New(p block.Params) (block.Block, error) {
	act, err := active(p.OuterVars, p.Config)
	if err != nil {
		return nil, err
	}
	b := &Block{Base: block.NewBase(p, p.OuterVars), active: act, factors: make(map[string]factor)}
	for _, v := range act.Slice() {
		id := mat.NewSymDense(v.Levels, nil)
		for l := 0; l < v.Levels; l++ {
			id.SetSym(l, l, 1)
		}
		f, err := factorize(id)
		if err != nil {
			return nil, err
		}
		b.factors[v.Name] = f
	}
	return b, nil
}

func factorize(cov *mat.SymDense) (factor, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return factor{}, fmt.Errorf("covariance is not positive definite")
	}
	var l mat.TriDense
	chol.LTo(&l)
	var linv mat.TriDense
	if err := linv.InverseTri(&l); err != nil {
		return factor{}, fmt.Errorf("invert cholesky factor: %w", err)
	}
	return factor{cov: cov, l: &l, linv: &linv}, nil
}

// Covariance returns a copy of the vertical covariance of the named variable.
func (b *Block) Covariance(name string) (*mat.SymDense, bool) {
	f, ok := b.factors[name]
	if !ok {
		return nil, false
	}
	n, _ := f.cov.Dims()
	out := mat.NewSymDense(n, nil)
	out.CopySym(f.cov)
	return out, true
}

// apply replaces each active field X with X·op(M), where M is picked from the factor.
func (b *Block) apply(fset *field.FieldSet, op string, pick func(factor) mat.Matrix) error {
	fields, err := b.Fields(fset, b.active.Names()...)
	if err != nil {
		return block.Wrap(b.Name(), op, err)
	}
	for _, f := range fields {
		var tmp mat.Dense
		tmp.Mul(f.Matrix(), pick(b.factors[f.Name()]))
		f.Matrix().Copy(&tmp)
	}
	return nil
}

func (b *Block) Multiply(fset *field.FieldSet) error {
	return b.apply(fset, "multiply", func(f factor) mat.Matrix { return f.l.T() })
}

func (b *Block) MultiplyAD(fset *field.FieldSet) error {
	return b.apply(fset, "multiplyAD", func(f factor) mat.Matrix { return f.l })
}

func (b *Block) LeftInverseMultiply(fset *field.FieldSet) error {
	return b.apply(fset, "leftInverseMultiply", func(f factor) mat.Matrix { return f.linv.T() })
}

func (b *Block) LeftInverseMultiplyAD(fset *field.FieldSet) error {
	return b.apply(fset, "leftInverseMultiplyAD", func(f factor) mat.Matrix { return f.linv })
}

// DirectCalibration estimates the vertical covariance of every active variable
// from member perturbations pooled over points. The diagonal is inflated by the
// hyperparameter regularization (default 1e-8) times the mean variance.
func (b *Block) DirectCalibration(_ context.Context, ensemble []*field.FieldSet) error {
	if len(ensemble) < 2 {
		return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("%w: need at least two members, got %d", block.ErrMissingInput, len(ensemble)))
	}
	eps, err := b.Config().Hyperparameters().Float("regularization", 1e-8)
	if err != nil {
		return block.Wrap(b.Name(), "directCalibration", err)
	}
	for _, v := range b.active.Slice() {
		perts, err := field.StackPerturbations(ensemble, v)
		if err != nil {
			return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("%w: %w", block.ErrMissingInput, err))
		}
		cov := mat.NewSymDense(v.Levels, nil)
		stat.CovarianceMatrix(cov, perts, nil)
		inflation := eps * mat.Trace(cov) / float64(v.Levels)
		if inflation == 0 {
			inflation = eps
		}
		for l := 0; l < v.Levels; l++ {
			cov.SetSym(l, l, cov.At(l, l)+inflation)
		}
		f, err := factorize(cov)
		if err != nil {
			return block.Wrap(b.Name(), "directCalibration", fmt.Errorf("%s: %w", v.Name, err))
		}
		b.factors[v.Name] = f
	}
	b.Logger().Info("vertical covariances calibrated", zap.Int("members", len(ensemble)))
	return nil
}

func (b *Block) Read(ctx context.Context, store block.StatisticsStore) error {
	for _, v := range b.active.Slice() {
		key := b.Config().ReadKey(Statistic + "/" + v.Name)
		m, err := store.ReadArray(ctx, key)
		if err != nil {
			return block.Wrap(b.Name(), "read", fmt.Errorf("%s: %w", key, err))
		}
		if r, c := m.Dims(); r != v.Levels || c != v.Levels {
			return block.Wrap(b.Name(), "read", fmt.Errorf("%w: %s is %dx%d", field.ErrIncompatibleVariables, key, r, c))
		}
		cov := mat.NewSymDense(v.Levels, nil)
		for i := 0; i < v.Levels; i++ {
			for j := i; j < v.Levels; j++ {
				cov.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
			}
		}
		f, err := factorize(cov)
		if err != nil {
			return block.Wrap(b.Name(), "read", fmt.Errorf("%s: %w", key, err))
		}
		b.factors[v.Name] = f
	}
	return nil
}

func (b *Block) Write(ctx context.Context, store block.StatisticsStore) error {
	for _, v := range b.active.Slice() {
		key := b.Config().WriteKey(Statistic + "/" + v.Name)
		if err := store.WriteArray(ctx, key, mat.DenseCopyOf(b.factors[v.Name].cov)); err != nil {
			return block.Wrap(b.Name(), "write", fmt.Errorf("%s: %w", key, err))
		}
	}
	return nil
}
