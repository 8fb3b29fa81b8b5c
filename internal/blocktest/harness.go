// Package blocktest checks that block adjoints are exact transposes and that
// left inverses recover their inputs, for single blocks and whole chains.
package blocktest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"opchain/internal/chain"
	"opchain/internal/metrics"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Default tolerances.
const (
	DefaultAdjointTolerance = 1e-12
	DefaultInverseTolerance = 1e-12
)

// Operator is the part of a block or chain the harness exercises.
type Operator interface {
	Name() string
	InnerVars() field.Variables
	OuterVars() field.Variables
	Multiply(fset *field.FieldSet) error
	MultiplyAD(fset *field.FieldSet) error
	LeftInverseMultiply(fset *field.FieldSet) error
}

// Config selects the tests and their tolerances.
type Config struct {
	Adjoint          bool    `yaml:"adjoint"`
	Inverse          bool    `yaml:"inverse"`
	Blocks           bool    `yaml:"blocks"`
	Chain            bool    `yaml:"chain"`
	AdjointTolerance float64 `yaml:"adjoint_tolerance"`
	InverseTolerance float64 `yaml:"inverse_tolerance"`
	Seed             uint64  `yaml:"seed"`
	Trials           int     `yaml:"trials"`
}

// DefaultConfig enables every test with the default tolerances.
func DefaultConfig() Config {
	return Config{
		Adjoint:          true,
		Inverse:          true,
		Blocks:           true,
		Chain:            true,
		AdjointTolerance: DefaultAdjointTolerance,
		InverseTolerance: DefaultInverseTolerance,
		Seed:             1,
		Trials:           1,
	}
}

func (c Config) withDefaults() Config {
	if c.AdjointTolerance <= 0 {
		c.AdjointTolerance = DefaultAdjointTolerance
	}
	if c.InverseTolerance <= 0 {
		c.InverseTolerance = DefaultInverseTolerance
	}
	if c.Trials <= 0 {
		c.Trials = 1
	}
	return c
}

// Option customises a Harness.
type Option func(*Harness)

// WithLogger sets the logger results are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records every result with r.
func WithMetrics(r metrics.Recorder) Option {
	return func(h *Harness) {
		if r != nil {
			h.metrics = r
		}
	}
}

// WithComm sets the reduction used for global dot products.
func WithComm(c Comm) Option {
	return func(h *Harness) {
		if c != nil {
			h.comm = c
		}
	}
}

// Harness runs the self-tests on one geometry with a seeded generator.
type Harness struct {
	geom    geometry.Geometry
	cfg     Config
	comm    Comm
	rng     *rand.Rand
	logger  *zap.Logger
	metrics metrics.Recorder
}

// New returns a harness drawing random fields on geom.
func New(geom geometry.Geometry, cfg Config, opts ...Option) *Harness {
	cfg = cfg.withDefaults()
	h := &Harness{
		geom:    geom,
		cfg:     cfg,
		comm:    Serial{},
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		logger:  zap.NewNop(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config returns the effective configuration.
func (h *Harness) Config() Config { return h.cfg }

// RandomFieldSet allocates vars and fills them with standard normal values.
func (h *Harness) RandomFieldSet(vars field.Variables) (*field.FieldSet, error) {
	fset := field.NewFieldSet(time.Time{})
	if _, err := geometry.Allocate(h.geom, fset, vars); err != nil {
		return nil, err
	}
	for _, name := range fset.Names() {
		f, _ := fset.Get(name)
		vals := f.Values()
		for i := range vals {
			vals[i] = h.rng.NormFloat64()
		}
	}
	return fset, nil
}

func (h *Harness) dot(a, b *field.FieldSet, vars field.Variables) (float64, error) {
	local, err := a.Dot(b, vars)
	if err != nil {
		return 0, err
	}
	return h.comm.AllReduceSum([]float64{local})[0], nil
}

func (h *Harness) norm(a *field.FieldSet, vars field.Variables) (float64, error) {
	local, err := a.SumSquares(vars)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(h.comm.AllReduceSum([]float64{local})[0]), nil
}

// AdjointStatistic returns 0.5·|dp1−dp2| / |dp1+dp2|. Two zero products give
// zero; a zero sum with differing products gives +Inf.
func AdjointStatistic(dp1, dp2 float64) float64 {
	diff := math.Abs(dp1 - dp2)
	sum := math.Abs(dp1 + dp2)
	if sum == 0 {
		if diff == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return 0.5 * diff / sum
}

// AdjointTest compares ⟨Ax, y⟩ with ⟨x, Aᵀy⟩ for random x and y.
func (h *Harness) AdjointTest(op Operator) Result {
	values := make([]float64, 0, h.cfg.Trials)
	for range h.cfg.Trials {
		x, err := h.RandomFieldSet(op.InnerVars())
		if err != nil {
			return h.record(op, KindAdjoint, errorResult(op, KindAdjoint, h.cfg.AdjointTolerance, err))
		}
		y, err := h.RandomFieldSet(op.OuterVars())
		if err != nil {
			return h.record(op, KindAdjoint, errorResult(op, KindAdjoint, h.cfg.AdjointTolerance, err))
		}
		stat, err := h.adjointStatistic(op, x, y)
		if err != nil {
			return h.record(op, KindAdjoint, errorResult(op, KindAdjoint, h.cfg.AdjointTolerance, err))
		}
		values = append(values, stat)
	}
	return h.record(op, KindAdjoint, h.summarise(op, KindAdjoint, h.cfg.AdjointTolerance, values))
}

// AdjointTestWith runs one adjoint trial with caller-supplied x (inner) and y (outer).
func (h *Harness) AdjointTestWith(op Operator, x, y *field.FieldSet) Result {
	stat, err := h.adjointStatistic(op, x, y)
	if err != nil {
		return h.record(op, KindAdjoint, errorResult(op, KindAdjoint, h.cfg.AdjointTolerance, err))
	}
	return h.record(op, KindAdjoint, h.summarise(op, KindAdjoint, h.cfg.AdjointTolerance, []float64{stat}))
}

func (h *Harness) adjointStatistic(op Operator, x, y *field.FieldSet) (float64, error) {
	ax := x.Clone()
	if err := op.Multiply(ax); err != nil {
		return 0, fmt.Errorf("multiply: %w", err)
	}
	aty := y.Clone()
	if err := op.MultiplyAD(aty); err != nil {
		return 0, fmt.Errorf("multiplyAD: %w", err)
	}
	dp1, err := h.dot(ax, y, op.OuterVars())
	if err != nil {
		return 0, err
	}
	dp2, err := h.dot(x, aty, op.InnerVars())
	if err != nil {
		return 0, err
	}
	stat := AdjointStatistic(dp1, dp2)
	h.logger.Debug("adjoint trial", zap.String("operator", op.Name()),
		zap.Float64("ax_y", dp1), zap.Float64("x_aty", dp2), zap.Float64("statistic", stat))
	return stat, nil
}

// InverseTest checks ‖L(Ax) − x‖/‖x‖ and, when op provides one,
// ‖Lᵀ(Aᵀy) − y‖/‖y‖. Operators without a left inverse are skipped.
func (h *Harness) InverseTest(op Operator) []Result {
	tol := h.cfg.InverseTolerance
	var r1, r2 []float64
	r2Status := Status("")
	var r2Err error
	for range h.cfg.Trials {
		x, err := h.RandomFieldSet(op.InnerVars())
		if err != nil {
			return h.recordAll(op, errorResult(op, KindInverse, tol, err), errorResult(op, KindInverseAdjoint, tol, err))
		}
		v, err := h.inverseResidual(op, x)
		switch {
		case errors.Is(err, block.ErrNotInvertible):
			detail := err.Error()
			return h.recordAll(op,
				Result{Block: op.Name(), Test: KindInverse, Status: StatusSkipped, Tolerance: tol, Detail: detail},
				Result{Block: op.Name(), Test: KindInverseAdjoint, Status: StatusSkipped, Tolerance: tol, Detail: detail})
		case err != nil:
			return h.recordAll(op, errorResult(op, KindInverse, tol, err), errorResult(op, KindInverseAdjoint, tol, err))
		}
		r1 = append(r1, v)

		if r2Status != "" {
			continue
		}
		y, err := h.RandomFieldSet(op.OuterVars())
		if err != nil {
			r2Status, r2Err = StatusError, err
			continue
		}
		w, err := h.inverseAdjointResidual(op, y)
		switch {
		case errors.Is(err, block.ErrNotImplemented):
			r2Status, r2Err = StatusNotImplemented, err
		case errors.Is(err, block.ErrNotInvertible):
			r2Status, r2Err = StatusSkipped, err
		case err != nil:
			r2Status, r2Err = StatusError, err
		default:
			r2 = append(r2, w)
		}
	}
	first := h.summarise(op, KindInverse, tol, r1)
	var second Result
	if r2Status != "" {
		second = Result{Block: op.Name(), Test: KindInverseAdjoint, Status: r2Status, Tolerance: tol, Detail: r2Err.Error()}
	} else {
		second = h.summarise(op, KindInverseAdjoint, tol, r2)
	}
	return h.recordAll(op, first, second)
}

func (h *Harness) inverseResidual(op Operator, x *field.FieldSet) (float64, error) {
	work := x.Clone()
	if err := op.Multiply(work); err != nil {
		return 0, fmt.Errorf("multiply: %w", err)
	}
	if err := op.LeftInverseMultiply(work); err != nil {
		return 0, err
	}
	return h.relative(work, x, op.InnerVars())
}

func (h *Harness) inverseAdjointResidual(op Operator, y *field.FieldSet) (float64, error) {
	inv, ok := op.(block.AdjointInverter)
	if !ok {
		return 0, block.Wrap(op.Name(), "leftInverseMultiplyAD", block.ErrNotImplemented)
	}
	work := y.Clone()
	if err := op.MultiplyAD(work); err != nil {
		return 0, fmt.Errorf("multiplyAD: %w", err)
	}
	if err := inv.LeftInverseMultiplyAD(work); err != nil {
		return 0, err
	}
	return h.relative(work, y, op.OuterVars())
}

// relative returns ‖got − want‖/‖want‖ over vars; got is consumed.
func (h *Harness) relative(got, want *field.FieldSet, vars field.Variables) (float64, error) {
	diff, err := got.Subset(vars)
	if err != nil {
		return 0, err
	}
	ref, err := want.Subset(vars)
	if err != nil {
		return 0, err
	}
	if err := diff.Sub(ref); err != nil {
		return 0, err
	}
	num, err := h.norm(diff, vars)
	if err != nil {
		return 0, err
	}
	den, err := h.norm(ref, vars)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		if num == 0 {
			return 0, nil
		}
		return math.Inf(1), nil
	}
	return num / den, nil
}

func (h *Harness) summarise(op Operator, kind Kind, tol float64, values []float64) Result {
	res := Result{Block: op.Name(), Test: kind, Tolerance: tol, Trials: len(values)}
	worst, err := stats.Max(values)
	if err != nil {
		res.Status, res.Detail = StatusError, err.Error()
		return res
	}
	res.Statistic = worst
	if len(values) > 1 {
		mean, _ := stats.Mean(values)
		res.Detail = fmt.Sprintf("mean %.3e over %d trials", mean, len(values))
	}
	if worst < tol {
		res.Status = StatusPassed
	} else {
		res.Status = StatusFailed
	}
	return res
}

func errorResult(op Operator, kind Kind, tol float64, err error) Result {
	return Result{Block: op.Name(), Test: kind, Status: StatusError, Tolerance: tol, Detail: err.Error()}
}

func (h *Harness) record(op Operator, kind Kind, res Result) Result {
	h.metrics.ObserveTest(op.Name(), string(kind), string(res.Status), res.Statistic)
	fields := []zap.Field{
		zap.String("operator", op.Name()),
		zap.String("test", string(kind)),
		zap.String("status", string(res.Status)),
		zap.Float64("statistic", res.Statistic),
		zap.Float64("tolerance", res.Tolerance),
	}
	switch res.Status {
	case StatusFailed, StatusError:
		h.logger.Warn("self-test "+string(res.Status), append(fields, zap.String("detail", res.Detail))...)
	default:
		h.logger.Info("self-test "+string(res.Status), fields...)
	}
	return res
}

func (h *Harness) recordAll(op Operator, results ...Result) []Result {
	for i, res := range results {
		results[i] = h.record(op, res.Test, res)
	}
	return results
}

// Test runs the enabled tests on a single operator.
func (h *Harness) Test(op Operator) []Result {
	var out []Result
	if h.cfg.Adjoint {
		out = append(out, h.AdjointTest(op))
	}
	if h.cfg.Inverse {
		out = append(out, h.InverseTest(op)...)
	}
	return out
}

// Run tests every block of ch and then ch itself, as enabled by the config.
func (h *Harness) Run(ch *chain.Chain) Report {
	rep := Report{RunID: uuid.NewString(), Started: time.Now().UTC()}
	h.logger.Info("self-test run started", zap.String("run_id", rep.RunID), zap.Int("blocks", len(ch.Blocks())))
	if h.cfg.Blocks {
		for _, b := range ch.Blocks() {
			rep.Results = append(rep.Results, h.Test(b)...)
		}
	}
	if h.cfg.Chain {
		rep.Results = append(rep.Results, h.Test(ch)...)
	}
	rep.Finished = time.Now().UTC()
	h.logger.Info("self-test run finished", zap.String("run_id", rep.RunID), zap.Bool("failed", rep.Failed()))
	return rep
}
