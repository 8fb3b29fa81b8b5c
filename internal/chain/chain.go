// Package chain composes blocks into one operator from control to model variables.
package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"opchain/internal/metrics"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Option customises a chain.
type Option func(*Chain)

// WithLogger sets the logger handed to the chain and its blocks.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the recorder that observes every block operation.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Chain) {
		if r != nil {
			c.metrics = r
		}
	}
}

// Chain is an innermost-first sequence of blocks. Multiply runs inner to
// outer and MultiplyAD runs outer to inner, so the composition is an exact
// adjoint whenever every block is.
type Chain struct {
	stages  []block.Stage
	blocks  []block.Block
	geom    geometry.Geometry
	logger  *zap.Logger
	metrics metrics.Recorder
}

// Build plans the whole chain from cfgs (innermost first) so that its
// outermost block produces outer, and only then constructs the blocks.
// Conflicting lifecycles, unknown types and unsatisfiable variable sets all
// fail before any block exists.
func Build(reg *block.Registry, geom geometry.Geometry, outer field.Variables, cfgs []block.Config,
	background, firstGuess *field.FieldSet, opts ...Option) (*Chain, error) {
	c := &Chain{geom: geom, logger: zap.NewNop(), metrics: metrics.Noop{}}
	for _, opt := range opts {
		opt(c)
	}
	stages, err := reg.Plan(outer, cfgs)
	if err != nil {
		return nil, fmt.Errorf("plan chain: %w", err)
	}
	blocks, err := reg.Build(stages, block.Params{
		Geometry:   geom,
		Background: background,
		FirstGuess: firstGuess,
		Registry:   reg,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build chain: %w", err)
	}
	c.stages, c.blocks = stages, blocks
	c.logger.Info("chain built",
		zap.Int("blocks", len(blocks)),
		zap.Strings("control", c.InnerVars().Names()),
		zap.Strings("model", c.OuterVars().Names()))
	return c, nil
}

// Name identifies the chain in reports.
func (c *Chain) Name() string { return "chain" }

// Geometry returns the geometry the chain was built on.
func (c *Chain) Geometry() geometry.Geometry { return c.geom }

// InnerVars returns the control variables.
func (c *Chain) InnerVars() field.Variables { return c.stages[0].Inner }

// OuterVars returns the model variables.
func (c *Chain) OuterVars() field.Variables { return c.stages[len(c.stages)-1].Outer }

// Blocks returns the blocks, innermost first.
func (c *Chain) Blocks() []block.Block { return append([]block.Block(nil), c.blocks...) }

// Stages returns the planned stages, innermost first.
func (c *Chain) Stages() []block.Stage { return append([]block.Stage(nil), c.stages...) }

func (c *Chain) observe(b block.Block, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.ObserveOperation(b.Name(), op, err, time.Since(start))
	return err
}

// Multiply applies every block forward, innermost first.
func (c *Chain) Multiply(fset *field.FieldSet) error {
	for _, b := range c.blocks {
		if err := c.observe(b, "multiply", func() error { return b.Multiply(fset) }); err != nil {
			return err
		}
	}
	return nil
}

// MultiplyAD applies every adjoint, outermost first.
func (c *Chain) MultiplyAD(fset *field.FieldSet) error {
	for i := len(c.blocks) - 1; i >= 0; i-- {
		b := c.blocks[i]
		if err := c.observe(b, "multiplyAD", func() error { return b.MultiplyAD(fset) }); err != nil {
			return err
		}
	}
	return nil
}

// LeftInverseMultiply applies every left inverse, outermost first. fset is
// only modified when every block succeeds.
func (c *Chain) LeftInverseMultiply(fset *field.FieldSet) error {
	work := fset.Clone()
	for i := len(c.blocks) - 1; i >= 0; i-- {
		b := c.blocks[i]
		if err := c.observe(b, "leftInverseMultiply", func() error { return b.LeftInverseMultiply(work) }); err != nil {
			return err
		}
	}
	fset.ReplaceWith(work)
	return nil
}

// LeftInverseMultiplyAD inverts the chain adjoint, innermost first. Every
// block must implement block.AdjointInverter.
func (c *Chain) LeftInverseMultiplyAD(fset *field.FieldSet) error {
	work := fset.Clone()
	for _, b := range c.blocks {
		inv, ok := b.(block.AdjointInverter)
		if !ok {
			return block.Wrap(b.Name(), "leftInverseMultiplyAD", block.ErrNotImplemented)
		}
		if err := c.observe(b, "leftInverseMultiplyAD", func() error { return inv.LeftInverseMultiplyAD(work) }); err != nil {
			return err
		}
	}
	fset.ReplaceWith(work)
	return nil
}

// Read loads the statistics of every block, innermost first.
func (c *Chain) Read(ctx context.Context, store block.StatisticsStore) error {
	for _, b := range c.blocks {
		if err := c.observe(b, "read", func() error { return b.Read(ctx, store) }); err != nil {
			return err
		}
	}
	return nil
}

// Write persists the statistics of every block, innermost first.
func (c *Chain) Write(ctx context.Context, store block.StatisticsStore) error {
	for _, b := range c.blocks {
		if err := c.observe(b, "write", func() error { return b.Write(ctx, store) }); err != nil {
			return err
		}
	}
	return nil
}

// DirectCalibration calibrates every block from the same ensemble, innermost first.
func (c *Chain) DirectCalibration(ctx context.Context, ensemble []*field.FieldSet) error {
	for _, b := range c.blocks {
		if err := c.observe(b, "directCalibration", func() error { return b.DirectCalibration(ctx, ensemble) }); err != nil {
			return err
		}
	}
	return nil
}

// Observe times fn as operation op of b with the chain's recorder.
func (c *Chain) Observe(b block.Block, op string, fn func() error) error { return c.observe(b, op, fn) }

// Logger returns the chain logger.
func (c *Chain) Logger() *zap.Logger { return c.logger }
