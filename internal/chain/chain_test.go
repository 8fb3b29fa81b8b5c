package chain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opchain/internal/chain"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/plugins/alias"
	"opchain/plugins/stddev"
	"opchain/plugins/wind"
	"opchain/testutil"
)

type passBlock struct{ block.Base }

func (b *passBlock) Multiply(*field.FieldSet) error { return nil }
func (b *passBlock) MultiplyAD(*field.FieldSet) error { return nil }

func spyRegistry(calls *int) *block.Registry {
	r := block.NewRegistry()
	newPass := func(p block.Params) (block.Block, error) {
		*calls++
		return &passBlock{Base: block.NewBase(p, p.OuterVars)}, nil
	}
	r.MustRegister(block.Registration{
		Type: "NeedsHumidity",
		InnerVars: func(outer field.Variables, _ block.Config) (field.Variables, error) {
			if _, err := block.RequireOuter(outer, "specific_humidity"); err != nil {
				return field.Variables{}, err
			}
			return outer, nil
		},
		New: newPass,
	})
	r.MustRegister(block.Registration{
		Type:      "Identity",
		InnerVars: func(outer field.Variables, _ block.Config) (field.Variables, error) { return outer, nil },
		New:       newPass,
	})
	return r
}

func TestUnsatisfiableChainFailsBeforeConstruction(t *testing.T) {
	var calls int
	reg := spyRegistry(&calls)
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 1, field.AirTemperature)
	_, err := chain.Build(reg, geom, outer, []block.Config{
		{Type: "NeedsHumidity"}, {Type: "Identity"}, {Type: "Identity", ID: "last"},
	}, nil, nil)
	require.ErrorIs(t, err, block.ErrMissingInput)
	assert.Zero(t, calls, "no block may be constructed")
}

func TestConflictAnywhereFailsBeforeConstruction(t *testing.T) {
	var calls int
	reg := spyRegistry(&calls)
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 1, field.AirTemperature)
	_, err := chain.Build(reg, geom, outer, []block.Config{
		{Type: "Identity"},
		{Type: "Identity", ID: "b", Read: &block.ReadConfig{}, Calibration: &block.CalibrationConfig{}},
		{Type: "Identity", ID: "c"},
	}, nil, nil)
	require.ErrorIs(t, err, block.ErrConflictingConfiguration)
	assert.Zero(t, calls)
}

func TestVariableFlow(t *testing.T) {
	geom := testutil.Grid(t, 4, 4)
	outer := testutil.Vars(t, 2, field.EastwardWind, field.NorthwardWind, field.AirPressure)
	ch := testutil.Chain(t, geom, outer,
		block.Config{Type: wind.Type},
		block.Config{Type: stddev.Type, Options: block.Options{"variables": []any{field.EastwardWind, field.NorthwardWind}}},
		block.Config{Type: alias.Type},
	)
	assert.ElementsMatch(t, []string{field.StreamFunction, field.VelocityPotential, field.HydrostaticPressure}, ch.InnerVars().Names())
	assert.True(t, ch.OuterVars().Equal(outer))
	stages := ch.Stages()
	require.Len(t, stages, 3)
	assert.True(t, stages[0].Outer.Equal(stages[1].Inner))
	assert.True(t, stages[1].Outer.Equal(stages[2].Inner))

	x := testutil.Fill(t, geom, ch.InnerVars(), func(string, int, int) float64 { return 1 })
	require.NoError(t, ch.Multiply(x))
	assert.True(t, x.Variables().Equal(outer), "got %v", x.Variables())
	require.NoError(t, ch.MultiplyAD(x))
	assert.True(t, x.Variables().Equal(ch.InnerVars()), "got %v", x.Variables())
}

func TestLeftInverseFailureLeavesInput(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 1, field.EastwardWind, field.NorthwardWind)
	ch := testutil.Chain(t, geom, outer, block.Config{Type: wind.Type}, block.Config{Type: stddev.Type, Options: block.Options{"value": 2}})
	y := testutil.Fill(t, geom, outer, func(string, int, int) float64 { return 4 })
	err := ch.LeftInverseMultiply(y)
	require.ErrorIs(t, err, block.ErrNotInvertible)
	u, _ := y.Get(field.EastwardWind)
	assert.Equal(t, 4.0, u.At(0, 0), "stddev inverse must not leak into the input")

	err = ch.LeftInverseMultiplyAD(y)
	require.ErrorIs(t, err, block.ErrNotImplemented)
}

type recorder struct {
	ops []string
}

func (r *recorder) ObserveOperation(blockName, op string, _ error, _ time.Duration) {
	r.ops = append(r.ops, blockName+"."+op)
}
func (r *recorder) ObserveTest(string, string, string, float64) {}

func TestOperationOrderIsObserved(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 1, field.AirPressure)
	rec := &recorder{}
	reg := testutil.Registry(t)
	ch, err := chain.Build(reg, geom, outer, []block.Config{
		{Type: alias.Type},
		{Type: stddev.Type},
	}, nil, nil, chain.WithMetrics(rec))
	require.NoError(t, err)
	x := testutil.Fill(t, geom, ch.InnerVars(), func(string, int, int) float64 { return 1 })
	require.NoError(t, ch.Multiply(x))
	require.NoError(t, ch.MultiplyAD(x))
	require.NoError(t, ch.Multiply(x))
	require.NoError(t, ch.LeftInverseMultiply(x))
	assert.Equal(t, []string{
		"FieldCopy.multiply", "StdDev.multiply",
		"StdDev.multiplyAD", "FieldCopy.multiplyAD",
		"FieldCopy.multiply", "StdDev.multiply",
		"StdDev.leftInverseMultiply", "FieldCopy.leftInverseMultiply",
	}, rec.ops)
}
