package pressure_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"opchain/internal/blocktest"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
	"opchain/plugins/pressure"
	"opchain/testutil"
)

func compositeOuter(t *testing.T, levels int) field.Variables {
	return testutil.Vars(t, levels, field.EastwardWind, field.NorthwardWind, field.HydrostaticPressure)
}

func TestCompositeInnerVars(t *testing.T) {
	inner, err := pressure.CompositeInnerVars(compositeOuter(t, 3), block.Config{Type: pressure.CompositeType})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{field.EastwardWind, field.NorthwardWind, field.UnbalancedPressure}, inner.Names())
}

func TestCompositeRequiresOuterWinds(t *testing.T) {
	for _, outer := range []field.Variables{
		testutil.Vars(t, 2, field.HydrostaticPressure),
		testutil.Vars(t, 2, field.EastwardWind, field.HydrostaticPressure),
	} {
		_, err := pressure.CompositeInnerVars(outer, block.Config{Type: pressure.CompositeType})
		require.ErrorIs(t, err, block.ErrMissingInput, "outer %v", outer)
	}
}

func TestGeostrophicInnerVarsRejectsMismatchedWinds(t *testing.T) {
	outer := field.MustVariables(
		field.Variable{Name: field.GeostrophicPressure, Levels: 2},
		field.Variable{Name: field.EastwardWind, Levels: 3},
	)
	_, err := pressure.GeostrophicInnerVars(outer, block.Config{Type: pressure.GeostrophicType})
	require.ErrorIs(t, err, field.ErrIncompatibleVariables)
}

func TestCompositeSelfTests(t *testing.T) {
	geom := testutil.Grid(t, 6, 6)
	ch := testutil.Chain(t, geom, compositeOuter(t, 3), block.Config{Type: pressure.CompositeType})
	cfg := blocktest.DefaultConfig()
	cfg.Trials = 2
	rep := blocktest.New(geom, cfg).Run(ch)
	for _, name := range []string{pressure.CompositeType, "chain"} {
		for _, kind := range []blocktest.Kind{blocktest.KindAdjoint, blocktest.KindInverse, blocktest.KindInverseAdjoint} {
			res, ok := rep.Find(name, kind)
			require.True(t, ok, "%s %s missing", name, kind)
			require.Equal(t, blocktest.StatusPassed, res.Status, "%s %s: %+v", name, kind, res)
		}
	}
}

func TestGeostrophicAdjoint(t *testing.T) {
	geom := testutil.Grid(t, 5, 7)
	outer := testutil.Vars(t, 2, field.GeostrophicPressure)
	ch := testutil.Chain(t, geom, outer, block.Config{Type: pressure.GeostrophicType, Options: block.Options{"coriolis": 1.4e-4}})
	res := blocktest.New(geom, blocktest.DefaultConfig()).AdjointTest(ch)
	require.Equal(t, blocktest.StatusPassed, res.Status, "%+v", res)
}

func TestHydrostaticInverseNeedsGeostrophicPressure(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 2, field.HydrostaticPressure)
	ch := testutil.Chain(t, geom, outer, block.Config{Type: pressure.HydrostaticType})
	hp := testutil.Fill(t, geom, outer, func(string, int, int) float64 { return 1 })
	err := ch.Blocks()[0].LeftInverseMultiply(hp)
	require.ErrorIs(t, err, block.ErrMissingInput)
	require.ErrorContains(t, err, pressure.CompositeType)
	require.True(t, hp.Has(field.HydrostaticPressure))

	rep := blocktest.New(geom, blocktest.DefaultConfig()).Run(ch)
	res, _ := rep.Find(pressure.HydrostaticType, blocktest.KindInverse)
	require.Equal(t, blocktest.StatusError, res.Status)
}

func regressionEnsemble(t *testing.T, geom geometry.Geometry, levels, members int, b *mat.Dense) []*field.FieldSet {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	gv := field.Variable{Name: field.GeostrophicPressure, Levels: levels}
	hv := field.Variable{Name: field.HydrostaticPressure, Levels: levels}
	out := make([]*field.FieldSet, members)
	for i := range out {
		gp, err := geom.CreateField(gv)
		require.NoError(t, err)
		for k := range gp.Values() {
			gp.Values()[k] = rng.NormFloat64()
		}
		hp, err := geom.CreateField(hv)
		require.NoError(t, err)
		hp.Matrix().Mul(gp.Matrix(), b)
		fset := field.NewFieldSet(testutil.ValidTime)
		require.NoError(t, fset.Add(gp))
		require.NoError(t, fset.Add(hp))
		out[i] = fset
	}
	return out
}

func TestHydrostaticCalibrationRecoversRegression(t *testing.T) {
	geom := testutil.Grid(t, 4, 4)
	outer := testutil.Vars(t, 2, field.HydrostaticPressure)
	cfg := block.Config{Type: pressure.HydrostaticType, Calibration: &block.CalibrationConfig{}}
	ch := testutil.Chain(t, geom, outer, cfg)
	truth := mat.NewDense(2, 2, []float64{0.9, 0.2, -0.1, 1.3})

	err := ch.DirectCalibration(context.Background(), regressionEnsemble(t, geom, 2, 6, truth))
	require.NoError(t, err)
	got := ch.Blocks()[0].(*pressure.Hydrostatic).Regression()
	require.True(t, mat.EqualApprox(got, truth, 1e-9), "regression\n%v", mat.Formatted(got))
}

func TestHydrostaticCalibrationNeedsMembers(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 2, field.HydrostaticPressure)
	ch := testutil.Chain(t, geom, outer, block.Config{Type: pressure.HydrostaticType, Calibration: &block.CalibrationConfig{}})
	err := ch.DirectCalibration(context.Background(), regressionEnsemble(t, geom, 2, 1, mat.NewDense(2, 2, []float64{1, 0, 0, 1})))
	require.ErrorIs(t, err, block.ErrMissingInput)
}

func TestRegressionReadWrite(t *testing.T) {
	ctx := context.Background()
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 2, field.HydrostaticPressure)
	store := testutil.NewMapStore()
	truth := mat.NewDense(2, 2, []float64{2, 0, 0.5, 1})

	writer := testutil.Chain(t, geom, outer, block.Config{
		Type:        pressure.HydrostaticType,
		ID:          "hp",
		Calibration: &block.CalibrationConfig{Write: &block.WriteConfig{Prefix: "stats"}},
	})
	require.NoError(t, writer.DirectCalibration(ctx, regressionEnsemble(t, geom, 2, 4, truth)))
	require.NoError(t, writer.Write(ctx, store))
	require.Equal(t, []string{"stats/hp/" + pressure.RegressionStatistic}, store.Keys())

	reader := testutil.Chain(t, geom, outer, block.Config{
		Type: pressure.HydrostaticType,
		ID:   "hp",
		Read: &block.ReadConfig{Prefix: "stats"},
	})
	require.NoError(t, reader.Read(ctx, store))
	got := reader.Blocks()[0].(*pressure.Hydrostatic).Regression()
	require.True(t, mat.EqualApprox(got, truth, 1e-9))

	wrongLevels := testutil.Chain(t, geom, testutil.Vars(t, 3, field.HydrostaticPressure), block.Config{
		Type: pressure.HydrostaticType,
		ID:   "hp",
		Read: &block.ReadConfig{Prefix: "stats"},
	})
	require.ErrorIs(t, wrongLevels.Read(ctx, store), field.ErrIncompatibleVariables)
}

func TestCompositeCalibrationDiagnosesGeostrophicPressure(t *testing.T) {
	geom := testutil.Grid(t, 5, 5)
	outer := compositeOuter(t, 2)
	ch := testutil.Chain(t, geom, outer, block.Config{Type: pressure.CompositeType, Calibration: &block.CalibrationConfig{}})
	comp := ch.Blocks()[0].(*pressure.Composite)

	h := blocktest.New(geom, blocktest.Config{Seed: 3})
	truth := mat.NewDense(2, 2, []float64{1.1, 0, 0.3, 0.8})
	members := make([]*field.FieldSet, 6)
	for i := range members {
		x, err := h.RandomFieldSet(ch.InnerVars())
		require.NoError(t, err)
		// Build hp = gp·truth by running the forward with the truth regression.
		gp := x.Clone()
		require.NoError(t, testutil.Chain(t, geom, testutil.Vars(t, 2, field.GeostrophicPressure),
			block.Config{Type: pressure.GeostrophicType}).Multiply(gp))
		g, _ := gp.Get(field.GeostrophicPressure)
		hv, _ := outer.Get(field.HydrostaticPressure)
		hp, err := geom.CreateField(hv)
		require.NoError(t, err)
		hp.Matrix().Mul(g.Matrix(), truth)
		x.Put(hp)
		x.Remove(field.UnbalancedPressure)
		members[i] = x
	}
	require.NoError(t, ch.DirectCalibration(context.Background(), members))
	got := comp.Regression()
	require.True(t, mat.EqualApprox(got, truth, 1e-8), "regression\n%v", mat.Formatted(got))
	for _, m := range members {
		require.False(t, m.Has(field.GeostrophicPressure), "calibration must not modify members")
	}
}

func TestLeftInverseLeavesInputOnFailure(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	ch := testutil.Chain(t, geom, compositeOuter(t, 1), block.Config{Type: pressure.CompositeType})
	y := testutil.Fill(t, geom, testutil.Vars(t, 1, field.HydrostaticPressure), func(string, int, int) float64 { return 2 })
	err := ch.LeftInverseMultiply(y)
	require.True(t, errors.Is(err, block.ErrMissingInput), "got %v", err)
	require.Equal(t, []string{field.HydrostaticPressure}, y.Names())
}
