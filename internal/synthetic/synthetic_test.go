package synthetic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"opchain/internal/synthetic"
	"opchain/pkg/field"
	"opchain/testutil"
)

func TestBackgroundFollowsClimatology(t *testing.T) {
	geom := testutil.Grid(t, 8, 8)
	vars := testutil.Vars(t, 3, field.AirTemperature, field.EastwardWind)
	bg, err := synthetic.Background(geom, vars, synthetic.DefaultConfig())
	require.NoError(t, err)
	temp, _ := bg.Get(field.AirTemperature)
	for l := 0; l < 3; l++ {
		col := make([]float64, temp.Points())
		for p := range col {
			col[p] = temp.At(p, l)
		}
		assert.InDelta(t, 288-6.5*float64(l), stat.Mean(col, nil), 1e-9)
	}
	u, _ := bg.Get(field.EastwardWind)
	assert.Greater(t, floats.Max(u.Values()), 0.5)
}

func TestGeneratorIsReproducible(t *testing.T) {
	geom := testutil.Grid(t, 6, 6)
	vars := testutil.Vars(t, 2, field.AirTemperature)
	draw := func() []float64 {
		g, err := synthetic.NewGenerator(geom, synthetic.DefaultConfig())
		require.NoError(t, err)
		p, err := g.Perturbation(vars)
		require.NoError(t, err)
		f, _ := p.Get(field.AirTemperature)
		return append([]float64(nil), f.Values()...)
	}
	first, second := draw(), draw()
	assert.Equal(t, first, second)
	assert.NotZero(t, floats.Norm(first, 2))
}

func TestEnsembleMembersDifferFromBackground(t *testing.T) {
	geom := testutil.Grid(t, 6, 6)
	vars := testutil.Vars(t, 2, field.AirTemperature)
	cfg := synthetic.DefaultConfig()
	bg, err := synthetic.Background(geom, vars, cfg)
	require.NoError(t, err)
	g, err := synthetic.NewGenerator(geom, cfg)
	require.NoError(t, err)
	members, err := g.Ensemble(bg, 4)
	require.NoError(t, err)
	require.Len(t, members, 4)
	for _, m := range members {
		d := m.Clone()
		require.NoError(t, d.Sub(bg))
		ss, err := d.SumSquares(vars)
		require.NoError(t, err)
		assert.Greater(t, ss, 0.0)
	}
	_, err = g.Ensemble(bg, 1)
	assert.Error(t, err)
}

func TestBalancedWindsComeFromPotentials(t *testing.T) {
	geom := testutil.Grid(t, 8, 8)
	vars := testutil.Vars(t, 2, field.EastwardWind, field.NorthwardWind)
	cfg := synthetic.DefaultConfig()
	cfg.BalancedWinds = true
	g, err := synthetic.NewGenerator(geom, cfg)
	require.NoError(t, err)
	p, err := g.Perturbation(vars)
	require.NoError(t, err)
	u, _ := p.Get(field.EastwardWind)
	v, _ := p.Get(field.NorthwardWind)

	assert.NotZero(t, floats.Norm(u.Values(), 2))
	assert.NotZero(t, floats.Norm(v.Values(), 2))
	// centred differences on a periodic grid have zero mean
	assert.InDelta(t, 0, floats.Sum(u.Values()), 1e-6)
	assert.InDelta(t, 0, floats.Sum(v.Values()), 1e-6)
}

func TestInvalidConfig(t *testing.T) {
	geom := testutil.Grid(t, 4, 4)
	cfg := synthetic.DefaultConfig()
	cfg.VerticalCorrelation = 1
	_, err := synthetic.NewGenerator(geom, cfg)
	assert.Error(t, err)
	cfg = synthetic.DefaultConfig()
	cfg.Amplitude = -1
	_, err = synthetic.Background(geom, testutil.Vars(t, 1, field.AirTemperature), cfg)
	assert.Error(t, err)
}
