package ensemble_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"opchain/internal/ensemble"
	"opchain/internal/lifecycle"
	"opchain/pkg/block"
	"opchain/pkg/field"
	ensblock "opchain/plugins/ensemble"
	"opchain/testutil"
)

func TestWriteThenReadStoredMembers(t *testing.T) {
	ctx := context.Background()
	geom := testutil.Grid(t, 5, 5)
	vars := testutil.Vars(t, 2, field.AirTemperature, field.EastwardWind)
	cfg := ensemble.DefaultConfig()
	cfg.Members = 3
	members, err := ensemble.Generate(geom, vars, cfg)
	require.NoError(t, err)

	store := testutil.NewMapStore()
	require.NoError(t, ensemble.Write(ctx, store, "ens/2026", members))
	assert.Contains(t, store.Keys(), "ens/2026/member_002/"+field.EastwardWind)

	back, err := ensemble.Read(ctx, store, "ens/2026", geom, vars, testutil.ValidTime)
	require.NoError(t, err)
	require.Len(t, back, 3)
	for m := range members {
		for _, name := range vars.Names() {
			want, _ := members[m].Get(name)
			got, _ := back[m].Get(name)
			assert.True(t, mat.Equal(want.Matrix(), got.Matrix()), "member %d %s", m, name)
		}
	}
}

func TestReadRejectsWrongShape(t *testing.T) {
	ctx := context.Background()
	geom := testutil.Grid(t, 4, 4)
	store := testutil.NewMapStore()
	members, err := ensemble.Generate(geom, testutil.Vars(t, 2, field.AirTemperature), ensemble.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, ensemble.Write(ctx, store, "e", members))
	_, err = ensemble.Read(ctx, store, "e", geom, testutil.Vars(t, 3, field.AirTemperature), testutil.ValidTime)
	require.ErrorIs(t, err, field.ErrIncompatibleVariables)
}

func TestSourceValidation(t *testing.T) {
	geom := testutil.Grid(t, 4, 4)
	vars := testutil.Vars(t, 1, field.AirTemperature)
	cfg := ensemble.DefaultConfig()
	cfg.Source = ensemble.SourceStore
	_, err := ensemble.Source(cfg, geom, vars, nil)(context.Background())
	require.ErrorIs(t, err, block.ErrMissingInput)

	cfg = ensemble.DefaultConfig()
	cfg.Members = 1
	assert.Error(t, cfg.Validate())
	cfg.Source = "radar"
	assert.Error(t, cfg.Validate())
}

func TestSyntheticSourceCalibratesEnsembleBlock(t *testing.T) {
	geom := testutil.Grid(t, 6, 6)
	vars := testutil.Vars(t, 3, field.AirTemperature)
	ch := testutil.Chain(t, geom, vars, block.Config{Type: ensblock.Type, Calibration: &block.CalibrationConfig{}})
	cfg := ensemble.DefaultConfig()
	cfg.Members = 8
	decisions, err := lifecycle.New(nil, nil).Prepare(context.Background(), ch, ensemble.Source(cfg, geom, vars, nil))
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, block.CalibrateMode, decisions[0].Mode)
	cov, ok := ch.Blocks()[0].(*ensblock.Block).Covariance(field.AirTemperature)
	require.True(t, ok)
	// correlated levels give a positive off-diagonal
	assert.Greater(t, cov.At(0, 1), 0.0)
}
