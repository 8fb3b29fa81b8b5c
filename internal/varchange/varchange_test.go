package varchange_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opchain/internal/varchange"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/testutil"
)

func TestForwardProjectsOntoDeclaredVariables(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	model := testutil.Vars(t, 2, field.AirTemperature, field.EastwardWind)
	fset := testutil.Fill(t, geom, model, func(string, int, int) float64 { return 4 })

	target := testutil.Vars(t, 2, field.EastwardWind, field.NorthwardWind)
	require.NoError(t, varchange.New(geom, target, nil).Forward(fset))

	if diff := cmp.Diff([]string{field.EastwardWind, field.NorthwardWind}, fset.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	u, _ := fset.Get(field.EastwardWind)
	assert.Equal(t, 4.0, u.At(5, 1))
	v, _ := fset.Get(field.NorthwardWind)
	assert.Zero(t, v.SumSquares())
}

func TestForwardRejectsLevelMismatch(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	fset := testutil.Fill(t, geom, testutil.Vars(t, 2, field.AirTemperature), func(string, int, int) float64 { return 1 })
	err := varchange.New(geom, testutil.Vars(t, 3, field.AirTemperature), nil).Forward(fset)
	require.ErrorIs(t, err, field.ErrIncompatibleVariables)
	assert.True(t, fset.Has(field.AirTemperature))
}

func TestInverseIsNotImplemented(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	err := varchange.New(geom, testutil.Vars(t, 1, field.AirTemperature), nil).Inverse(field.NewFieldSet(testutil.ValidTime))
	require.ErrorIs(t, err, block.ErrNotImplemented)
}
