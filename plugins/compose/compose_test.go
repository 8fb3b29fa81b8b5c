package compose_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"opchain/internal/blocktest"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/plugins/compose"
	"opchain/testutil"
)

const balanceYAML = `
type: Composite
id: balance
blocks:
  - type: PsiChiToUV
  - type: StdDev
    value: 2
`

func balance(t *testing.T) block.Config {
	t.Helper()
	var cfg block.Config
	require.NoError(t, yaml.Unmarshal([]byte(balanceYAML), &cfg))
	return cfg
}

func TestInnerVarsComposeMembers(t *testing.T) {
	reg := testutil.Registry(t)
	outer := testutil.Vars(t, 2, field.EastwardWind, field.NorthwardWind)
	inner, err := reg.InnerVars(outer, balance(t))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{field.StreamFunction, field.VelocityPotential}, inner.Names())
}

func TestMembersAreExposed(t *testing.T) {
	geom := testutil.Grid(t, 4, 4)
	ch := testutil.Chain(t, geom, testutil.Vars(t, 2, field.EastwardWind, field.NorthwardWind), balance(t))
	comp, ok := ch.Blocks()[0].(block.Composite)
	require.True(t, ok)
	members := comp.Members()
	require.Len(t, members, 2)
	require.Equal(t, "PsiChiToUV", members[0].Block.Name())
	require.Equal(t, "StdDev", members[1].Block.Name())
}

func TestEmptyMemberListRejected(t *testing.T) {
	reg := testutil.Registry(t)
	_, err := reg.InnerVars(testutil.Vars(t, 1, field.AirTemperature), block.Config{Type: compose.Type})
	require.ErrorIs(t, err, block.ErrInvalidConfiguration)
}

func TestNonInvertibleMemberNamed(t *testing.T) {
	geom := testutil.Grid(t, 4, 4)
	ch := testutil.Chain(t, geom, testutil.Vars(t, 1, field.EastwardWind, field.NorthwardWind), balance(t))
	y := testutil.Fill(t, geom, ch.OuterVars(), func(string, int, int) float64 { return 1 })
	err := ch.Blocks()[0].LeftInverseMultiply(y)
	require.True(t, errors.Is(err, block.ErrNotInvertible))
	require.ErrorContains(t, err, "PsiChiToUV")
}

func TestInvertibleCompositeSelfTests(t *testing.T) {
	const doc = `
type: Composite
blocks:
  - type: FieldCopy
  - type: StdDev
    value: 1.5
  - type: Ensemble
`
	var cfg block.Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	geom := testutil.Grid(t, 3, 3)
	ch := testutil.Chain(t, geom, testutil.Vars(t, 3, field.AirPressure), cfg)
	rep := blocktest.New(geom, blocktest.DefaultConfig()).Run(ch)
	require.False(t, rep.Failed(), "%+v", rep.Results)
	res, ok := rep.Find(compose.Type, blocktest.KindInverseAdjoint)
	require.True(t, ok)
	require.Equal(t, blocktest.StatusPassed, res.Status)
}
