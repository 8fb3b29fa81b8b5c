package alias_test

import (
	"errors"
	"testing"

	"opchain/internal/blocktest"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/plugins/alias"
	"opchain/testutil"
)

func TestDefaultsCopyHydrostaticToAirPressure(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	outer := testutil.Vars(t, 2, field.AirPressure)
	ch := testutil.Chain(t, geom, outer, block.Config{Type: alias.Type})
	if got := ch.InnerVars().Names(); len(got) != 1 || got[0] != field.HydrostaticPressure {
		t.Fatalf("inner = %v", got)
	}
	x := testutil.Fill(t, geom, ch.InnerVars(), func(_ string, p, _ int) float64 { return float64(p) })
	if err := ch.Multiply(x); err != nil {
		t.Fatalf("multiply: %v", err)
	}
	if x.Has(field.HydrostaticPressure) {
		t.Fatal("source should be removed")
	}
	f, _ := x.Get(field.AirPressure)
	if f.At(5, 1) != 5 {
		t.Fatalf("copied value %g", f.At(5, 1))
	}
}

func TestAdjointAccumulates(t *testing.T) {
	geom := testutil.Grid(t, 3, 3)
	ch := testutil.Chain(t, geom, testutil.Vars(t, 1, field.AirPressure), block.Config{Type: alias.Type})
	y := testutil.Fill(t, geom, testutil.Vars(t, 1, field.AirPressure, field.HydrostaticPressure), func(name string, _, _ int) float64 {
		if name == field.AirPressure {
			return 2
		}
		return 1
	})
	if err := ch.MultiplyAD(y); err != nil {
		t.Fatalf("adjoint: %v", err)
	}
	f, _ := y.Get(field.HydrostaticPressure)
	if f.At(0, 0) != 3 || y.Has(field.AirPressure) {
		t.Fatalf("adjoint result %g, names %v", f.At(0, 0), y.Names())
	}
}

func TestSameNamesRejected(t *testing.T) {
	_, err := alias.InnerVars(testutil.Vars(t, 1, field.AirPressure), block.Config{Type: alias.Type, Options: block.Options{
		"from": field.AirPressure, "to": field.AirPressure,
	}})
	if !errors.Is(err, block.ErrInvalidConfiguration) {
		t.Fatalf("got %v", err)
	}
}

func TestSelfTests(t *testing.T) {
	geom := testutil.Grid(t, 3, 4)
	ch := testutil.Chain(t, geom, testutil.Vars(t, 2, field.AirPressure, field.AirTemperature), block.Config{Type: alias.Type})
	rep := blocktest.New(geom, blocktest.DefaultConfig()).Run(ch)
	if rep.Failed() || rep.Counts()[blocktest.StatusPassed] != 6 {
		t.Fatalf("results: %+v", rep.Results)
	}
}
