package testutil

import (
	"testing"
	"time"

	"opchain/internal/chain"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
	"opchain/plugins/builtin"
)

// ValidTime is the valid time of every fixture field set.
var ValidTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Grid returns an nx × ny periodic grid with 100 km spacing.
func Grid(t testing.TB, nx, ny int) *geometry.Grid {
	t.Helper()
	g, err := geometry.NewGrid(geometry.FunctionSpace{NX: nx, NY: ny, DX: 1e5, DY: 1e5})
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	return g
}

// Vars builds a variable set of the given names, all with the same level count.
func Vars(t testing.TB, levels int, names ...string) field.Variables {
	t.Helper()
	vs := make([]field.Variable, len(names))
	for i, n := range names {
		vs[i] = field.Variable{Name: n, Levels: levels}
	}
	out, err := field.NewVariables(vs...)
	if err != nil {
		t.Fatalf("variables: %v", err)
	}
	return out
}

// Registry returns a registry with every built-in block type installed.
func Registry(t testing.TB) *block.Registry {
	t.Helper()
	r, err := builtin.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

// Chain builds a chain from the built-in registry.
func Chain(t testing.TB, geom geometry.Geometry, outer field.Variables, cfgs ...block.Config) *chain.Chain {
	t.Helper()
	ch, err := chain.Build(Registry(t), geom, outer, cfgs, nil, nil)
	if err != nil {
		t.Fatalf("build chain: %v", err)
	}
	return ch
}

// Fill allocates vars in a new field set and sets every value with fn(point, level).
func Fill(t testing.TB, geom geometry.Geometry, vars field.Variables, fn func(name string, p, l int) float64) *field.FieldSet {
	t.Helper()
	fset := field.NewFieldSet(ValidTime)
	if _, err := geometry.Allocate(geom, fset, vars); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	for _, v := range vars.Slice() {
		f, _ := fset.Get(v.Name)
		for p := 0; p < f.Points(); p++ {
			for l := 0; l < f.Levels(); l++ {
				f.Set(p, l, fn(v.Name, p, l))
			}
		}
	}
	return fset
}
