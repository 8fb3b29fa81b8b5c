// Package ensemble supplies calibration ensembles, either generated
// synthetically around a background or loaded from a statistics store.
package ensemble

import (
	"context"
	"fmt"
	"path"
	"time"

	"gonum.org/v1/gonum/mat"

	"opchain/internal/lifecycle"
	"opchain/internal/synthetic"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceStore     = "store"
)

// Config describes where members come from.
type Config struct {
	Source  string `yaml:"source"`
	Members int    `yaml:"members"`
	// Seed, when non-zero, replaces the background seed for perturbations.
	Seed uint64 `yaml:"seed"`
	// Prefix locates stored members.
	Prefix string `yaml:"prefix"`
	// Synthetic is the background the members are drawn around.
	Synthetic synthetic.Config `yaml:"-"`
}

// DefaultConfig draws ten synthetic members.
func DefaultConfig() Config {
	return Config{Source: SourceSynthetic, Members: 10, Prefix: "ensemble", Synthetic: synthetic.DefaultConfig()}
}

// Validate checks the source and member count.
func (c Config) Validate() error {
	switch c.Source {
	case SourceSynthetic:
		if c.Members < 2 {
			return fmt.Errorf("ensemble: need at least two members, got %d", c.Members)
		}
	case SourceStore:
		if c.Prefix == "" {
			return fmt.Errorf("ensemble: stored ensembles need a prefix")
		}
	default:
		return fmt.Errorf("ensemble: unknown source %q", c.Source)
	}
	return nil
}

func countKey(prefix string) string { return path.Join(prefix, "members") }

func memberKey(prefix string, m int, name string) string {
	return path.Join(prefix, fmt.Sprintf("member_%03d", m), name)
}

// Generate returns synthetic members around the background of vars.
func Generate(geom geometry.Geometry, vars field.Variables, cfg Config) ([]*field.FieldSet, error) {
	bg, err := synthetic.Background(geom, vars, cfg.Synthetic)
	if err != nil {
		return nil, err
	}
	pcfg := cfg.Synthetic
	if cfg.Seed != 0 {
		pcfg.Seed = cfg.Seed
	}
	g, err := synthetic.NewGenerator(geom, pcfg)
	if err != nil {
		return nil, err
	}
	return g.Ensemble(bg, cfg.Members)
}

// Write stores every member field under prefix/member_NNN/<variable>
// together with the member count.
func Write(ctx context.Context, store block.StatisticsStore, prefix string, members []*field.FieldSet) error {
	for m, fset := range members {
		for _, name := range fset.Names() {
			f, _ := fset.Get(name)
			if err := store.WriteArray(ctx, memberKey(prefix, m, name), f.Matrix()); err != nil {
				return fmt.Errorf("ensemble: write member %d: %w", m, err)
			}
		}
	}
	count := mat.NewDense(1, 1, []float64{float64(len(members))})
	if err := store.WriteArray(ctx, countKey(prefix), count); err != nil {
		return fmt.Errorf("ensemble: write member count: %w", err)
	}
	return nil
}

// Read loads the members stored under prefix, restricted to vars.
func Read(ctx context.Context, store block.StatisticsStore, prefix string, geom geometry.Geometry, vars field.Variables, validTime time.Time) ([]*field.FieldSet, error) {
	count, err := store.ReadArray(ctx, countKey(prefix))
	if err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}
	n := int(count.At(0, 0))
	points := geom.FunctionSpace().Points()
	out := make([]*field.FieldSet, n)
	for m := range out {
		fset := field.NewFieldSet(validTime)
		for _, v := range vars.Slice() {
			a, err := store.ReadArray(ctx, memberKey(prefix, m, v.Name))
			if err != nil {
				return nil, fmt.Errorf("ensemble: member %d: %w", m, err)
			}
			if r, c := a.Dims(); r != points || c != v.Levels {
				return nil, fmt.Errorf("ensemble: member %d: %w: %s is %dx%d, want %dx%d",
					m, field.ErrIncompatibleVariables, v.Name, r, c, points, v.Levels)
			}
			f, err := field.FromMatrix(v, a)
			if err != nil {
				return nil, err
			}
			if err := fset.Add(f); err != nil {
				return nil, err
			}
		}
		out[m] = fset
	}
	return out, nil
}

// Source returns the lifecycle ensemble source described by cfg. Members are
// produced lazily, only when some block calibrates.
func Source(cfg Config, geom geometry.Geometry, vars field.Variables, store block.StatisticsStore) lifecycle.EnsembleSource {
	return func(ctx context.Context) ([]*field.FieldSet, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if cfg.Source == SourceStore {
			if store == nil {
				return nil, fmt.Errorf("ensemble: %w: stored ensemble requires a statistics store", block.ErrMissingInput)
			}
			return Read(ctx, store, cfg.Prefix, geom, vars, cfg.Synthetic.ValidTime)
		}
		return Generate(geom, vars, cfg)
	}
}
