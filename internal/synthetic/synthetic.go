// Package synthetic generates analytic background states and randomised
// ensembles on a grid, used in place of model output for calibration runs
// and tests.
package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"opchain/pkg/field"
	"opchain/pkg/geometry"
	"opchain/plugins/wind"
)

// Config controls the generated states.
type Config struct {
	Seed      uint64    `yaml:"seed"`
	Amplitude float64   `yaml:"amplitude"`
	ValidTime time.Time `yaml:"valid_time"`
	// Modes is the number of random Fourier modes per perturbation level.
	Modes int `yaml:"modes"`
	// VerticalCorrelation links consecutive levels of a perturbation (0 ≤ ρ < 1).
	VerticalCorrelation float64 `yaml:"vertical_correlation"`
	// BalancedWinds derives wind perturbations from random stream function
	// and velocity potential through the wind block's stencil.
	BalancedWinds bool `yaml:"balanced_winds"`
}

// DefaultConfig returns unit-amplitude settings.
func DefaultConfig() Config {
	return Config{Seed: 1, Amplitude: 1, Modes: 4, VerticalCorrelation: 0.6}
}

func (c Config) validate() error {
	if c.Amplitude < 0 {
		return fmt.Errorf("synthetic: negative amplitude %g", c.Amplitude)
	}
	if c.VerticalCorrelation < 0 || c.VerticalCorrelation >= 1 {
		return fmt.Errorf("synthetic: vertical correlation %g outside [0, 1)", c.VerticalCorrelation)
	}
	return nil
}

// climatology is the horizontal mean of a variable at level l.
func climatology(name string, l int) float64 {
	switch name {
	case field.AirTemperature:
		return 288 - 6.5*float64(l)
	case field.AirPressure, field.HydrostaticPressure:
		return 101325 - 10000*float64(l)
	default:
		return 0
	}
}

// Background returns a smooth periodic state for every variable of vars.
func Background(geom geometry.Geometry, vars field.Variables, cfg Config) (*field.FieldSet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	fset := field.NewFieldSet(cfg.ValidTime)
	if _, err := geometry.Allocate(geom, fset, vars); err != nil {
		return nil, err
	}
	fs := geom.FunctionSpace()
	for _, v := range vars.Slice() {
		f, _ := fset.Get(v.Name)
		for p := 0; p < f.Points(); p++ {
			i, j := fs.Coords(p)
			shape := math.Sin(2*math.Pi*float64(i)/float64(fs.NX)) * math.Cos(2*math.Pi*float64(j)/float64(fs.NY))
			for l := 0; l < v.Levels; l++ {
				f.Set(p, l, climatology(v.Name, l)+cfg.Amplitude*shape*(1+0.1*float64(l)))
			}
		}
	}
	return fset, nil
}

// Generator draws random smooth perturbations.
type Generator struct {
	geom geometry.Geometry
	cfg  Config
	rng  *rand.Rand
	norm distuv.Normal
	unif distuv.Uniform
}

// NewGenerator seeds a generator from cfg.Seed.
func NewGenerator(geom geometry.Geometry, cfg Config) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Modes <= 0 {
		cfg.Modes = DefaultConfig().Modes
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x5851f42d4c957f2d)
	return &Generator{
		geom: geom,
		cfg:  cfg,
		rng:  rand.New(src),
		norm: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		unif: distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src},
	}, nil
}

// smooth fills out with a sum of random low-wavenumber modes.
func (g *Generator) smooth(out []float64) {
	fs := g.geom.FunctionSpace()
	for p := range out {
		out[p] = 0
	}
	scale := 1 / math.Sqrt(float64(g.cfg.Modes))
	for range g.cfg.Modes {
		kx := float64(1 + g.rng.IntN(2))
		ky := float64(1 + g.rng.IntN(2))
		a := g.norm.Rand() * scale
		phase := g.unif.Rand()
		for p := range out {
			i, j := fs.Coords(p)
			out[p] += a * math.Sin(2*math.Pi*(kx*float64(i)/float64(fs.NX)+ky*float64(j)/float64(fs.NY))+phase)
		}
	}
}

// Perturbation returns a zero-mean smooth random state for vars, with
// consecutive levels correlated by cfg.VerticalCorrelation.
func (g *Generator) Perturbation(vars field.Variables) (*field.FieldSet, error) {
	fset := field.NewFieldSet(g.cfg.ValidTime)
	if _, err := geometry.Allocate(g.geom, fset, vars); err != nil {
		return nil, err
	}
	rho := g.cfg.VerticalCorrelation
	for _, v := range vars.Slice() {
		f, _ := fset.Get(v.Name)
		prev := make([]float64, f.Points())
		fresh := make([]float64, f.Points())
		for l := 0; l < v.Levels; l++ {
			g.smooth(fresh)
			for p := range fresh {
				if l == 0 {
					prev[p] = fresh[p]
				} else {
					prev[p] = rho*prev[p] + math.Sqrt(1-rho*rho)*fresh[p]
				}
				f.Set(p, l, g.cfg.Amplitude*prev[p])
			}
		}
	}
	if g.cfg.BalancedWinds {
		if err := g.balanceWinds(fset, vars); err != nil {
			return nil, err
		}
	}
	return fset, nil
}

// balanceWinds overwrites the wind perturbations with winds of random
// potentials scaled by the grid spacing.
func (g *Generator) balanceWinds(fset *field.FieldSet, vars field.Variables) error {
	u, okU := vars.Get(field.EastwardWind)
	v, okV := vars.Get(field.NorthwardWind)
	if !okU || !okV {
		return nil
	}
	if u.Levels != v.Levels {
		return fmt.Errorf("synthetic: %w: wind components have %d and %d levels", field.ErrIncompatibleVariables, u.Levels, v.Levels)
	}
	fs := g.geom.FunctionSpace()
	potentials, err := field.NewVariables(
		field.Variable{Name: field.StreamFunction, Levels: u.Levels},
		field.Variable{Name: field.VelocityPotential, Levels: u.Levels},
	)
	if err != nil {
		return err
	}
	saved := g.cfg.BalancedWinds
	g.cfg.BalancedWinds = false
	pot, err := g.Perturbation(potentials)
	g.cfg.BalancedWinds = saved
	if err != nil {
		return err
	}
	psi, _ := pot.Get(field.StreamFunction)
	chi, _ := pot.Get(field.VelocityPotential)
	psi.Scale(fs.DX)
	chi.Scale(0.2 * fs.DX)
	uf, _ := fset.Get(field.EastwardWind)
	vf, _ := fset.Get(field.NorthwardWind)
	wind.Forward(fs, u.Levels, psi.Values(), chi.Values(), uf.Values(), vf.Values())
	return nil
}

// Ensemble returns members = background + independent perturbations.
func (g *Generator) Ensemble(background *field.FieldSet, members int) ([]*field.FieldSet, error) {
	if members < 2 {
		return nil, fmt.Errorf("synthetic: need at least two members, got %d", members)
	}
	out := make([]*field.FieldSet, members)
	for m := range out {
		pert, err := g.Perturbation(background.Variables())
		if err != nil {
			return nil, err
		}
		if err := pert.AddScaled(1, background); err != nil {
			return nil, fmt.Errorf("member %d: %w", m, err)
		}
		out[m] = pert
	}
	return out, nil
}
