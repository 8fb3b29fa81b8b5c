// Package geometry provides the grid service blocks allocate fields on.
package geometry

import (
	"fmt"

	"opchain/pkg/field"
)

// Geometry creates fields on a horizontal grid and exposes the grid handle.
type Geometry interface {
	CreateField(v field.Variable) (*field.Field, error)
	FunctionSpace() FunctionSpace
}

// FunctionSpace describes a doubly periodic regular grid of NX × NY points
// spaced DX and DY metres apart. Point p = j*NX + i.
type FunctionSpace struct {
	NX int     `yaml:"nx" json:"nx"`
	NY int     `yaml:"ny" json:"ny"`
	DX float64 `yaml:"dx" json:"dx"`
	DY float64 `yaml:"dy" json:"dy"`
}

// Points returns the number of horizontal points.
func (fs FunctionSpace) Points() int { return fs.NX * fs.NY }

// Index returns the point index of grid cell (i, j), wrapping periodically.
func (fs FunctionSpace) Index(i, j int) int {
	i = ((i % fs.NX) + fs.NX) % fs.NX
	j = ((j % fs.NY) + fs.NY) % fs.NY
	return j*fs.NX + i
}

// Coords returns the (i, j) cell of point p.
func (fs FunctionSpace) Coords(p int) (int, int) { return p % fs.NX, p / fs.NX }

// Neighbours returns the east, west, north and south neighbours of p.
func (fs FunctionSpace) Neighbours(p int) (east, west, north, south int) {
	i, j := fs.Coords(p)
	return fs.Index(i+1, j), fs.Index(i-1, j), fs.Index(i, j+1), fs.Index(i, j-1)
}

// Validate checks the grid is usable for centred differences.
func (fs FunctionSpace) Validate() error {
	if fs.NX < 3 || fs.NY < 3 {
		return fmt.Errorf("geometry: grid must be at least 3x3, got %dx%d", fs.NX, fs.NY)
	}
	if fs.DX <= 0 || fs.DY <= 0 {
		return fmt.Errorf("geometry: grid spacing must be positive, got dx=%g dy=%g", fs.DX, fs.DY)
	}
	return nil
}

// Grid is the regular doubly periodic Geometry.
type Grid struct {
	fs FunctionSpace
}

// NewGrid validates fs and returns a grid geometry.
func NewGrid(fs FunctionSpace) (*Grid, error) {
	if err := fs.Validate(); err != nil {
		return nil, err
	}
	return &Grid{fs: fs}, nil
}

// FunctionSpace returns the grid handle.
func (g *Grid) FunctionSpace() FunctionSpace { return g.fs }

// CreateField allocates a zero field for v on the grid.
func (g *Grid) CreateField(v field.Variable) (*field.Field, error) {
	return field.New(v, g.fs.Points())
}

// Allocate adds a zero field for every variable of vars missing from s and
// returns the variables it created.
func Allocate(g Geometry, s *field.FieldSet, vars field.Variables) (field.Variables, error) {
	missing := s.Missing(vars)
	for _, v := range missing.Slice() {
		f, err := g.CreateField(v)
		if err != nil {
			return field.Variables{}, err
		}
		if err := s.Add(f); err != nil {
			return field.Variables{}, err
		}
	}
	return missing, nil
}
