package field

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Field is a points × levels array attached to one variable.
type Field struct {
	variable Variable
	data     *mat.Dense
}

// New allocates a zero-valued field for v on a grid with the given number of horizontal points.
func New(v Variable, points int) (*Field, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if points < 1 {
		return nil, fmt.Errorf("field: %s needs at least one point, got %d", v.Name, points)
	}
	return &Field{variable: v, data: mat.NewDense(points, v.Levels, nil)}, nil
}

// FromMatrix wraps an existing points × levels matrix. The matrix is copied.
func FromMatrix(v Variable, m mat.Matrix) (*Field, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	r, c := m.Dims()
	if c != v.Levels {
		return nil, fmt.Errorf("%w: %s has %d levels, matrix has %d columns", ErrIncompatibleVariables, v.Name, v.Levels, c)
	}
	d := mat.NewDense(r, c, nil)
	d.Copy(m)
	return &Field{variable: v, data: d}, nil
}

// Variable returns the variable the field is attached to.
func (f *Field) Variable() Variable { return f.variable }

// Name returns the variable name.
func (f *Field) Name() string { return f.variable.Name }

// Levels returns the vertical level count.
func (f *Field) Levels() int { return f.variable.Levels }

// Points returns the horizontal point count.
func (f *Field) Points() int {
	r, _ := f.data.Dims()
	return r
}

// At returns the value at horizontal point p and level l.
func (f *Field) At(p, l int) float64 { return f.data.At(p, l) }

// Set assigns the value at horizontal point p and level l.
func (f *Field) Set(p, l int, v float64) { f.data.Set(p, l, v) }

// Matrix exposes the backing matrix. Writes through it mutate the field.
func (f *Field) Matrix() *mat.Dense { return f.data }

// Values exposes the contiguous row-major backing slice (point-major, level-minor).
func (f *Field) Values() []float64 { return f.data.RawMatrix().Data }

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	return &Field{variable: f.variable, data: mat.DenseCopyOf(f.data)}
}

// Renamed returns a deep copy attached to another variable of the same level count.
func (f *Field) Renamed(v Variable) (*Field, error) {
	if v.Levels != f.Levels() {
		return nil, fmt.Errorf("%w: cannot rename %s to %s", ErrIncompatibleVariables, f.variable, v)
	}
	return &Field{variable: v, data: mat.DenseCopyOf(f.data)}, nil
}

// Zero resets every value to zero.
func (f *Field) Zero() { f.data.Zero() }

// CopyFrom overwrites the values of f with those of o.
func (f *Field) CopyFrom(o *Field) error {
	if err := f.sameShape(o); err != nil {
		return err
	}
	copy(f.Values(), o.Values())
	return nil
}

// AddScaled performs f += alpha*o.
func (f *Field) AddScaled(alpha float64, o *Field) error {
	if err := f.sameShape(o); err != nil {
		return err
	}
	floats.AddScaled(f.Values(), alpha, o.Values())
	return nil
}

// Scale multiplies every value by alpha.
func (f *Field) Scale(alpha float64) { floats.Scale(alpha, f.Values()) }

// Dot returns the local sum of products with o.
func (f *Field) Dot(o *Field) (float64, error) {
	if err := f.sameShape(o); err != nil {
		return 0, err
	}
	return floats.Dot(f.Values(), o.Values()), nil
}

// SumSquares returns the local sum of squared values.
func (f *Field) SumSquares() float64 {
	v := f.Values()
	return floats.Dot(v, v)
}

func (f *Field) sameShape(o *Field) error {
	if f.Levels() != o.Levels() || f.Points() != o.Points() {
		return fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", ErrIncompatibleVariables,
			f.Name(), f.Points(), f.Levels(), o.Name(), o.Points(), o.Levels())
	}
	return nil
}
