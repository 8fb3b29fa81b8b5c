package field

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MemberFields returns the named field of every member, checking level counts.
func MemberFields(ensemble []*FieldSet, v Variable) ([]*Field, error) {
	out := make([]*Field, len(ensemble))
	for i, m := range ensemble {
		f, ok := m.Get(v.Name)
		if !ok {
			return nil, fmt.Errorf("member %d lacks %s", i, v.Name)
		}
		if f.Levels() != v.Levels {
			return nil, fmt.Errorf("member %d: %w: %s has %d levels, want %d", i, ErrIncompatibleVariables, v.Name, f.Levels(), v.Levels)
		}
		if i > 0 && f.Points() != out[0].Points() {
			return nil, fmt.Errorf("member %d: %s has %d points, want %d", i, v.Name, f.Points(), out[0].Points())
		}
		out[i] = f
	}
	return out, nil
}

// StackPerturbations returns the deviations of each member from the ensemble
// mean of v, stacked member after member into a (members·points) × levels matrix.
func StackPerturbations(ensemble []*FieldSet, v Variable) (*mat.Dense, error) {
	members, err := MemberFields(ensemble, v)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("field: empty ensemble")
	}
	points := members[0].Points()
	out := mat.NewDense(len(members)*points, v.Levels, nil)
	column := make([]float64, len(members))
	for p := 0; p < points; p++ {
		for l := 0; l < v.Levels; l++ {
			for i, f := range members {
				column[i] = f.At(p, l)
			}
			mean := stat.Mean(column, nil)
			for i := range members {
				out.Set(i*points+p, l, column[i]-mean)
			}
		}
	}
	return out, nil
}
