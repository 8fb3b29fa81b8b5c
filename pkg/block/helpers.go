package block

import (
	"fmt"

	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Require returns the named fields of fset in order, failing with ErrMissingInput
// on the first absent one.
func Require(fset *field.FieldSet, names ...string) ([]*field.Field, error) {
	out := make([]*field.Field, len(names))
	for i, n := range names {
		f, ok := fset.Get(n)
		if !ok {
			return nil, Missing(n)
		}
		out[i] = f
	}
	return out, nil
}

// Ensure returns the named field, allocating a zero field for v when absent.
func Ensure(g geometry.Geometry, fset *field.FieldSet, v field.Variable) (*field.Field, error) {
	if f, ok := fset.Get(v.Name); ok {
		if f.Levels() != v.Levels {
			return nil, fmt.Errorf("%w: %s has %d levels, want %d", field.ErrIncompatibleVariables, v.Name, f.Levels(), v.Levels)
		}
		return f, nil
	}
	f, err := g.CreateField(v)
	if err != nil {
		return nil, err
	}
	return f, fset.Add(f)
}

// CheckNotAllocated fails with field.ErrFieldAllocated if any variable of vars is present.
func CheckNotAllocated(fset *field.FieldSet, vars field.Variables) error {
	for _, n := range vars.Names() {
		if fset.Has(n) {
			return fmt.Errorf("%w: %s", field.ErrFieldAllocated, n)
		}
	}
	return nil
}

// RequireOuter returns the named outer variable or an ErrMissingInput error.
func RequireOuter(outer field.Variables, name string) (field.Variable, error) {
	v, ok := outer.Get(name)
	if !ok {
		return field.Variable{}, fmt.Errorf("%w: outer variables %v lack %s", ErrMissingInput, outer, name)
	}
	return v, nil
}

// SameLevels fails unless every variable has the level count of the first.
func SameLevels(vs ...field.Variable) error {
	for _, v := range vs[1:] {
		if v.Levels != vs[0].Levels {
			return fmt.Errorf("%w: %s and %s must share a level count", field.ErrIncompatibleVariables, vs[0], v)
		}
	}
	return nil
}
