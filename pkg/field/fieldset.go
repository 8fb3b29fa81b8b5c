package field

import (
	"fmt"
	"time"
)

// FieldSet maps variable names to fields sharing one valid time.
// Insertion order is preserved for deterministic iteration.
type FieldSet struct {
	validTime time.Time
	order     []string
	fields    map[string]*Field
}

// NewFieldSet returns an empty container valid at t.
func NewFieldSet(t time.Time) *FieldSet {
	return &FieldSet{validTime: t, fields: make(map[string]*Field)}
}

// ValidTime returns the container valid time.
func (s *FieldSet) ValidTime() time.Time { return s.validTime }

// Len returns the number of fields held.
func (s *FieldSet) Len() int { return len(s.order) }

// Add inserts f; a field with the same name must not already be present.
func (s *FieldSet) Add(f *Field) error {
	if _, exists := s.fields[f.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVariable, f.Name())
	}
	s.fields[f.Name()] = f
	s.order = append(s.order, f.Name())
	return nil
}

// Put inserts f, replacing any field of the same name in place.
func (s *FieldSet) Put(f *Field) {
	if _, exists := s.fields[f.Name()]; !exists {
		s.order = append(s.order, f.Name())
	}
	s.fields[f.Name()] = f
}

// Get returns the named field.
func (s *FieldSet) Get(name string) (*Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether the named field is present.
func (s *FieldSet) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// HasAll reports whether every variable of vars is present with a matching level count.
func (s *FieldSet) HasAll(vars Variables) bool {
	for _, v := range vars.list {
		f, ok := s.fields[v.Name]
		if !ok || f.Levels() != v.Levels {
			return false
		}
	}
	return true
}

// Missing returns the variables of vars not present in the container.
func (s *FieldSet) Missing(vars Variables) Variables {
	kept := make([]Variable, 0, vars.Len())
	for _, v := range vars.list {
		if !s.Has(v.Name) {
			kept = append(kept, v)
		}
	}
	return MustVariables(kept...)
}

// Remove deletes the named field, reporting whether it was present.
func (s *FieldSet) Remove(name string) bool {
	if _, ok := s.fields[name]; !ok {
		return false
	}
	delete(s.fields, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// RemoveVariables deletes every field named in vars. Absent names are ignored.
func (s *FieldSet) RemoveVariables(vars Variables) {
	for _, n := range vars.Names() {
		s.Remove(n)
	}
}

// Names returns field names in insertion order.
func (s *FieldSet) Names() []string {
	return append([]string(nil), s.order...)
}

// Variables returns the variables of the held fields in insertion order.
func (s *FieldSet) Variables() Variables {
	vs := make([]Variable, 0, len(s.order))
	for _, n := range s.order {
		vs = append(vs, s.fields[n].Variable())
	}
	return MustVariables(vs...)
}

// Clone deep-copies the container.
func (s *FieldSet) Clone() *FieldSet {
	out := NewFieldSet(s.validTime)
	for _, n := range s.order {
		out.Put(s.fields[n].Clone())
	}
	return out
}

// Subset deep-copies the fields named in vars. Every variable must be present.
func (s *FieldSet) Subset(vars Variables) (*FieldSet, error) {
	out := NewFieldSet(s.validTime)
	for _, v := range vars.list {
		f, ok := s.fields[v.Name]
		if !ok {
			return nil, fmt.Errorf("field: subset requires %s", v.Name)
		}
		if f.Levels() != v.Levels {
			return nil, fmt.Errorf("%w: %s has %d levels, want %d", ErrIncompatibleVariables, v.Name, f.Levels(), v.Levels)
		}
		out.Put(f.Clone())
	}
	return out, nil
}

// Merge copies into s every field of o whose name is absent from s.
// Fields already present in s keep their values.
func (s *FieldSet) Merge(o *FieldSet) {
	for _, n := range o.order {
		if !s.Has(n) {
			s.Put(o.fields[n].Clone())
		}
	}
}

// ReplaceWith makes s hold exactly the fields of o. o must not be used afterwards.
func (s *FieldSet) ReplaceWith(o *FieldSet) {
	s.validTime = o.validTime
	s.order = o.order
	s.fields = o.fields
}

// Zero resets all held fields to zero.
func (s *FieldSet) Zero() {
	for _, f := range s.fields {
		f.Zero()
	}
}

// AddScaled performs s += alpha*o over the variables of o.
func (s *FieldSet) AddScaled(alpha float64, o *FieldSet) error {
	for _, n := range o.order {
		f, ok := s.fields[n]
		if !ok {
			return fmt.Errorf("field: add requires %s", n)
		}
		if err := f.AddScaled(alpha, o.fields[n]); err != nil {
			return err
		}
	}
	return nil
}

// Sub performs s -= o over the variables of o.
func (s *FieldSet) Sub(o *FieldSet) error { return s.AddScaled(-1, o) }

// Dot returns the local inner product with o restricted to vars.
func (s *FieldSet) Dot(o *FieldSet, vars Variables) (float64, error) {
	var sum float64
	for _, v := range vars.list {
		a, ok := s.fields[v.Name]
		if !ok {
			return 0, fmt.Errorf("field: dot product requires %s on the left", v.Name)
		}
		b, ok := o.fields[v.Name]
		if !ok {
			return 0, fmt.Errorf("field: dot product requires %s on the right", v.Name)
		}
		d, err := a.Dot(b)
		if err != nil {
			return 0, err
		}
		sum += d
	}
	return sum, nil
}

// SumSquares returns the local sum of squares restricted to vars.
func (s *FieldSet) SumSquares(vars Variables) (float64, error) {
	return s.Dot(s, vars)
}
