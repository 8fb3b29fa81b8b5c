// Package field holds named multi-level gridded fields and the ordered
// variable sets that describe them.
package field

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateVariable reports a repeated name inside one variable set or container.
	ErrDuplicateVariable = errors.New("field: duplicate variable")
	// ErrIncompatibleVariables reports two variables sharing a name but not a level count.
	ErrIncompatibleVariables = errors.New("field: incompatible variables")
	// ErrFieldAllocated reports a field that must be absent but is already present.
	ErrFieldAllocated = errors.New("field: already allocated")
)

// Variable names a physical quantity and its vertical extent.
type Variable struct {
	Name      string `yaml:"name" json:"name"`
	Levels    int    `yaml:"levels" json:"levels"`
	Units     string `yaml:"units,omitempty" json:"units,omitempty"`
	LevelType string `yaml:"level_type,omitempty" json:"level_type,omitempty"`
}

// Validate checks the variable carries a name and at least one level.
func (v Variable) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("field: variable name required")
	}
	if v.Levels < 1 {
		return fmt.Errorf("field: variable %s must have at least one level, got %d", v.Name, v.Levels)
	}
	return nil
}

// CompatibleWith reports whether o may stand in for v.
func (v Variable) CompatibleWith(o Variable) bool {
	return v.Name == o.Name && v.Levels == o.Levels
}

func (v Variable) String() string {
	return fmt.Sprintf("%s(%d)", v.Name, v.Levels)
}

// Variables is an immutable ordered set of uniquely named variables.
// Order drives iteration; membership is by name.
type Variables struct {
	list  []Variable
	index map[string]int
}

// NewVariables builds a set, rejecting invalid or repeated variables.
func NewVariables(vs ...Variable) (Variables, error) {
	out := Variables{list: make([]Variable, 0, len(vs)), index: make(map[string]int, len(vs))}
	for _, v := range vs {
		if err := v.Validate(); err != nil {
			return Variables{}, err
		}
		if _, exists := out.index[v.Name]; exists {
			return Variables{}, fmt.Errorf("%w: %s", ErrDuplicateVariable, v.Name)
		}
		out.index[v.Name] = len(out.list)
		out.list = append(out.list, v)
	}
	return out, nil
}

// MustVariables is NewVariables for static declarations; it panics on error.
func MustVariables(vs ...Variable) Variables {
	out, err := NewVariables(vs...)
	if err != nil {
		panic(err)
	}
	return out
}

// Len returns the number of variables.
func (v Variables) Len() int { return len(v.list) }

// Has reports whether a variable with the given name is present.
func (v Variables) Has(name string) bool {
	_, ok := v.index[name]
	return ok
}

// Get returns the named variable.
func (v Variables) Get(name string) (Variable, bool) {
	i, ok := v.index[name]
	if !ok {
		return Variable{}, false
	}
	return v.list[i], true
}

// Slice returns a copy of the variables in order.
func (v Variables) Slice() []Variable {
	return append([]Variable(nil), v.list...)
}

// Names returns the variable names in order.
func (v Variables) Names() []string {
	out := make([]string, len(v.list))
	for i, vv := range v.list {
		out[i] = vv.Name
	}
	return out
}

// Union appends the variables of o not already present. A shared name with a
// different level count is an ErrIncompatibleVariables error.
func (v Variables) Union(o Variables) (Variables, error) {
	merged := v.Slice()
	for _, ov := range o.list {
		if cur, ok := v.Get(ov.Name); ok {
			if !cur.CompatibleWith(ov) {
				return Variables{}, fmt.Errorf("%w: %s vs %s", ErrIncompatibleVariables, cur, ov)
			}
			continue
		}
		merged = append(merged, ov)
	}
	return NewVariables(merged...)
}

// Difference returns the variables of v whose names are absent from o.
func (v Variables) Difference(o Variables) Variables {
	kept := make([]Variable, 0, len(v.list))
	for _, vv := range v.list {
		if !o.Has(vv.Name) {
			kept = append(kept, vv)
		}
	}
	return MustVariables(kept...)
}

// Intersect returns the variables of v whose names also appear in o.
func (v Variables) Intersect(o Variables) Variables {
	kept := make([]Variable, 0, len(v.list))
	for _, vv := range v.list {
		if o.Has(vv.Name) {
			kept = append(kept, vv)
		}
	}
	return MustVariables(kept...)
}

// Contains reports whether every variable of o is present in v with the same level count.
func (v Variables) Contains(o Variables) bool {
	for _, ov := range o.list {
		cur, ok := v.Get(ov.Name)
		if !ok || !cur.CompatibleWith(ov) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold compatible variables, ignoring order.
func (v Variables) Equal(o Variables) bool {
	return v.Len() == o.Len() && v.Contains(o)
}

// Without returns v minus the named variables.
func (v Variables) Without(names ...string) Variables {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := make([]Variable, 0, len(v.list))
	for _, vv := range v.list {
		if _, ok := drop[vv.Name]; !ok {
			kept = append(kept, vv)
		}
	}
	return MustVariables(kept...)
}

// With returns v with the given variables appended. Existing names must be compatible.
func (v Variables) With(vs ...Variable) (Variables, error) {
	add, err := NewVariables(vs...)
	if err != nil {
		return Variables{}, err
	}
	return v.Union(add)
}

func (v Variables) String() string {
	parts := make([]string, len(v.list))
	for i, vv := range v.list {
		parts[i] = vv.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
