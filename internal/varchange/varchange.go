// Package varchange moves a field set between the model's variable set and
// the variables a chain works on.
package varchange

import (
	"fmt"

	"go.uber.org/zap"

	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Change projects field sets onto a declared variable set.
type Change struct {
	geom   geometry.Geometry
	vars   field.Variables
	logger *zap.Logger
}

// New returns a change onto vars.
func New(geom geometry.Geometry, vars field.Variables, logger *zap.Logger) *Change {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Change{geom: geom, vars: vars, logger: logger}
}

// Variables returns the target variable set.
func (c *Change) Variables() field.Variables { return c.vars }

// Forward removes fields outside the target set and allocates missing
// target fields as zero. Present fields must match the declared levels.
func (c *Change) Forward(fset *field.FieldSet) error {
	for _, v := range c.vars.Slice() {
		if f, ok := fset.Get(v.Name); ok && f.Levels() != v.Levels {
			return fmt.Errorf("varchange: %w: %s has %d levels, want %d", field.ErrIncompatibleVariables, v.Name, f.Levels(), v.Levels)
		}
	}
	var dropped []string
	for _, name := range fset.Names() {
		if !c.vars.Has(name) {
			fset.Remove(name)
			dropped = append(dropped, name)
		}
	}
	added, err := geometry.Allocate(c.geom, fset, c.vars)
	if err != nil {
		return fmt.Errorf("varchange: %w", err)
	}
	c.logger.Debug("variable change", zap.Strings("dropped", dropped), zap.Strings("allocated", added.Names()))
	return nil
}

// Inverse is not available: dropped variables cannot be recovered.
func (c *Change) Inverse(*field.FieldSet) error {
	return fmt.Errorf("varchange inverse: %w", block.ErrNotImplemented)
}
