// Package pressure provides the hydrostatic pressure blocks: a geostrophic
// balance block, a vertical regression block and the composite owning both.
package pressure

import "opchain/pkg/block"

// Plugin registers the pressure blocks.
type Plugin struct{}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "pressure" }

// Version returns the plugin version.
func (Plugin) Version() string { return "1.0.0" }

// Register adds the geostrophic, regression and composite block types.
func (Plugin) Register(r *block.Registry) error {
	regs := []block.Registration{
		{Type: GeostrophicType, InnerVars: GeostrophicInnerVars, New: NewGeostrophic},
		{Type: HydrostaticType, InnerVars: HydrostaticInnerVars, New: NewHydrostatic, Stateful: true},
		{Type: CompositeType, InnerVars: CompositeInnerVars, New: NewComposite, Stateful: true},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}
