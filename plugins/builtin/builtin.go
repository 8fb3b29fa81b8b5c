// Package builtin installs every block family shipped with opchain.
package builtin

import (
	"opchain/pkg/block"
	"opchain/plugins/alias"
	"opchain/plugins/compose"
	"opchain/plugins/ensemble"
	"opchain/plugins/pressure"
	"opchain/plugins/stddev"
	"opchain/plugins/wind"
)

// Plugins returns the built-in plugins in installation order.
func Plugins() []block.Plugin {
	return []block.Plugin{
		wind.Plugin{},
		pressure.Plugin{},
		stddev.Plugin{},
		ensemble.Plugin{},
		alias.Plugin{},
		compose.Plugin{},
	}
}

// Install adds the built-in plugins to r.
func Install(r *block.Registry) error {
	for _, p := range Plugins() {
		if _, err := r.Install(p); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in block type.
func NewRegistry() (*block.Registry, error) {
	r := block.NewRegistry()
	if err := Install(r); err != nil {
		return nil, err
	}
	return r, nil
}
