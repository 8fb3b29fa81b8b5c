package block

import "fmt"

// Plugin packages a family of block types.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *Registry) error
}

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Types   []string `json:"types"`
}

// Install runs the plugin registration and records the block types it added.
func (r *Registry) Install(p Plugin) (PluginMetadata, error) {
	r.mu.RLock()
	for _, meta := range r.plugins {
		if meta.Name == p.Name() {
			r.mu.RUnlock()
			return PluginMetadata{}, fmt.Errorf("plugin %s already installed", p.Name())
		}
	}
	r.mu.RUnlock()

	before := make(map[string]struct{})
	for _, t := range r.Types() {
		before[t] = struct{}{}
	}
	if err := p.Register(r); err != nil {
		return PluginMetadata{}, fmt.Errorf("install plugin %s: %w", p.Name(), err)
	}
	meta := PluginMetadata{Name: p.Name(), Version: p.Version()}
	for _, t := range r.Types() {
		if _, ok := before[t]; !ok {
			meta.Types = append(meta.Types, t)
		}
	}
	r.mu.Lock()
	r.plugins = append(r.plugins, meta)
	r.mu.Unlock()
	return meta, nil
}

// Plugins returns metadata of installed plugins in installation order.
func (r *Registry) Plugins() []PluginMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PluginMetadata, len(r.plugins))
	for i, meta := range r.plugins {
		out[i] = meta
		out[i].Types = append([]string(nil), meta.Types...)
	}
	return out
}
