package block

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Options holds block-specific configuration keys.
type Options map[string]any

// Float returns a numeric option or def when absent.
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: option %s must be numeric, got %T", ErrInvalidConfiguration, key, v)
	}
}

// String returns a string option or def when absent.
func (o Options) String(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: option %s must be a string, got %T", ErrInvalidConfiguration, key, v)
	}
	return s, nil
}

// Strings returns a list-of-strings option or nil when absent.
func (o Options) Strings(key string) ([]string, error) {
	var out []string
	if err := o.Decode(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode re-decodes a structured option into out. Absent keys leave out untouched.
func (o Options) Decode(key string, out any) error {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: option %s: %v", ErrInvalidConfiguration, key, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: option %s: %w", ErrInvalidConfiguration, key, err)
	}
	return nil
}
