package block

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnsembleType is the type name of the block that always calibrates.
const EnsembleType = "Ensemble"

// Mode is the lifecycle a block follows after construction.
type Mode int

const (
	// PassThrough blocks carry no statistics.
	PassThrough Mode = iota
	// ReadMode blocks load persisted statistics.
	ReadMode
	// CalibrateMode blocks estimate statistics from an ensemble.
	CalibrateMode
)

func (m Mode) String() string {
	switch m {
	case ReadMode:
		return "read"
	case CalibrateMode:
		return "calibrate"
	default:
		return "pass-through"
	}
}

// ReadConfig locates persisted statistics.
type ReadConfig struct {
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// WriteConfig locates where calibrated statistics are persisted.
type WriteConfig struct {
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// CalibrationConfig holds calibration hyperparameters and an optional write target.
type CalibrationConfig struct {
	Write      *WriteConfig `yaml:"write,omitempty" json:"write,omitempty"`
	Parameters Options      `yaml:",inline" json:"parameters,omitempty"`
}

// Config is one entry of a chain configuration.
type Config struct {
	Type        string             `yaml:"type" json:"type"`
	ID          string             `yaml:"id,omitempty" json:"id,omitempty"`
	Read        *ReadConfig        `yaml:"read,omitempty" json:"read,omitempty"`
	Calibration *CalibrationConfig `yaml:"calibration,omitempty" json:"calibration,omitempty"`
	Options     Options            `yaml:",inline" json:"options,omitempty"`
}

// Lifecycle is the decided mode of a block together with the configuration that selected it.
type Lifecycle struct {
	Mode        Mode
	Read        ReadConfig
	Calibration CalibrationConfig
}

// WritesAfterCalibration reports whether calibrated statistics are persisted immediately.
func (l Lifecycle) WritesAfterCalibration() bool {
	return l.Mode == CalibrateMode && l.Calibration.Write != nil
}

// Lifecycle decides the block mode. Read and calibration together are always a
// conflict; the Ensemble block calibrates even without a calibration section.
func (c Config) Lifecycle() (Lifecycle, error) {
	switch {
	case c.Read != nil && c.Calibration != nil:
		return Lifecycle{}, fmt.Errorf("%w: %s", ErrConflictingConfiguration, c.Identity())
	case c.Type == EnsembleType && c.Read != nil:
		return Lifecycle{}, fmt.Errorf("%w: %s always calibrates and cannot read", ErrConflictingConfiguration, c.Identity())
	case c.Calibration != nil:
		return Lifecycle{Mode: CalibrateMode, Calibration: *c.Calibration}, nil
	case c.Type == EnsembleType:
		return Lifecycle{Mode: CalibrateMode}, nil
	case c.Read != nil:
		return Lifecycle{Mode: ReadMode, Read: *c.Read}, nil
	default:
		return Lifecycle{Mode: PassThrough}, nil
	}
}

// Validate checks the type is set and the lifecycle is unambiguous.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Type) == "" {
		return fmt.Errorf("%w: block type required", ErrInvalidConfiguration)
	}
	_, err := c.Lifecycle()
	return err
}

// Identity is the name statistics are keyed by.
func (c Config) Identity() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Type
}

// ReadKey returns the store key of a statistic loaded by this block.
func (c Config) ReadKey(stat string) string {
	prefix := ""
	if c.Read != nil {
		prefix = c.Read.Prefix
	}
	return path.Join(prefix, c.Identity(), stat)
}

// WriteKey returns the store key a statistic of this block is persisted under.
func (c Config) WriteKey(stat string) string {
	prefix := ""
	switch {
	case c.Calibration != nil && c.Calibration.Write != nil:
		prefix = c.Calibration.Write.Prefix
	case c.Read != nil:
		prefix = c.Read.Prefix
	}
	return path.Join(prefix, c.Identity(), stat)
}

// Hyperparameters returns the calibration parameters, or nil.
func (c Config) Hyperparameters() Options {
	if c.Calibration == nil {
		return nil
	}
	return c.Calibration.Parameters
}

// UnmarshalYAML rejects conflicting configurations while decoding.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	cfg := Config(p)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*c = cfg
	return nil
}
