// Package config loads the opchain run configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"opchain/internal/blocktest"
	"opchain/internal/ensemble"
	"opchain/internal/logging"
	"opchain/internal/statstore"
	"opchain/internal/synthetic"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
)

// Config is a complete run description.
type Config struct {
	Geometry   geometry.FunctionSpace `yaml:"geometry"`
	Variables  []field.Variable       `yaml:"variables"`
	// ChainVariables are the outer variables of the chain; model fields are
	// projected onto them. Empty means Variables.
	ChainVariables []field.Variable `yaml:"chain_variables"`
	Background synthetic.Config       `yaml:"background"`
	Statistics statstore.Config       `yaml:"statistics"`
	Ensemble   ensemble.Config        `yaml:"ensemble"`
	// Blocks lists the chain innermost first.
	Blocks  []block.Config   `yaml:"blocks"`
	Test    blocktest.Config `yaml:"test"`
	Logging logging.Config   `yaml:"logging"`
	Metrics MetricsConfig    `yaml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used before the file is applied.
func Default() *Config {
	return &Config{
		Geometry:   geometry.FunctionSpace{NX: 16, NY: 16, DX: 100000, DY: 100000},
		Background: synthetic.DefaultConfig(),
		Statistics: statstore.Config{Driver: statstore.DriverMemory},
		Ensemble:   ensemble.DefaultConfig(),
		Test:       blocktest.DefaultConfig(),
		Logging:    logging.Config{Level: "info"},
	}
}

// Load reads path (when non-empty) over the defaults, applies OPCHAIN_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied configuration path
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Ensemble.Synthetic = cfg.Background
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw over the defaults without consulting the environment.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := decode(raw, cfg); err != nil {
		return nil, err
	}
	cfg.Ensemble.Synthetic = cfg.Background
	return cfg, cfg.Validate()
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Logging.Level = getEnvOrDefault("OPCHAIN_LOG_LEVEL", c.Logging.Level)
	c.Metrics.Addr = getEnvOrDefault("OPCHAIN_METRICS_ADDR", c.Metrics.Addr)

	st := &c.Statistics
	st.Driver = statstore.Driver(getEnvOrDefault("OPCHAIN_STATISTICS_DRIVER", string(st.Driver)))
	st.FSRoot = getEnvOrDefault("OPCHAIN_FS_ROOT", st.FSRoot)
	st.SQLitePath = getEnvOrDefault("OPCHAIN_SQLITE_PATH", st.SQLitePath)
	st.PostgresDSN = getEnvOrDefault("OPCHAIN_POSTGRES_DSN", getEnvOrDefault("DATABASE_URL", st.PostgresDSN))
	st.S3.Bucket = getEnvOrDefault("OPCHAIN_S3_BUCKET", st.S3.Bucket)
	st.S3.Region = getEnvOrDefault("OPCHAIN_S3_REGION", st.S3.Region)
	st.S3.Prefix = getEnvOrDefault("OPCHAIN_S3_PREFIX", st.S3.Prefix)
	st.S3.Endpoint = getEnvOrDefault("OPCHAIN_S3_ENDPOINT", st.S3.Endpoint)
	st.S3.AccessKeyID = getEnvOrDefault("OPCHAIN_S3_ACCESS_KEY_ID", st.S3.AccessKeyID)
	st.S3.SecretAccessKey = getEnvOrDefault("OPCHAIN_S3_SECRET_ACCESS_KEY", st.S3.SecretAccessKey)
	st.S3.PathStyle = getEnvBoolOrDefault("OPCHAIN_S3_PATH_STYLE", st.S3.PathStyle)

	var err error
	if c.Ensemble.Members, err = getEnvIntOrDefault("OPCHAIN_ENSEMBLE_MEMBERS", c.Ensemble.Members); err != nil {
		return err
	}
	if c.Test.Seed, err = getEnvUintOrDefault("OPCHAIN_TEST_SEED", c.Test.Seed); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration is runnable.
func (c *Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if len(c.Variables) == 0 {
		return fmt.Errorf("config: at least one model variable required")
	}
	if _, err := field.NewVariables(c.Variables...); err != nil {
		return fmt.Errorf("config: variables: %w", err)
	}
	if _, err := field.NewVariables(c.ChainVariables...); err != nil {
		return fmt.Errorf("config: chain variables: %w", err)
	}
	if len(c.Blocks) == 0 {
		return fmt.Errorf("config: at least one block required")
	}
	for i, b := range c.Blocks {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("config: blocks[%d]: %w", i, err)
		}
	}
	switch c.Statistics.Driver {
	case statstore.DriverMemory, statstore.DriverFilesystem, statstore.DriverS3, statstore.DriverSQLite, statstore.DriverPostgres:
	default:
		return fmt.Errorf("config: unknown statistics driver %q", c.Statistics.Driver)
	}
	if c.Statistics.Driver == statstore.DriverS3 && c.Statistics.S3.Bucket == "" {
		return fmt.Errorf("config: s3 statistics need a bucket")
	}
	if err := c.Ensemble.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Test.AdjointTolerance <= 0 || c.Test.InverseTolerance <= 0 {
		return fmt.Errorf("config: test tolerances must be positive")
	}
	if c.Test.Trials < 1 {
		return fmt.Errorf("config: test trials must be at least 1, got %d", c.Test.Trials)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Grid builds the configured geometry.
func (c *Config) Grid() (*geometry.Grid, error) { return geometry.NewGrid(c.Geometry) }

// ModelVariables returns the model variables as an ordered set.
func (c *Config) ModelVariables() (field.Variables, error) { return field.NewVariables(c.Variables...) }

// OuterVariables returns the chain's outer variables.
func (c *Config) OuterVariables() (field.Variables, error) {
	if len(c.ChainVariables) == 0 {
		return c.ModelVariables()
	}
	return field.NewVariables(c.ChainVariables...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvUintOrDefault(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
