package statstore

import (
	"context"
	"fmt"

	"opchain/internal/blob"
	"opchain/internal/infra/persistence/postgres"
	"opchain/internal/infra/persistence/sqlite"
)

// Config selects the backend and its settings.
type Config struct {
	Driver      Driver        `yaml:"driver"`
	FSRoot      string        `yaml:"fs_root"`
	S3          blob.S3Config `yaml:"s3"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// Open builds the Store named by cfg.Driver (default memory).
func Open(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewBlobStore(blob.NewMemory(), opts...), nil
	case DriverFilesystem, DriverS3:
		b, err := blob.Open(ctx, blob.Config{Driver: blob.Driver(cfg.Driver), FSRoot: cfg.FSRoot, S3: cfg.S3})
		if err != nil {
			return nil, err
		}
		return NewBlobStore(b, opts...), nil
	case DriverSQLite:
		t, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewTableStore(t, DriverSQLite, opts...), nil
	case DriverPostgres:
		t, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return NewTableStore(t, DriverPostgres, opts...), nil
	default:
		return nil, fmt.Errorf("unknown statistics driver %q", cfg.Driver)
	}
}
