package blob

import (
	"context"
	"fmt"

	"opchain/internal/infra/blob/fs"
	memorystore "opchain/internal/infra/blob/memory"
	infraS3 "opchain/internal/infra/blob/s3"
)

// S3Config configures the S3 driver.
type S3Config = infraS3.Config

// Config selects and configures a backend.
type Config struct {
	Driver Driver   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// Open constructs the Store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem returns a Store keeping blobs as files under root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns a process-local Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns a Store on an S3-compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewS3Mock returns an S3 Store talking to an in-process fake endpoint.
func NewS3Mock(bucket, prefix string) Store { return infraS3.NewMock(bucket, prefix) }
