// Package statstore persists block statistics (dense arrays) on a blob
// backend or a SQL table.
package statstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"opchain/pkg/block"
)

// ErrNotFound is returned by ReadArray for keys never written.
var ErrNotFound = errors.New("statstore: statistic not found")

// ContentType labels encoded arrays.
const ContentType = "application/x-gonum-dense"

// Driver names a statistics backend.
type Driver string

const (
	DriverMemory     Driver = "memory"
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverSQLite     Driver = "sqlite"
	DriverPostgres   Driver = "postgres"
)

// Store is a block.StatisticsStore that can also enumerate and release.
type Store interface {
	block.StatisticsStore
	// Keys lists written keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Driver() Driver
	Close() error
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the logger used to report writes.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func encode(a mat.Matrix) ([]byte, map[string]string, error) {
	d := mat.DenseCopyOf(a)
	b, err := d.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("encode array: %w", err)
	}
	r, c := d.Dims()
	return b, map[string]string{
		"rows":     strconv.Itoa(r),
		"cols":     strconv.Itoa(c),
		"write_id": uuid.NewString(),
	}, nil
}

func decode(key string, b []byte) (*mat.Dense, error) {
	var d mat.Dense
	if err := d.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &d, nil
}
