package statstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"opchain/internal/infra/persistence/table"
)

// TableStore keeps arrays as rows of the SQL statistics table.
type TableStore struct {
	t      *table.Store
	driver Driver
	opts   options
}

// NewTableStore wraps an opened table.
func NewTableStore(t *table.Store, driver Driver, opts ...Option) *TableStore {
	return &TableStore{t: t, driver: driver, opts: buildOptions(opts)}
}

func (s *TableStore) ReadArray(ctx context.Context, key string) (*mat.Dense, error) {
	rec, err := s.t.Get(ctx, key)
	if errors.Is(err, table.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return decode(key, rec.Payload)
}

func (s *TableStore) WriteArray(ctx context.Context, key string, a mat.Matrix) error {
	payload, md, err := encode(a)
	if err != nil {
		return err
	}
	if err := s.t.Put(ctx, table.Record{Key: key, Payload: payload, Metadata: md, UpdatedAt: s.opts.now()}); err != nil {
		return err
	}
	s.opts.logger.Debug("statistic written", zap.String("key", key), zap.String("driver", string(s.driver)), zap.Int("bytes", len(payload)))
	return nil
}

func (s *TableStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.t.Keys(ctx, prefix)
}

func (s *TableStore) Driver() Driver { return s.driver }

func (s *TableStore) Close() error { return s.t.Close() }
