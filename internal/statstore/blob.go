package statstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"opchain/internal/blob"
)

// BlobStore keeps each array as one blob named by its key.
type BlobStore struct {
	blobs blob.Store
	opts  options
}

// NewBlobStore wraps a blob backend.
func NewBlobStore(b blob.Store, opts ...Option) *BlobStore {
	return &BlobStore{blobs: b, opts: buildOptions(opts)}
}

func (s *BlobStore) ReadArray(ctx context.Context, key string) (*mat.Dense, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return decode(key, b)
}

// WriteArray replaces any array already stored under key.
func (s *BlobStore) WriteArray(ctx context.Context, key string, a mat.Matrix) error {
	payload, md, err := encode(a)
	if err != nil {
		return err
	}
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	md["written_at"] = s.opts.now().Format(time.RFC3339Nano)
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: ContentType, Metadata: md}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.opts.logger.Debug("statistic written", zap.String("key", key), zap.String("driver", string(s.blobs.Driver())), zap.Int("bytes", len(payload)))
	return nil
}

func (s *BlobStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys, nil
}

func (s *BlobStore) Driver() Driver { return Driver(s.blobs.Driver()) }

func (s *BlobStore) Close() error { return nil }
