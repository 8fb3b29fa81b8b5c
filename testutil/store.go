package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ErrNoArray is returned by MapStore for unknown keys.
var ErrNoArray = fmt.Errorf("testutil: array not found")

// MapStore is an in-memory block.StatisticsStore that copies on read and write.
type MapStore struct {
	mu     sync.Mutex
	arrays map[string]*mat.Dense
}

// NewMapStore returns an empty store.
func NewMapStore() *MapStore { return &MapStore{arrays: make(map[string]*mat.Dense)} }

func (s *MapStore) ReadArray(_ context.Context, key string) (*mat.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.arrays[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoArray, key)
	}
	return mat.DenseCopyOf(a), nil
}

func (s *MapStore) WriteArray(_ context.Context, key string, a mat.Matrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrays[key] = mat.DenseCopyOf(a)
	return nil
}

// Keys returns the stored keys in order.
func (s *MapStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.arrays))
	for k := range s.arrays {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
