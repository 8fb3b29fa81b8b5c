package statstore_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"opchain/internal/blob"
	"opchain/internal/infra/persistence/postgres"
	"opchain/internal/infra/persistence/postgres/testutil"
	"opchain/internal/infra/persistence/table"
	"opchain/internal/lifecycle"
	"opchain/internal/statstore"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/plugins/stddev"
	"opchain/plugins/wind"
	fixtures "opchain/testutil"
)

func stores(t *testing.T) map[string]statstore.Store {
	t.Helper()
	ctx := context.Background()
	fs, err := statstore.Open(ctx, statstore.Config{Driver: statstore.DriverFilesystem, FSRoot: t.TempDir()})
	require.NoError(t, err)
	lite, err := statstore.Open(ctx, statstore.Config{Driver: statstore.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "stats.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	mem, err := statstore.Open(ctx, statstore.Config{})
	require.NoError(t, err)

	db, _ := testutil.NewStubDB()
	pgTable, err := table.New(ctx, db, postgres.Dialect)
	require.NoError(t, err)

	return map[string]statstore.Store{
		"memory":   mem,
		"fs":       fs,
		"s3":       statstore.NewBlobStore(blob.NewS3Mock("stats", "")),
		"sqlite":   lite,
		"postgres": statstore.NewTableStore(pgTable, statstore.DriverPostgres),
	}
}

func TestWriteReadOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadArray(ctx, "run/a")
			require.ErrorIs(t, err, statstore.ErrNotFound)

			first := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
			require.NoError(t, s.WriteArray(ctx, "run/a", first))
			second := mat.NewDense(1, 2, []float64{-1, math.Pi})
			require.NoError(t, s.WriteArray(ctx, "run/a", second))
			require.NoError(t, s.WriteArray(ctx, "run/b", first))
			require.NoError(t, s.WriteArray(ctx, "other", first))

			got, err := s.ReadArray(ctx, "run/a")
			require.NoError(t, err)
			assert.True(t, mat.Equal(second, got), "overwrite not visible: %v", mat.Formatted(got))

			keys, err := s.Keys(ctx, "run/")
			require.NoError(t, err)
			if diff := cmp.Diff([]string{"run/a", "run/b"}, keys); diff != "" {
				t.Fatalf("keys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s, err := statstore.Open(ctx, statstore.Config{Driver: statstore.DriverMemory})
	require.NoError(t, err)
	a := mat.NewDense(1, 1, []float64{7})
	require.NoError(t, s.WriteArray(ctx, "k", a))
	a.Set(0, 0, 0)
	got, err := s.ReadArray(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.At(0, 0))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := statstore.Open(context.Background(), statstore.Config{Driver: "gcs"})
	require.Error(t, err)
}

func TestCorruptPayloadIsReported(t *testing.T) {
	ctx := context.Background()
	b := blob.NewMemory()
	_, err := b.Put(ctx, "bad", bytes.NewReader([]byte("not a matrix")), blob.PutOptions{})
	require.NoError(t, err)
	_, err = statstore.NewBlobStore(b).ReadArray(ctx, "bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, statstore.ErrNotFound))
}

// Calibrated statistics survive a trip through a persistent backend.
func TestLifecycleRoundTripThroughSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := statstore.Open(ctx, statstore.Config{Driver: statstore.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "stats.db")})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	geom := fixtures.Grid(t, 3, 3)
	outer := fixtures.Vars(t, 2, field.EastwardWind, field.NorthwardWind)
	writer := fixtures.Chain(t, geom, outer,
		block.Config{Type: wind.Type},
		block.Config{Type: stddev.Type, ID: "sd", Calibration: &block.CalibrationConfig{Write: &block.WriteConfig{Prefix: "exp"}}},
	)
	members := func(context.Context) ([]*field.FieldSet, error) {
		out := make([]*field.FieldSet, 2)
		for i, sign := range []float64{-1, 1} {
			out[i] = fixtures.Fill(t, geom, outer, func(string, int, int) float64 { return sign * 2 })
		}
		return out, nil
	}
	_, err = lifecycle.New(s, nil).Prepare(ctx, writer, members)
	require.NoError(t, err)

	reader := fixtures.Chain(t, geom, outer,
		block.Config{Type: wind.Type},
		block.Config{Type: stddev.Type, ID: "sd", Read: &block.ReadConfig{Prefix: "exp"}},
	)
	_, err = lifecycle.New(s, nil).Prepare(ctx, reader, nil)
	require.NoError(t, err)
	sigma, ok := reader.Blocks()[1].(*stddev.Block).Sigma(field.EastwardWind)
	require.True(t, ok)
	assert.InDelta(t, 2*math.Sqrt2, sigma.At(4, 1), 1e-12)
}
