package table_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"opchain/internal/infra/persistence/postgres"
	"opchain/internal/infra/persistence/postgres/testutil"
	"opchain/internal/infra/persistence/sqlite"
	"opchain/internal/infra/persistence/table"
)

func stores(t *testing.T) map[string]*table.Store {
	t.Helper()
	ctx := context.Background()
	lite, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = lite.Close() })

	db, _ := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	pg, err := postgres.Open(ctx, "")
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	return map[string]*table.Store{"sqlite": lite, "postgres": pg}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "run/x"); !errors.Is(err, table.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			rec := table.Record{Key: "run/x", Payload: []byte{1, 2, 3}, Metadata: map[string]string{"rows": "3"}}
			if err := s.Put(ctx, rec); err != nil {
				t.Fatalf("put: %v", err)
			}
			rec.Payload = []byte{4, 5}
			if err := s.Put(ctx, rec); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			if err := s.Put(ctx, table.Record{Key: "run/y", Payload: []byte{9}}); err != nil {
				t.Fatalf("put y: %v", err)
			}
			if err := s.Put(ctx, table.Record{Key: "other", Payload: []byte{0}}); err != nil {
				t.Fatalf("put other: %v", err)
			}
			got, err := s.Get(ctx, "run/x")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff([]byte{4, 5}, got.Payload); diff != "" {
				t.Fatalf("payload mismatch (-want +got):\n%s", diff)
			}
			if got.Metadata["rows"] != "3" || got.UpdatedAt.IsZero() {
				t.Fatalf("unexpected record %+v", got)
			}
			keys, err := s.Keys(ctx, "run/")
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			if diff := cmp.Diff([]string{"run/x", "run/y"}, keys); diff != "" {
				t.Fatalf("keys mismatch (-want +got):\n%s", diff)
			}
			ok, err := s.Delete(ctx, "run/x")
			if err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			if ok, _ := s.Delete(ctx, "run/x"); ok {
				t.Fatalf("second delete reported a row")
			}
		})
	}
}

func TestKeysMatchPrefixLiterally(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"a_1", "ab", "A_2", `a\b`, "50%/x", "500"} {
				if err := s.Put(ctx, table.Record{Key: key, Payload: []byte{1}}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			for prefix, want := range map[string][]string{
				"a_":   {"a_1"},
				"50%":  {"50%/x"},
				`a\`:   {`a\b`},
				"none": nil,
				"":     {"50%/x", "500", "A_2", `a\b`, "a_1", "ab"},
			} {
				keys, err := s.Keys(ctx, prefix)
				if err != nil {
					t.Fatalf("keys %q: %v", prefix, err)
				}
				if diff := cmp.Diff(want, keys); diff != "" {
					t.Fatalf("keys %q mismatch (-want +got):\n%s", prefix, diff)
				}
			}
		})
	}
}

func TestPostgresFiltersKeysInSQL(t *testing.T) {
	db, conn := testutil.NewStubDB()
	s, err := table.New(context.Background(), db, postgres.Dialect)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Keys(context.Background(), "run/"); err != nil {
		t.Fatalf("keys: %v", err)
	}
	last := conn.Queries[len(conn.Queries)-1]
	if !strings.Contains(last, "WHERE stat_key LIKE $1") {
		t.Fatalf("unexpected keys query %q", last)
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	for name, s := range stores(t) {
		if err := s.Put(context.Background(), table.Record{Key: " "}); err == nil {
			t.Fatalf("%s: expected empty key error", name)
		}
	}
}

func TestPostgresIssuesDollarPlaceholders(t *testing.T) {
	db, conn := testutil.NewStubDB()
	s, err := table.New(context.Background(), db, postgres.Dialect)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Put(context.Background(), table.Record{Key: "k", Payload: []byte{1}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	last := conn.Execs[len(conn.Execs)-1]
	if !strings.Contains(last, "$4") || !strings.Contains(last, "ON CONFLICT (stat_key)") {
		t.Fatalf("unexpected upsert statement %q", last)
	}
}

func TestPostgresPingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := postgres.Open(context.Background(), "postgres://x"); err == nil {
		t.Fatalf("expected ping failure")
	}
}
