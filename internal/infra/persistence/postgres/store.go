// Package postgres opens the statistics table on a Postgres server through
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"opchain/internal/infra/persistence/table"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/opchain?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect describes Postgres to the table layer.
var Dialect = table.Dialect{Name: "postgres", BlobType: "BYTEA", Placeholder: table.Dollar}

// Open connects to dsn (default postgres://localhost/opchain), pings the
// server and ensures the statistics table exists.
func Open(ctx context.Context, dsn string) (*table.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := table.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
