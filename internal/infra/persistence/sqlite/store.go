// Package sqlite opens the statistics table in a SQLite file using the pure
// Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"opchain/internal/infra/persistence/table"
)

// Dialect describes SQLite to the table layer.
var Dialect = table.Dialect{Name: "sqlite", BlobType: "BLOB", Placeholder: table.Question}

// Open opens (creating when needed) the database at path, default opchain.db.
func Open(ctx context.Context, path string) (*table.Store, error) {
	if path == "" {
		path = "opchain.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers on the file
	db.SetMaxOpenConns(1)
	s, err := table.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
