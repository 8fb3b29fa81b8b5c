// Package table keeps statistics payloads in a single SQL table shared by the
// sqlite and postgres backends. The backends differ only in their Dialect.
package table

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Name is the table holding statistics rows.
const Name = "statistics"

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("table: not found")

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name string
	// BlobType is the column type used for payloads.
	BlobType string
	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder func(i int) string
}

// Question renders every placeholder as "?".
func Question(int) string { return "?" }

// Dollar renders placeholders as $1, $2, ...
func Dollar(i int) string { return fmt.Sprintf("$%d", i) }

// Record is one stored payload.
type Record struct {
	Key       string
	Payload   []byte
	Metadata  map[string]string
	UpdatedAt time.Time
}

// Store reads and writes Records.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// New wraps db, creating the statistics table when absent.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if d.Placeholder == nil {
		d.Placeholder = Question
	}
	if d.BlobType == "" {
		d.BlobType = "BLOB"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		stat_key TEXT PRIMARY KEY,
		payload %s NOT NULL,
		metadata TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, Name, d.BlobType)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("%s: ensure %s table: %w", d.Name, Name, err)
	}
	return &Store{db: db, dialect: d}, nil
}

func (s *Store) ph(i int) string { return s.dialect.Placeholder(i) }

// Put inserts or replaces the record under rec.Key.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Key) == "" {
		return fmt.Errorf("%s: empty key", s.dialect.Name)
	}
	md := rec.Metadata
	if md == nil {
		md = map[string]string{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("%s: encode metadata: %w", s.dialect.Name, err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO %s (stat_key, payload, metadata, updated_at) VALUES (%s, %s, %s, %s)
		ON CONFLICT (stat_key) DO UPDATE SET payload = excluded.payload, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		Name, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, query, rec.Key, rec.Payload, string(mdJSON), rec.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("%s: upsert %s: %w", s.dialect.Name, rec.Key, err)
	}
	return nil
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key string) (Record, error) {
	query := fmt.Sprintf(`SELECT payload, metadata, updated_at FROM %s WHERE stat_key = %s`, Name, s.ph(1))
	var (
		payload []byte
		mdJSON  string
		updated string
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload, &mdJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%s: select %s: %w", s.dialect.Name, key, err)
	}
	rec := Record{Key: key, Payload: payload}
	if err := json.Unmarshal([]byte(mdJSON), &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("%s: decode metadata of %s: %w", s.dialect.Name, key, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Record{}, fmt.Errorf("%s: decode timestamp of %s: %w", s.dialect.Name, key, err)
	}
	return rec, nil
}

// likeEscaper escapes the LIKE wildcards so a prefix matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Keys lists stored keys starting with prefix in ascending order. The prefix is
// matched in SQL; sqlite's LIKE ignores ASCII case, so rows are checked again.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT stat_key FROM %s WHERE stat_key LIKE %s ESCAPE '\'`, Name, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("%s: list keys: %w", s.dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%s: scan key: %w", s.dialect.Name, err)
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate keys: %w", s.dialect.Name, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key, reporting whether a row existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE stat_key = %s`, Name, s.ph(1)), key)
	if err != nil {
		return false, fmt.Errorf("%s: delete %s: %w", s.dialect.Name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Dialect returns the engine description.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }
