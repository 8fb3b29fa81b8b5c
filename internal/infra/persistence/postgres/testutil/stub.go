// Package testutil provides an in-memory database/sql driver that speaks the
// small SQL dialect of the statistics table, so the postgres wiring can be
// tested without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Int64

// StubConn holds the tables as rows keyed by their first column and records
// every executed statement and query.
type StubConn struct {
	mu       sync.Mutex
	Execs    []string
	Queries  []string
	Tables   map[string]map[string]map[string]any
	FailExec bool
}

// NewStubDB registers a fresh driver and returns a sql.DB bound to it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string]map[string]map[string]any)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns the rows of table ordered by key.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.Tables[table]))
	for k := range c.Tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.Tables[table][k])
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Statements run through ExecContext and
// QueryContext instead.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn. Transactions are accepted and ignored.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger and fails together with FailExec.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return errors.New("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext for CREATE, INSERT (with an
// optional ON CONFLICT upsert) and DELETE ... WHERE col = $1.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("exec fail")
	}
	verb := strings.ToUpper(firstWord(query))
	switch verb {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "INSERT":
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("insert into %s: %d columns, %d args", table, len(cols), len(args))
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		key := fmt.Sprint(row[cols[0]])
		rows := c.table(table)
		if _, dup := rows[key]; dup && !strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
			return nil, fmt.Errorf("duplicate key %q in %s", key, table)
		}
		rows[key] = row
		return driver.RowsAffected(1), nil
	case "DELETE":
		table, col, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("delete from %s: missing argument", table)
		}
		removed := 0
		rows := c.table(table)
		for k, row := range rows {
			if row[col] == args[0].Value {
				delete(rows, k)
				removed++
			}
		}
		return driver.RowsAffected(removed), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

// QueryContext implements driver.QueryerContext for
// SELECT cols FROM table [WHERE col = $1 | WHERE col LIKE $1 [ESCAPE '\']].
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, query)
	table, cols, where, like, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if where != "" && len(args) == 0 {
		return nil, fmt.Errorf("select from %s: missing argument", table)
	}
	rows := c.table(table)
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &stubRows{cols: cols}
	for _, k := range keys {
		row := rows[k]
		if where != "" && !matches(row[where], args[0].Value, like) {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		out.rows = append(out.rows, vals)
	}
	return out, nil
}

func (c *StubConn) table(name string) map[string]map[string]any {
	if c.Tables[name] == nil {
		c.Tables[name] = make(map[string]map[string]any)
	}
	return c.Tables[name]
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func firstWord(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// parseInsert understands "INSERT INTO table (a, b, ...) VALUES ...".
func parseInsert(query string) (string, []string, error) {
	_, rest, ok := strings.Cut(query, "INTO ")
	if !ok {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table, rest, ok := strings.Cut(rest, "(")
	if !ok {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	list, _, ok := strings.Cut(rest, ")")
	if !ok {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	return strings.ToLower(strings.TrimSpace(table)), splitColumns(list), nil
}

// parseDelete understands "DELETE FROM table WHERE col = $1".
func parseDelete(query string) (string, string, error) {
	f := strings.Fields(strings.ToLower(strings.ReplaceAll(query, "=", " = ")))
	if len(f) < 6 || f[1] != "from" || f[3] != "where" || f[5] != "=" {
		return "", "", fmt.Errorf("cannot parse delete: %s", query)
	}
	return f[2], f[4], nil
}

// parseSelect understands "SELECT cols FROM table [WHERE col = $1]" and
// "SELECT cols FROM table WHERE col LIKE $1 [ESCAPE '\']".
func parseSelect(query string) (table string, cols []string, where string, like bool, err error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	colList, rest, ok := strings.Cut(strings.TrimPrefix(lower, "select "), " from ")
	if !ok || !strings.HasPrefix(lower, "select ") {
		return "", nil, "", false, fmt.Errorf("cannot parse select: %s", query)
	}
	f := strings.Fields(strings.ReplaceAll(rest, "=", " = "))
	if len(f) == 0 {
		return "", nil, "", false, fmt.Errorf("cannot parse select: %s", query)
	}
	if len(f) >= 3 && f[1] == "where" {
		where = f[2]
		like = len(f) >= 4 && f[3] == "like"
	}
	return f[0], splitColumns(colList), where, like, nil
}

func matches(value, arg any, like bool) bool {
	if !like {
		return value == arg
	}
	s, ok1 := value.(string)
	pattern, ok2 := arg.(string)
	return ok1 && ok2 && likeMatch(pattern, s)
}

// likeMatch evaluates a case-sensitive LIKE pattern with backslash escapes.
func likeMatch(pattern, s string) bool {
	p, str := []rune(pattern), []rune(s)
	var match func(i, j int) bool
	match = func(i, j int) bool {
		for i < len(p) {
			switch p[i] {
			case '%':
				for k := j; k <= len(str); k++ {
					if match(i+1, k) {
						return true
					}
				}
				return false
			case '_':
				if j >= len(str) {
					return false
				}
			case '\\':
				i++
				if i >= len(p) || j >= len(str) || p[i] != str[j] {
					return false
				}
			default:
				if j >= len(str) || p[i] != str[j] {
					return false
				}
			}
			i++
			j++
		}
		return j == len(str)
	}
	return match(0, 0)
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
