package testutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func TestStubUpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS statistics (stat_key TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	insert := "INSERT INTO statistics (stat_key, payload) VALUES ($1, $2)"
	upsert := insert + " ON CONFLICT (stat_key) DO UPDATE SET payload = excluded.payload"
	for _, key := range []string{"b", "a"} {
		if _, err := db.ExecContext(ctx, insert, key, []byte(key+"-1")); err != nil {
			t.Fatalf("insert %s: %v", key, err)
		}
	}
	if _, err := db.ExecContext(ctx, insert, "a", []byte("dup")); err == nil {
		t.Fatalf("plain insert of an existing key should fail")
	}
	if _, err := db.ExecContext(ctx, upsert, "a", []byte("a-2")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var payload []byte
	if err := db.QueryRowContext(ctx, "SELECT payload FROM statistics WHERE stat_key = $1", "a").Scan(&payload); err != nil {
		t.Fatalf("select: %v", err)
	}
	if string(payload) != "a-2" {
		t.Fatalf("payload = %q, want a-2", payload)
	}
	err := db.QueryRowContext(ctx, "SELECT payload FROM statistics WHERE stat_key = $1", "zzz").Scan(&payload)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing key: %v", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT stat_key FROM statistics")
	if err != nil {
		t.Fatalf("select all: %v", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, k)
	}
	if err := rows.Close(); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("keys = %v", keys)
	}

	for want, n := range []int64{1, 0} {
		res, err := db.ExecContext(ctx, "DELETE FROM statistics WHERE stat_key=$1", "a")
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if got, _ := res.RowsAffected(); got != n {
			t.Fatalf("delete #%d removed %d rows, want %d", want, got, n)
		}
	}
	if got := conn.Rows("statistics"); len(got) != 1 || got[0]["stat_key"] != "b" {
		t.Fatalf("rows = %v", got)
	}
	if len(conn.Execs) != 7 {
		t.Fatalf("recorded %d statements, want 7", len(conn.Execs))
	}
}

func TestStubFailures(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, "UPDATE statistics SET payload = $1", []byte("x")); err == nil {
		t.Fatalf("unsupported statement should fail")
	}
	if _, err := db.QueryContext(ctx, "SHOW TABLES"); err == nil {
		t.Fatalf("unparseable query should fail")
	}
	conn.FailExec = true
	if err := db.PingContext(ctx); err == nil {
		t.Fatalf("ping should fail")
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (k TEXT)"); err == nil {
		t.Fatalf("exec should fail")
	}
}

func TestParsers(t *testing.T) {
	table, cols, err := parseInsert("INSERT INTO Statistics (stat_key, Payload) VALUES ($1, $2)")
	if err != nil || table != "statistics" || len(cols) != 2 || cols[1] != "payload" {
		t.Fatalf("parseInsert = %q %v %v", table, cols, err)
	}
	if _, _, err := parseInsert("INSERT statistics"); err == nil {
		t.Fatalf("expected insert parse error")
	}
	table, col, err := parseDelete("DELETE FROM statistics WHERE stat_key=$1")
	if err != nil || table != "statistics" || col != "stat_key" {
		t.Fatalf("parseDelete = %q %q %v", table, col, err)
	}
	if _, _, err := parseDelete("DELETE FROM statistics"); err == nil {
		t.Fatalf("expected delete parse error")
	}
	table, cols, where, like, err := parseSelect("SELECT payload, metadata FROM statistics WHERE stat_key = $1")
	if err != nil || table != "statistics" || len(cols) != 2 || where != "stat_key" || like {
		t.Fatalf("parseSelect = %q %v %q %v %v", table, cols, where, like, err)
	}
	_, _, where, like, err = parseSelect(`SELECT stat_key FROM statistics WHERE stat_key LIKE $1 ESCAPE '\'`)
	if err != nil || where != "stat_key" || !like {
		t.Fatalf("parseSelect LIKE = %q %v %v", where, like, err)
	}
}

func TestLikeMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"run/%", "run/x", true},
		{"run/%", "Run/x", false},
		{"run/%", "other", false},
		{"a_%", "ab", true},
		{`a\_%`, "ab", false},
		{`a\_%`, "a_b", true},
		{`50\%%`, "50%/x", true},
		{`50\%%`, "500", false},
		{"%", "", true},
		{"a", "ab", false},
	}
	for _, tc := range cases {
		if got := likeMatch(tc.pattern, tc.s); got != tc.want {
			t.Errorf("likeMatch(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
