package sqlstore

import (
	"fmt"
	"strings"
)

const columns = "id, status, input_json, result_text, error_message, created_at, updated_at, expires_at"

// Dialect holds the statements that differ between SQL backends.
type Dialect struct {
	Name   string
	Schema string

	upsert      string
	selectOne   string
	selectLock  string
	update      string
	deleteStale string
}

// MySQL dialect (go-sql-driver/mysql, ? placeholders).
var MySQL = newDialect("mysql", func(int) string { return "?" },
	`ON DUPLICATE KEY UPDATE
  status=VALUES(status), input_json=VALUES(input_json), result_text=VALUES(result_text),
  error_message=VALUES(error_message), updated_at=VALUES(updated_at), expires_at=VALUES(expires_at)`,
	`CREATE TABLE IF NOT EXISTS analyses (
  id            VARCHAR(64)  NOT NULL PRIMARY KEY,
  status        VARCHAR(16)  NOT NULL,
  input_json    JSON         NOT NULL,
  result_text   TEXT         NULL,
  error_message TEXT         NULL,
  created_at    DATETIME(6)  NOT NULL,
  updated_at    DATETIME(6)  NOT NULL,
  expires_at    DATETIME(6)  NOT NULL,
  INDEX idx_analyses_expires_at (expires_at)
)`)

// Postgres dialect (lib/pq, $n placeholders).
var Postgres = newDialect("postgres", func(n int) string { return fmt.Sprintf("$%d", n) },
	`ON CONFLICT (id) DO UPDATE SET
  status=EXCLUDED.status, input_json=EXCLUDED.input_json, result_text=EXCLUDED.result_text,
  error_message=EXCLUDED.error_message, updated_at=EXCLUDED.updated_at, expires_at=EXCLUDED.expires_at`,
	`CREATE TABLE IF NOT EXISTS analyses (
  id            VARCHAR(64)  PRIMARY KEY,
  status        VARCHAR(16)  NOT NULL,
  input_json    JSONB        NOT NULL,
  result_text   TEXT         NULL,
  error_message TEXT         NULL,
  created_at    TIMESTAMPTZ  NOT NULL,
  updated_at    TIMESTAMPTZ  NOT NULL,
  expires_at    TIMESTAMPTZ  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_expires_at ON analyses (expires_at)`)

func newDialect(name string, ph func(int) string, conflict, schema string) Dialect {
	phs := func(from, n int) string {
		out := make([]string, n)
		for i := range out {
			out[i] = ph(from + i)
		}
		return strings.Join(out, ",")
	}
	selectOne := fmt.Sprintf("SELECT %s FROM analyses WHERE id=%s LIMIT 1", columns, ph(1))
	return Dialect{
		Name:       name,
		Schema:     schema,
		upsert:     fmt.Sprintf("INSERT INTO analyses (%s) VALUES (%s) %s", columns, phs(1, 8), conflict),
		selectOne:  selectOne,
		selectLock: selectOne + " FOR UPDATE",
		update: fmt.Sprintf("UPDATE analyses SET status=%s, result_text=%s, error_message=%s, updated_at=%s, expires_at=%s WHERE id=%s",
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6)),
		deleteStale: fmt.Sprintf("DELETE FROM analyses WHERE id=%s AND expires_at<=%s", ph(1), ph(2)),
	}
}
