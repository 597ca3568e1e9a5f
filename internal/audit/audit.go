// Package audit persists a record of every dispatched JSON-RPC invocation
// to SQLite for operational forensics.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO required

	"github.com/tutu-network/infergate/internal/dispatch"
)

// DB is a SQLite-backed dispatch.AuditSink.
type DB struct {
	db *sql.DB
}

var _ dispatch.AuditSink = (*DB)(nil)

// Open creates or opens the SQLite database at dir/audit.db, enabling WAL
// mode and a busy timeout so concurrent workers never collide on the
// single writer connection.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	dbPath := filepath.Join(dir, "audit.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }
func (d *DB) Ping() error  { return d.db.Ping() }

func (d *DB) migrate() error {
	_, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS invocations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		ts         INTEGER NOT NULL,
		method     TEXT NOT NULL,
		handle_id  INTEGER NOT NULL,
		ok         BOOLEAN NOT NULL,
		detail     TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`CREATE INDEX IF NOT EXISTS idx_invocations_method ON invocations(method)`)
	return err
}

// RecordInvocation implements dispatch.AuditSink. The insert runs
// synchronously; a failed write is discarded and nothing is returned to
// the caller.
func (d *DB) RecordInvocation(method string, handleID uint32, ok bool, detail string) {
	_, _ = d.db.Exec(
		`INSERT INTO invocations (ts, method, handle_id, ok, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), method, handleID, ok, detail,
	)
}

// Invocation is a single audited row, returned by Recent for inspection
// (e.g. an operator CLI command or a support ticket).
type Invocation struct {
	ID       int64
	TSMillis int64
	Method   string
	HandleID uint32
	OK       bool
	Detail   string
}

// Recent returns the most recent n invocations, newest first.
func (d *DB) Recent(n int) ([]Invocation, error) {
	rows, err := d.db.Query(
		`SELECT id, ts, method, handle_id, ok, detail FROM invocations ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(&inv.ID, &inv.TSMillis, &inv.Method, &inv.HandleID, &inv.OK, &inv.Detail); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
