package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
  id          TEXT PRIMARY KEY,
  at          INTEGER NOT NULL,
  remote_host TEXT,
  remote_addr TEXT,
  verb        TEXT NOT NULL,
  name        TEXT,
  attribute   TEXT,
  operation   TEXT,
  status      INTEGER NOT NULL,
  duration_us INTEGER NOT NULL,
  error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_records(at);
CREATE INDEX IF NOT EXISTS idx_audit_verb_at ON audit_records(verb, at);
`

// SQLiteStore persists audit records in an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Append(rec Record) error {
	_, err := s.db.Exec(`
INSERT INTO audit_records (id, at, remote_host, remote_addr, verb, name, attribute, operation, status, duration_us, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Time.UnixMilli(), rec.RemoteHost, rec.RemoteAddr, rec.Verb,
		rec.Name, rec.Attribute, rec.Operation, rec.Status,
		rec.Duration.Microseconds(), rec.Error)
	return err
}

func (s *SQLiteStore) List(req ListRequest) ([]Record, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	where := []string{"1=1"}
	var args []any
	if req.Verb != "" {
		where = append(where, "verb = ?")
		args = append(args, req.Verb)
	}
	if req.Status != 0 {
		where = append(where, "status = ?")
		args = append(args, req.Status)
	}
	if !req.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, req.Since.UnixMilli())
	}
	if !req.Until.IsZero() {
		where = append(where, "at < ?")
		args = append(args, req.Until.UnixMilli())
	}
	args = append(args, limit)

	rows, err := s.db.Query(`
SELECT id, at, remote_host, remote_addr, verb, name, attribute, operation, status, duration_us, error
FROM audit_records WHERE `+strings.Join(where, " AND ")+`
ORDER BY at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM audit_records").Scan(&n)
	return n, err
}

func (s *SQLiteStore) Prune(before time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM audit_records WHERE at < ?", before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r          Record
			at         int64
			durationUS int64
		)
		if err := rows.Scan(&r.ID, &at, &r.RemoteHost, &r.RemoteAddr, &r.Verb,
			&r.Name, &r.Attribute, &r.Operation, &r.Status, &durationUS, &r.Error); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(at)
		r.Duration = time.Duration(durationUS) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}
