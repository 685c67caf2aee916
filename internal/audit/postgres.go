package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
  id          TEXT PRIMARY KEY,
  at          TIMESTAMPTZ NOT NULL,
  remote_host TEXT,
  remote_addr TEXT,
  verb        TEXT NOT NULL,
  name        TEXT,
  attribute   TEXT,
  operation   TEXT,
  status      INTEGER NOT NULL,
  duration_us BIGINT NOT NULL,
  error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_records(at);
CREATE INDEX IF NOT EXISTS idx_audit_verb_at ON audit_records(verb, at);
`

// PostgresStore persists audit records in postgres, for deployments that
// aggregate several bridge instances into one database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Append(rec Record) error {
	_, err := s.db.Exec(`
INSERT INTO audit_records (id, at, remote_host, remote_addr, verb, name, attribute, operation, status, duration_us, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Time, rec.RemoteHost, rec.RemoteAddr, rec.Verb,
		rec.Name, rec.Attribute, rec.Operation, rec.Status,
		rec.Duration.Microseconds(), rec.Error)
	return err
}

func (s *PostgresStore) List(req ListRequest) ([]Record, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	where := []string{"TRUE"}
	var args []any
	idx := 1
	arg := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", idx)
		idx++
		return p
	}
	if req.Verb != "" {
		where = append(where, "verb = "+arg(req.Verb))
	}
	if req.Status != 0 {
		where = append(where, "status = "+arg(req.Status))
	}
	if !req.Since.IsZero() {
		where = append(where, "at >= "+arg(req.Since))
	}
	if !req.Until.IsZero() {
		where = append(where, "at < "+arg(req.Until))
	}
	limitClause := arg(limit)

	rows, err := s.db.Query(`
SELECT id, at, remote_host, remote_addr, verb, name, attribute, operation, status, duration_us, error
FROM audit_records WHERE `+strings.Join(where, " AND ")+`
ORDER BY at DESC LIMIT `+limitClause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			durationUS int64
		)
		if err := rows.Scan(&r.ID, &r.Time, &r.RemoteHost, &r.RemoteAddr, &r.Verb,
			&r.Name, &r.Attribute, &r.Operation, &r.Status, &durationUS, &r.Error); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationUS) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM audit_records").Scan(&n)
	return n, err
}

func (s *PostgresStore) Prune(before time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM audit_records WHERE at < $1", before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
