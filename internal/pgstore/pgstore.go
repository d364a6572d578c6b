// Package pgstore keeps the server snapshot and the starred copies in
// Postgres. It mirrors the SQLite store in package server.
package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mcscout/internal/errors"
	"mcscout/internal/query"
	"mcscout/internal/shared"
)

var (
	columnList  = query.ColumnList("")
	placeholder = "$1, $2, $3, $4, $5, $6, $7, $8, $9"
	// updateSet refreshes every non-key column from EXCLUDED.
	updateSet = buildUpdateSet()
)

const tableDDL = `(
  hash TEXT PRIMARY KEY,
  ip_str TEXT NOT NULL DEFAULT '',
  port INTEGER NOT NULL DEFAULT 0,
  location_city TEXT,
  location_country_name TEXT,
  version TEXT,
  players_online BIGINT,
  players_max BIGINT,
  description TEXT NOT NULL DEFAULT ''
)`

type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Call EnsureSchema before using it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects, creates missing tables and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

// NewDB opens a pgx pool with small, steady defaults.
func NewDB(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the servers and starred_servers tables if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range []string{"servers", "starred_servers"} {
		if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+table+` `+tableDDL); err != nil {
			return fmt.Errorf("create %s table: %w", table, err)
		}
	}
	return nil
}

// IsDSN reports whether s looks like a Postgres connection URL.
func IsDSN(s string) bool {
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ReplaceAll swaps the snapshot in one transaction. Duplicate hashes collapse
// to the last record.
func (s *Store) ReplaceAll(ctx context.Context, records []shared.ServerRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.WrapStorage("replace snapshot", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM servers`); err != nil {
		return errors.WrapStorage("replace snapshot", err)
	}

	if len(records) > 0 {
		upsert := `INSERT INTO servers (` + columnList + `) VALUES (` + placeholder + `)
ON CONFLICT (hash) DO UPDATE SET ` + updateSet

		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(upsert, recordArgs(rec)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.WrapStorage("replace snapshot", err)
		}
	}

	return errors.WrapStorage("replace snapshot", tx.Commit(ctx))
}

func (s *Store) DeleteByHash(ctx context.Context, hash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE hash = $1`, hash)
	return errors.WrapStorage("delete server", err)
}

func (s *Store) GetServer(ctx context.Context, hash string) (*shared.ServerRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+columnList+` FROM servers WHERE hash = $1`, hash)
	return scanOne(row, "get server", hash)
}

func (s *Store) ListServers(ctx context.Context) ([]shared.ServerRecord, error) {
	return s.list(ctx, `SELECT `+columnList+` FROM servers ORDER BY ctid`)
}

// Star copies the live row into starred_servers in one statement.
func (s *Store) Star(ctx context.Context, hash string) (*shared.ServerRecord, error) {
	row := s.pool.QueryRow(ctx, `INSERT INTO starred_servers (`+columnList+`)
SELECT `+columnList+` FROM servers WHERE hash = $1
ON CONFLICT (hash) DO UPDATE SET `+updateSet+`
RETURNING `+columnList, hash)
	return scanOne(row, "star server", hash)
}

func (s *Store) Unstar(ctx context.Context, hash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM starred_servers WHERE hash = $1`, hash)
	return errors.WrapStorage("unstar server", err)
}

func (s *Store) IsStarred(ctx context.Context, hash string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM starred_servers WHERE hash = $1)`, hash).Scan(&ok)
	return ok, errors.WrapStorage("check starred", err)
}

func (s *Store) ListStarred(ctx context.Context) ([]shared.ServerRecord, error) {
	return s.list(ctx, `SELECT `+columnList+` FROM starred_servers ORDER BY ctid`)
}

func (s *Store) ListView(ctx context.Context, opts query.Options) ([]shared.ServerView, error) {
	q := query.BuildOptions(opts, query.Postgres)

	rows, err := s.pool.Query(ctx, q.SQL)
	if err != nil {
		return nil, errors.WrapStorage("list servers", err)
	}
	defer rows.Close()

	out := []shared.ServerView{}
	for rows.Next() {
		var v shared.ServerView
		if err := rows.Scan(append(recordDest(&v.ServerRecord), &v.IsStarred)...); err != nil {
			return nil, errors.WrapStorage("list servers", err)
		}
		out = append(out, v)
	}
	return out, errors.WrapStorage("list servers", rows.Err())
}

func (s *Store) Stats(ctx context.Context) (shared.TableStats, error) {
	var st shared.TableStats
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM servers), (SELECT COUNT(*) FROM starred_servers)`,
	).Scan(&st.Servers, &st.Starred)
	return st, errors.WrapStorage("count rows", err)
}

func (s *Store) list(ctx context.Context, stmt string) ([]shared.ServerRecord, error) {
	rows, err := s.pool.Query(ctx, stmt)
	if err != nil {
		return nil, errors.WrapStorage("list records", err)
	}
	defer rows.Close()

	out := []shared.ServerRecord{}
	for rows.Next() {
		var rec shared.ServerRecord
		if err := rows.Scan(recordDest(&rec)...); err != nil {
			return nil, errors.WrapStorage("list records", err)
		}
		out = append(out, rec)
	}
	return out, errors.WrapStorage("list records", rows.Err())
}

func scanOne(row pgx.Row, op, hash string) (*shared.ServerRecord, error) {
	var rec shared.ServerRecord
	if err := row.Scan(recordDest(&rec)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("server", hash)
		}
		return nil, errors.WrapStorage(op, err)
	}
	return &rec, nil
}

// recordDest lists scan targets in column order. Nullable columns scan into
// the record's pointer fields directly.
func recordDest(r *shared.ServerRecord) []any {
	return []any{&r.Hash, &r.IP, &r.Port, &r.City, &r.Country, &r.Version, &r.PlayersOnline, &r.PlayersMax, &r.Description}
}

func recordArgs(r shared.ServerRecord) []any {
	return []any{r.Hash, r.IP, r.Port, r.City, r.Country, r.Version, r.PlayersOnline, r.PlayersMax, r.Description}
}

func buildUpdateSet() string {
	parts := make([]string, 0, len(query.Columns)-1)
	for _, c := range query.Columns {
		if c == query.Hash {
			continue
		}
		parts = append(parts, string(c)+" = EXCLUDED."+string(c))
	}
	return strings.Join(parts, ", ")
}
