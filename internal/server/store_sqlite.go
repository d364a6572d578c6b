package server

import (
	"context"
	"database/sql"

	"mcscout/internal/errors"
	"mcscout/internal/query"
	"mcscout/internal/shared"
)

var (
	columnList  = query.ColumnList("")
	placeholder = "?, ?, ?, ?, ?, ?, ?, ?, ?"
)

type SQLiteStore struct {
	DB *sql.DB

	// insertHook runs before each snapshot insert; tests use it to fail a
	// replacement midway.
	insertHook func(i int) error
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, records []shared.ServerRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStorage("replace snapshot", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM servers`); err != nil {
		return errors.WrapStorage("replace snapshot", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO servers (`+columnList+`) VALUES (`+placeholder+`)`)
	if err != nil {
		return errors.WrapStorage("replace snapshot", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if s.insertHook != nil {
			if err := s.insertHook(i); err != nil {
				return errors.WrapStorage("replace snapshot", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, recordArgs(rec)...); err != nil {
			return errors.WrapStorage("replace snapshot", err)
		}
	}

	return errors.WrapStorage("replace snapshot", tx.Commit())
}

func (s *SQLiteStore) DeleteByHash(ctx context.Context, hash string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM servers WHERE hash = ?`, hash)
	return errors.WrapStorage("delete server", err)
}

func (s *SQLiteStore) GetServer(ctx context.Context, hash string) (*shared.ServerRecord, error) {
	return getRecord(ctx, s.DB, "servers", hash)
}

func (s *SQLiteStore) ListServers(ctx context.Context) ([]shared.ServerRecord, error) {
	return listRecords(ctx, s.DB, `SELECT `+columnList+` FROM servers ORDER BY rowid`)
}

// Star copies the live row into starred_servers in a single statement,
// replacing an older copy. Nothing is written when the hash is not live.
func (s *SQLiteStore) Star(ctx context.Context, hash string) (*shared.ServerRecord, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO starred_servers (`+columnList+`)
		 SELECT `+columnList+` FROM servers WHERE hash = ?`, hash)
	if err != nil {
		return nil, errors.WrapStorage("star server", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.WrapStorage("star server", err)
	}
	if n == 0 {
		return nil, errors.NewNotFoundError("server", hash)
	}
	return getRecord(ctx, s.DB, "starred_servers", hash)
}

func (s *SQLiteStore) Unstar(ctx context.Context, hash string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM starred_servers WHERE hash = ?`, hash)
	return errors.WrapStorage("unstar server", err)
}

func (s *SQLiteStore) IsStarred(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM starred_servers WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, errors.WrapStorage("check starred", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListStarred(ctx context.Context) ([]shared.ServerRecord, error) {
	return listRecords(ctx, s.DB, `SELECT `+columnList+` FROM starred_servers ORDER BY rowid`)
}

func (s *SQLiteStore) ListView(ctx context.Context, opts query.Options) ([]shared.ServerView, error) {
	q := query.BuildOptions(opts, query.SQLite)

	rows, err := s.DB.QueryContext(ctx, q.SQL)
	if err != nil {
		return nil, errors.WrapStorage("list servers", err)
	}
	defer rows.Close()

	out := []shared.ServerView{}
	for rows.Next() {
		var v shared.ServerView
		if err := scanRecord(rows, &v.ServerRecord, &v.IsStarred); err != nil {
			return nil, errors.WrapStorage("list servers", err)
		}
		out = append(out, v)
	}
	return out, errors.WrapStorage("list servers", rows.Err())
}

func (s *SQLiteStore) Stats(ctx context.Context) (shared.TableStats, error) {
	var st shared.TableStats
	err := s.DB.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM servers), (SELECT COUNT(*) FROM starred_servers)`,
	).Scan(&st.Servers, &st.Starred)
	return st, errors.WrapStorage("count rows", err)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getRecord(ctx context.Context, q queryer, table, hash string) (*shared.ServerRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+columnList+` FROM `+table+` WHERE hash = ?`, hash)

	var rec shared.ServerRecord
	if err := scanRecord(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("server", hash)
		}
		return nil, errors.WrapStorage("get server", err)
	}
	return &rec, nil
}

func listRecords(ctx context.Context, q queryer, stmt string) ([]shared.ServerRecord, error) {
	rows, err := q.QueryContext(ctx, stmt)
	if err != nil {
		return nil, errors.WrapStorage("list records", err)
	}
	defer rows.Close()

	out := []shared.ServerRecord{}
	for rows.Next() {
		var rec shared.ServerRecord
		if err := scanRecord(rows, &rec); err != nil {
			return nil, errors.WrapStorage("list records", err)
		}
		out = append(out, rec)
	}
	return out, errors.WrapStorage("list records", rows.Err())
}

// scanRecord reads the shared column set, followed by any extra columns.
func scanRecord(sc rowScanner, rec *shared.ServerRecord, extra ...any) error {
	var (
		city, country, version sql.NullString
		online, maxPlayers     sql.NullInt64
	)
	dest := append([]any{
		&rec.Hash, &rec.IP, &rec.Port, &city, &country, &version, &online, &maxPlayers, &rec.Description,
	}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return err
	}
	rec.City = nullString(city)
	rec.Country = nullString(country)
	rec.Version = nullString(version)
	rec.PlayersOnline = nullInt(online)
	rec.PlayersMax = nullInt(maxPlayers)
	return nil
}

func recordArgs(r shared.ServerRecord) []any {
	return []any{r.Hash, r.IP, r.Port, r.City, r.Country, r.Version, r.PlayersOnline, r.PlayersMax, r.Description}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}
