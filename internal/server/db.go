package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"mcscout/internal/pgstore"
)

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*pgstore.Store)(nil)
)

// OpenStore opens a Postgres store for postgres:// DSNs and a SQLite store
// at the given path otherwise. Either way the schema is created if missing.
func OpenStore(ctx context.Context, dsn string) (Store, error) {
	if pgstore.IsDSN(dsn) {
		s, err := pgstore.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", dsn, err)
	}
	return NewSQLiteStore(db), nil
}

// sqlitePragmas are applied to every pooled connection by the driver.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(ON)",
}

// OpenDB opens (creating if needed) the SQLite database at path and brings
// its schema up to date. The parent directory is created when missing.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}
