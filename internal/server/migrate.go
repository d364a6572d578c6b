package server

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"

	"mcscout/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationFiles lists the embedded schema files in apply order.
func migrationFiles() ([]string, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// RunMigrations creates the servers and starred_servers tables when missing.
// Every file is idempotent, so it runs on each open. A failure names the file.
func RunMigrations(db *sql.DB) error {
	names, err := migrationFiles()
	if err != nil {
		return err
	}

	logger := logging.Default()
	for _, name := range names {
		stmt, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		logger.Debug().Str("file", name).Msg("schema migration applied")
	}
	return nil
}
