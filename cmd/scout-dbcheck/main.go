package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mcscout/internal/server"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var (
		dsn         string
		dumpStarred bool
	)

	cmd := &cobra.Command{
		Use:          "scout-dbcheck",
		Short:        "Show table row counts of the server database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd.Context(), dsn, dumpStarred, stdout)
		},
	}

	dbDefault := os.Getenv("SCOUT_DB")
	if dbDefault == "" {
		dbDefault = "./data/servers.db"
	}
	cmd.Flags().StringVar(&dsn, "db", dbDefault, "SQLite path or postgres:// DSN")
	cmd.Flags().BoolVar(&dumpStarred, "dump-starred", false, "Print starred servers as YAML")

	return cmd
}

func check(ctx context.Context, dsn string, dumpStarred bool, w io.Writer) error {
	store, err := server.OpenStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewTable(w)
	table.Header("Table", "Rows")
	if err := table.Append("servers", st.Servers); err != nil {
		return err
	}
	if err := table.Append("starred_servers", st.Starred); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if !dumpStarred {
		return nil
	}

	starred, err := store.ListStarred(ctx)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(starred)
	if err != nil {
		return fmt.Errorf("encode starred: %w", err)
	}
	_, err = fmt.Fprintf(w, "\n%s", out)
	return err
}
