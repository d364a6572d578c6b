package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mcscout/internal/errors"
	"mcscout/internal/logging"
	"mcscout/internal/search"
	"mcscout/internal/server"
	"mcscout/internal/shared"
)

type options struct {
	configPath string
	pages      int
	query      string
	activeOnly bool
	output     string
	save       bool
	db         string
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "scout-scan",
		Short: "Search for Minecraft servers once and print ip:port lines",
		Long: `Run one search against the host-search API and print every server found
as an ip:port line, or write the lines to a file.

Settings come from the config file (API_KEY, MC_VERSION, PAGES, QUERY,
ACTIVE_ONLY, OUTPUT_FILE) and SCOUT_* environment variables; flags win.`,
		Example: `  scout-scan --config config.json
  scout-scan --pages 3 --active-only --output servers.txt
  scout-scan --save --db ./data/servers.db`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := shared.LoadScanConfig(opts.configPath)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("pages") {
				cfg.Pages = shared.ClampPages(opts.pages)
			}
			if f.Changed("query") && opts.query != "" {
				cfg.Query = opts.query
			}
			if f.Changed("active-only") {
				cfg.ActiveOnly = opts.activeOnly
			}
			if f.Changed("output") {
				cfg.OutputFile = opts.output
			}
			return runScan(ctx, cfg, opts, stdout, logging.Default())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.json", "Scan config file (JSON or YAML)")
	f.IntVarP(&opts.pages, "pages", "p", shared.MinPages, "Result pages to fetch (1-10)")
	f.StringVarP(&opts.query, "query", "q", "", "Base search query (default from config, else Minecraft)")
	f.BoolVar(&opts.activeOnly, "active-only", false, "Skip servers reporting zero players online")
	f.StringVarP(&opts.output, "output", "o", "", "Write ip:port lines to this file instead of stdout")
	f.BoolVar(&opts.save, "save", false, "Also replace the stored snapshot with the results")
	f.StringVar(&opts.db, "db", "./data/servers.db", "SQLite path or postgres:// DSN used with --save")

	return cmd
}

func runScan(ctx context.Context, cfg shared.ScanConfig, opts options, stdout io.Writer, logger *zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		records []shared.ServerRecord
		err     error
	)
	if opts.save {
		records, err = scanAndSave(ctx, cfg, opts.db, logger)
	} else {
		records, err = scanOnly(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}

	return writeAddrs(cfg.OutputFile, stdout, records)
}

func scanOnly(ctx context.Context, cfg shared.ScanConfig, logger *zerolog.Logger) ([]shared.ServerRecord, error) {
	logger.Info().Str("query", search.QueryText(cfg.Query, cfg.MCVersion)).Int("pages", cfg.Pages).Msg("finding servers")

	matches, err := search.NewFromConfig(cfg, logger).Fetch(ctx, cfg.Query, cfg.MCVersion, cfg.APIKey, cfg.Pages)
	records := search.ParseMatches(matches)
	if cfg.ActiveOnly {
		records = search.FilterActive(records)
	}
	if err != nil {
		if len(records) == 0 || errors.IsCanceled(err) {
			return nil, err
		}
		logger.Warn().Err(err).Int("kept", len(records)).Msg("search stopped early; printing results from earlier pages")
	}
	return records, nil
}

// scanAndSave goes through the Rescanner so the snapshot is replaced under the
// same rules as a rescan triggered over HTTP.
func scanAndSave(ctx context.Context, cfg shared.ScanConfig, dsn string, logger *zerolog.Logger) ([]shared.ServerRecord, error) {
	store, err := server.OpenStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	r := server.NewRescanner(store,
		func() (shared.ScanConfig, error) { return cfg, nil },
		server.WithRescanLogger(logger),
	)
	res, err := r.Run(ctx, shared.RescanRequest{Pages: cfg.Pages, Query: cfg.Query, ActiveOnly: cfg.ActiveOnly})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.Message, err)
	}
	logger.Info().Str("run_id", res.RunID).Int("count", res.Count).Msg(res.Message)
	if res.Warning != "" {
		logger.Warn().Msg(res.Warning)
	}
	return store.ListServers(ctx)
}

// writeAddrs prints one ip:port per line to path, or to stdout when path is
// empty.
func writeAddrs(path string, stdout io.Writer, records []shared.ServerRecord) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := fmt.Fprintln(bw, r.Addr()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
