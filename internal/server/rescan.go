package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mcscout/internal/errors"
	"mcscout/internal/logging"
	"mcscout/internal/search"
	"mcscout/internal/shared"
)

// Fetcher pages through the search API. *search.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, baseQuery, versionFilter, apiKey string, pages int) ([]json.RawMessage, error)
}

// ConfigSource loads the scan configuration. It is called once per rescan so
// edits to the config file apply without a restart.
type ConfigSource func() (shared.ScanConfig, error)

// FileConfig reads the scan configuration from path on every call.
func FileConfig(path string) ConfigSource {
	return func() (shared.ScanConfig, error) {
		return shared.LoadScanConfig(path)
	}
}

// Rescanner runs at most one rescan at a time. A trigger while a rescan is
// running is rejected without fetching or writing anything.
type Rescanner struct {
	store      SnapshotStore
	config     ConfigSource
	newFetcher func(shared.ScanConfig) Fetcher
	onCommit   func()
	logger     *zerolog.Logger
	now        func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	runID  string
	cancel context.CancelFunc
	last   *shared.RescanResult
}

type RescanOption func(*Rescanner)

// WithFetcher replaces the search client factory.
func WithFetcher(f func(shared.ScanConfig) Fetcher) RescanOption {
	return func(r *Rescanner) { r.newFetcher = f }
}

// OnCommit registers a callback run after every snapshot replacement.
func OnCommit(fn func()) RescanOption {
	return func(r *Rescanner) { r.onCommit = fn }
}

func WithRescanLogger(l *zerolog.Logger) RescanOption {
	return func(r *Rescanner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRescanner(store SnapshotStore, config ConfigSource, opts ...RescanOption) *Rescanner {
	r := &Rescanner{
		store:  store,
		config: config,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newFetcher == nil {
		logger := r.logger
		r.newFetcher = func(cfg shared.ScanConfig) Fetcher {
			return search.NewFromConfig(cfg, logger)
		}
	}
	return r
}

// Run performs one rescan: load config, fetch, parse and replace the
// snapshot. The returned result always carries a user-facing message; err is
// non-nil for every outcome other than RescanOK.
//
// Fetch failures after at least one match keep what was collected: the
// snapshot is replaced and the result is marked partial.
func (r *Rescanner) Run(ctx context.Context, req shared.RescanRequest) (shared.RescanResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return shared.RescanResult{
			Status:  shared.RescanRejected,
			Message: "A rescan is already in progress.",
		}, errors.ErrRescanInProgress
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := shared.RescanResult{
		RunID:     uuid.NewString(),
		Query:     strings.TrimSpace(req.Query),
		Pages:     shared.ClampPages(req.Pages),
		StartedAt: r.now().UTC(),
	}

	r.mu.Lock()
	r.runID, r.cancel = res.RunID, cancel
	r.mu.Unlock()

	logger := r.logger.With().Str("run_id", res.RunID).Logger()

	err := r.run(ctx, req, &res, &logger)
	res.FinishedAt = r.now().UTC()

	r.mu.Lock()
	r.runID, r.cancel = "", nil
	last := res
	r.last = &last
	r.mu.Unlock()

	level := zerolog.InfoLevel
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger.WithLevel(level).Err(err).Str("status", res.Status).Int("count", res.Count).Bool("partial", res.Partial).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).Msg("rescan finished")

	return res, err
}

func (r *Rescanner) run(ctx context.Context, req shared.RescanRequest, res *shared.RescanResult, logger *zerolog.Logger) error {
	res.Status = shared.RescanFailed

	cfg, err := r.config()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		res.Message = "Configuration error: " + err.Error()
		return err
	}
	if res.Query == "" {
		res.Query = cfg.Query
	}

	logger.Info().Str("query", res.Query).Int("pages", res.Pages).Msg("rescan started")

	matches, fetchErr := r.newFetcher(cfg).Fetch(ctx, res.Query, cfg.MCVersion, cfg.APIKey, res.Pages)
	if errors.IsCanceled(fetchErr) || ctx.Err() != nil {
		res.Status = shared.RescanCanceled
		res.Message = "Rescan canceled. The server list was not changed."
		if fetchErr == nil {
			fetchErr = fmt.Errorf("%w: %w", errors.ErrCanceled, ctx.Err())
		}
		return fetchErr
	}

	records := search.ParseMatches(matches)
	if req.ActiveOnly {
		records = search.FilterActive(records)
	}

	if len(records) == 0 {
		if fetchErr != nil {
			res.Message = "Rescan failed: " + fetchErr.Error()
			return fetchErr
		}
		res.Message = "No servers found. The server list was not changed."
		return errors.ErrNoResults
	}

	if err := r.store.ReplaceAll(ctx, records); err != nil {
		if ctx.Err() != nil {
			res.Status = shared.RescanCanceled
			res.Message = "Rescan canceled. The server list was not changed."
			return fmt.Errorf("%w: %w", errors.ErrCanceled, err)
		}
		res.Message = "Rescan failed: could not save results."
		return err
	}
	if r.onCommit != nil {
		r.onCommit()
	}

	res.Status = shared.RescanOK
	res.Count = len(records)
	res.Message = fmt.Sprintf("Rescan complete. %d servers found and updated.", res.Count)
	if fetchErr != nil {
		res.Partial = true
		res.Warning = "Search stopped early (" + fetchErr.Error() + "); results from earlier pages were saved."
	}
	return nil
}

// Cancel asks the running rescan to stop. It reports whether one was running.
func (r *Rescanner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Status reports the current state and the last finished run.
func (r *Rescanner) Status() shared.RescanStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := shared.RescanStatus{State: shared.StateIdle}
	if r.running.Load() {
		st.State = shared.StateRunning
		st.RunID = r.runID
	}
	if r.last != nil {
		last := *r.last
		st.Last = &last
	}
	return st
}

// Running reports whether a rescan is in flight.
func (r *Rescanner) Running() bool {
	return r.running.Load()
}
