package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcscout/internal/errors"
	"mcscout/internal/logging"
	"mcscout/internal/shared"
)

// stubFetcher returns canned matches. With block set it waits for block to
// close (or the context to end) before answering.
type stubFetcher struct {
	matches []json.RawMessage
	err     error
	block   chan struct{}
	started chan struct{}

	calls atomic.Int32

	mu      sync.Mutex
	query   string
	version string
	key     string
	pages   int
}

func (f *stubFetcher) Fetch(ctx context.Context, baseQuery, versionFilter, apiKey string, pages int) ([]json.RawMessage, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.query, f.version, f.key, f.pages = baseQuery, versionFilter, apiKey, pages
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w before page 2: %w", errors.ErrCanceled, ctx.Err())
		}
	}
	return f.matches, f.err
}

func (f *stubFetcher) gotPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages
}

func rawMatches(hashes ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(hashes))
	for i, h := range hashes {
		out[i] = json.RawMessage(fmt.Sprintf(
			`{"hash": %q, "ip_str": "10.0.0.%d", "port": 25565, "minecraft": {"players": {"online": %d, "max": 20}}}`,
			h, i+1, i))
	}
	return out
}

func staticConfig(cfg shared.ScanConfig) ConfigSource {
	return func() (shared.ScanConfig, error) { return cfg, nil }
}

func testScanConfig() shared.ScanConfig {
	return shared.ScanConfig{APIKey: "k", MCVersion: "1.20.4", Query: shared.DefaultQuery, Pages: 1}
}

func newTestRescanner(store SnapshotStore, f *stubFetcher, cfg ConfigSource, opts ...RescanOption) *Rescanner {
	nop := logging.Nop
	opts = append([]RescanOption{
		WithFetcher(func(shared.ScanConfig) Fetcher { return f }),
		WithRescanLogger(&nop),
	}, opts...)
	return NewRescanner(store, cfg, opts...)
}

func TestRescanReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.ReplaceAll(ctx, []shared.ServerRecord{testServer("old", 1, 1)}))

	var commits atomic.Int32
	f := &stubFetcher{matches: rawMatches("a", "b")}
	r := newTestRescanner(store, f, staticConfig(testScanConfig()), OnCommit(func() { commits.Add(1) }))

	res, err := r.Run(ctx, shared.RescanRequest{Pages: 2, Query: "Minecraft survival"})
	require.NoError(t, err)
	assert.Equal(t, shared.RescanOK, res.Status)
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.Partial)
	assert.Equal(t, "Rescan complete. 2 servers found and updated.", res.Message)
	assert.NotEmpty(t, res.RunID)
	assert.EqualValues(t, 1, commits.Load())

	assert.Equal(t, "Minecraft survival", f.query)
	assert.Equal(t, "1.20.4", f.version)
	assert.Equal(t, "k", f.key)
	assert.Equal(t, 2, f.gotPages())

	recs, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, recordHashes(recs))
}

func TestRescanDefaultsQueryFromConfig(t *testing.T) {
	f := &stubFetcher{matches: rawMatches("a")}
	cfg := testScanConfig()
	cfg.Query = "Minecraft creative"
	r := newTestRescanner(newTestStore(t), f, staticConfig(cfg))

	res, err := r.Run(context.Background(), shared.RescanRequest{Pages: 1, Query: "  "})
	require.NoError(t, err)
	assert.Equal(t, "Minecraft creative", res.Query)
	assert.Equal(t, "Minecraft creative", f.query)
}

func TestRescanClampsPages(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{in: 15, want: 1},
		{in: 0, want: 1},
		{in: -3, want: 1},
		{in: 10, want: 10},
		{in: 4, want: 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			f := &stubFetcher{matches: rawMatches("a")}
			r := newTestRescanner(newTestStore(t), f, staticConfig(testScanConfig()))

			res, err := r.Run(context.Background(), shared.RescanRequest{Pages: tt.in})
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.gotPages())
			assert.Equal(t, tt.want, res.Pages)
		})
	}
}

func TestRescanEarlyStopKeepsPartialResults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.ReplaceAll(ctx, []shared.ServerRecord{testServer("old", 1, 1)}))

	f := &stubFetcher{
		matches: rawMatches("p1a", "p1b"),
		err:     &errors.AuthenticationError{Page: 2, Message: "Invalid API key"},
	}
	r := newTestRescanner(store, f, staticConfig(testScanConfig()))

	res, err := r.Run(ctx, shared.RescanRequest{Pages: 3})
	require.NoError(t, err)
	assert.Equal(t, shared.RescanOK, res.Status)
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.Count)
	assert.Contains(t, res.Warning, "Invalid API key")

	recs, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1a", "p1b"}, recordHashes(recs))
}

func TestRescanFailureWithoutResultsKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	before := []shared.ServerRecord{testServer("old", 1, 1)}
	require.NoError(t, store.ReplaceAll(ctx, before))

	f := &stubFetcher{err: &errors.AuthenticationError{Page: 1, Message: "Invalid API key"}}
	r := newTestRescanner(store, f, staticConfig(testScanConfig()))

	res, err := r.Run(ctx, shared.RescanRequest{Pages: 1})
	require.Error(t, err)
	var authErr *errors.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, shared.RescanFailed, res.Status)
	assert.Contains(t, res.Message, "Invalid API key")

	recs, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, recs)
}

func TestRescanWithNoMatchesKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	before := []shared.ServerRecord{testServer("old", 1, 1)}
	require.NoError(t, store.ReplaceAll(ctx, before))

	r := newTestRescanner(store, &stubFetcher{}, staticConfig(testScanConfig()))

	res, err := r.Run(ctx, shared.RescanRequest{Pages: 1})
	require.ErrorIs(t, err, errors.ErrNoResults)
	assert.Equal(t, shared.RescanFailed, res.Status)
	assert.Contains(t, res.Message, "No servers found")

	recs, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, recs)
}

func TestRescanActiveOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// rawMatches gives the first match zero players online
	f := &stubFetcher{matches: rawMatches("idle", "busy")}
	r := newTestRescanner(store, f, staticConfig(testScanConfig()))

	res, err := r.Run(ctx, shared.RescanRequest{Pages: 1, ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	recs, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"busy"}, recordHashes(recs))
}

func TestRescanConfigErrorSkipsFetch(t *testing.T) {
	f := &stubFetcher{matches: rawMatches("a")}
	cfg := testScanConfig()
	cfg.APIKey = ""
	r := newTestRescanner(newTestStore(t), f, staticConfig(cfg))

	res, err := r.Run(context.Background(), shared.RescanRequest{Pages: 1})
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	assert.ErrorIs(t, err, errors.ErrAPIKeyRequired)
	assert.Equal(t, shared.RescanFailed, res.Status)
	assert.EqualValues(t, 0, f.calls.Load())
}

func TestRescanConfigSourceError(t *testing.T) {
	f := &stubFetcher{matches: rawMatches("a")}
	broken := func() (shared.ScanConfig, error) {
		return shared.ScanConfig{}, errors.NewConfigError("scan", "failed to read config.json", errors.New("bad yaml"))
	}
	r := newTestRescanner(newTestStore(t), f, broken)

	_, err := r.Run(context.Background(), shared.RescanRequest{Pages: 1})
	assert.True(t, errors.IsConfigError(err))
	assert.EqualValues(t, 0, f.calls.Load())
}

func TestRescanStorageFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	before := []shared.ServerRecord{testServer("old", 1, 1)}
	require.NoError(t, store.ReplaceAll(ctx, before))
	store.insertHook = func(i int) error { return errors.New("disk I/O error") }

	var commits atomic.Int32
	r := newTestRescanner(store, &stubFetcher{matches: rawMatches("a", "b")}, staticConfig(testScanConfig()),
		OnCommit(func() { commits.Add(1) }))

	res, err := r.Run(ctx, shared.RescanRequest{Pages: 1})
	require.ErrorIs(t, err, errors.ErrStorage)
	assert.Equal(t, shared.RescanFailed, res.Status)
	assert.EqualValues(t, 0, commits.Load())

	store.insertHook = nil
	recs, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, recs)
}

func TestRescanIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	f := &stubFetcher{
		matches: rawMatches("a"),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	r := newTestRescanner(store, f, staticConfig(testScanConfig()))

	done := make(chan shared.RescanResult)
	go func() {
		res, _ := r.Run(ctx, shared.RescanRequest{Pages: 1})
		done <- res
	}()
	<-f.started

	st := r.Status()
	assert.Equal(t, shared.StateRunning, st.State)
	assert.NotEmpty(t, st.RunID)
	assert.True(t, r.Running())

	res, err := r.Run(ctx, shared.RescanRequest{Pages: 1})
	require.ErrorIs(t, err, errors.ErrRescanInProgress)
	assert.Equal(t, shared.RescanRejected, res.Status)
	assert.EqualValues(t, 1, f.calls.Load(), "rejected trigger does not fetch")

	close(f.block)
	first := <-done
	assert.Equal(t, shared.RescanOK, first.Status)

	st = r.Status()
	assert.Equal(t, shared.StateIdle, st.State)
	require.NotNil(t, st.Last)
	assert.Equal(t, first.RunID, st.Last.RunID)

	// idle again: the next trigger runs
	f2 := &stubFetcher{matches: rawMatches("b")}
	r.newFetcher = func(shared.ScanConfig) Fetcher { return f2 }
	_, err = r.Run(ctx, shared.RescanRequest{Pages: 1})
	require.NoError(t, err)
}

func TestRescanCancelLeavesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	before := []shared.ServerRecord{testServer("old", 1, 1)}
	require.NoError(t, store.ReplaceAll(ctx, before))

	assert.False(t, (&Rescanner{}).Cancel())

	f := &stubFetcher{
		matches: rawMatches("a"),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	r := newTestRescanner(store, f, staticConfig(testScanConfig()))

	type outcome struct {
		res shared.RescanResult
		err error
	}
	done := make(chan outcome)
	go func() {
		res, err := r.Run(ctx, shared.RescanRequest{Pages: 3})
		done <- outcome{res, err}
	}()
	<-f.started

	assert.True(t, r.Cancel())

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rescan did not stop after cancel")
	}
	assert.True(t, errors.IsCanceled(out.err))
	assert.Equal(t, shared.RescanCanceled, out.res.Status)
	assert.False(t, r.Running())

	recs, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, recs)
}
