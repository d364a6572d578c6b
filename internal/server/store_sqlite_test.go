package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcscout/internal/errors"
	"mcscout/internal/query"
	"mcscout/internal/shared"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "data", "servers.db"))
	require.NoError(t, err)
	s := NewSQLiteStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testServer(hash string, port int, online int64) shared.ServerRecord {
	return shared.ServerRecord{
		Hash:          hash,
		IP:            "198.51.100." + hash,
		Port:          port,
		City:          shared.StringPtr("Oslo"),
		Country:       shared.StringPtr("Norway"),
		Version:       shared.StringPtr("1.20.4"),
		PlayersOnline: shared.Int64Ptr(online),
		PlayersMax:    shared.Int64Ptr(100),
		Description:   "motd " + hash,
	}
}

func recordHashes(recs []shared.ServerRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Hash
	}
	return out
}

func viewHashes(views []shared.ServerView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Hash
	}
	return out
}

func TestOpenDBCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.DB.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	assert.Equal(t, []string{"servers", "starred_servers"}, tables)

	// migrations are idempotent
	require.NoError(t, RunMigrations(s.DB))
}

func TestMigrationFilesInOrder(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/001_servers.sql", "migrations/002_starred_servers.sql"}, names)
}

func TestRunMigrationsNamesFailingFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DB.Close())

	err := RunMigrations(s.DB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration migrations/001_servers.sql")
}

func TestReplaceAllReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 25565, 1), testServer("2", 25565, 2), testServer("3", 25565, 3)}))

	updated := testServer("2", 25570, 20)
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{updated, testServer("4", 25565, 4)}))

	recs, err := s.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4"}, recordHashes(recs))
	assert.Equal(t, updated, recs[0])
}

func TestReplaceAllCollapsesDuplicateHashes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 1, 1), testServer("1", 2, 2)}))

	recs, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Port)
}

func TestReplaceAllWithEmptyListClears(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 1, 1)}))
	require.NoError(t, s.ReplaceAll(ctx, nil))

	recs, err := s.ListServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReplaceAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	before := []shared.ServerRecord{testServer("1", 1, 1), testServer("2", 2, 2)}
	require.NoError(t, s.ReplaceAll(ctx, before))

	s.insertHook = func(i int) error {
		if i == 2 {
			return errors.New("disk full")
		}
		return nil
	}
	err := s.ReplaceAll(ctx, []shared.ServerRecord{testServer("7", 7, 7), testServer("8", 8, 8), testServer("9", 9, 9)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorage)
	assert.Contains(t, err.Error(), "disk full")

	s.insertHook = nil
	recs, err := s.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, recs)
}

func TestNullableColumnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bare := shared.ServerRecord{Hash: "-42", IP: "203.0.113.1", Port: 25565}
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{bare}))

	got, err := s.GetServer(ctx, "-42")
	require.NoError(t, err)
	assert.Equal(t, bare, *got)
}

func TestGetServerNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetServer(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
}

func TestDeleteByHashIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 1, 1), testServer("2", 2, 2)}))

	require.NoError(t, s.DeleteByHash(ctx, "1"))
	require.NoError(t, s.DeleteByHash(ctx, "1"))
	require.NoError(t, s.DeleteByHash(ctx, "missing"))

	recs, err := s.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, recordHashes(recs))
}

func TestStarredCopyIsIndependentOfSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	original := testServer("1", 25565, 5)
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{original}))

	starred, err := s.Star(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, original, *starred)

	// a rescan changes the live row; the bookmark keeps the old values
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 25565, 9), testServer("2", 25565, 1)}))
	list, err := s.ListStarred(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 5, *list[0].PlayersOnline)

	// removal from the snapshot leaves the bookmark alone
	require.NoError(t, s.DeleteByHash(ctx, "1"))
	ok, err := s.IsStarred(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)

	// a fresh snapshot without the server does not touch it either
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("3", 25565, 1)}))
	list, err = s.ListStarred(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, recordHashes(list))
}

func TestStarRefreshesCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 25565, 5)}))
	_, err := s.Star(ctx, "1")
	require.NoError(t, err)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 25565, 8)}))
	_, err = s.Star(ctx, "1")
	require.NoError(t, err)

	list, err := s.ListStarred(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 8, *list[0].PlayersOnline)
}

func TestStarAbsentServer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 1, 1)}))

	_, err := s.Star(ctx, "404")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	ok, err := s.IsStarred(ctx, "404")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListStarred(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnstarIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 1, 1)}))
	_, err := s.Star(ctx, "1")
	require.NoError(t, err)

	require.NoError(t, s.Unstar(ctx, "1"))
	require.NoError(t, s.Unstar(ctx, "1"))
	require.NoError(t, s.Unstar(ctx, "never-starred"))

	ok, err := s.IsStarred(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListViewSortsFiltersAndAnnotates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{
		testServer("a", 25567, 3),
		testServer("b", 25565, 10),
		testServer("c", 25566, 3),
		testServer("d", 25568, 0),
	}))
	_, err := s.Star(ctx, "b")
	require.NoError(t, err)
	_, err = s.Star(ctx, "d")
	require.NoError(t, err)

	views, err := s.ListView(ctx, query.Resolve("", "", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a", "c", "b"}, viewHashes(views), "ties keep storage order")

	views, err = s.ListView(ctx, query.Resolve("port", "desc", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a", "c", "b"}, viewHashes(views))

	views, err = s.ListView(ctx, query.Resolve("players_online", "desc", "starred"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, viewHashes(views))
	for _, v := range views {
		assert.True(t, v.IsStarred)
	}

	views, err = s.ListView(ctx, query.Resolve("hash", "asc", "unstarred"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, viewHashes(views))
	for _, v := range views {
		assert.False(t, v.IsStarred)
	}
}

func TestListViewHidesStarredRowsNotInSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 1, 1)}))
	_, err := s.Star(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("2", 2, 2)}))

	views, err := s.ListView(ctx, query.Resolve("", "", "starred"))
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceAll(ctx, []shared.ServerRecord{testServer("1", 1, 1), testServer("2", 2, 2)}))
	_, err := s.Star(ctx, "2")
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, shared.TableStats{Servers: 2, Starred: 1}, st)
}

func TestOpenStoreSQLitePath(t *testing.T) {
	st, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "nested", "dir", "servers.db"))
	require.NoError(t, err)
	defer st.Close()

	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shared.TableStats{}, stats)
}
