package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, SQLite, filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(-1, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return store
}

func createRepo(t *testing.T, store *Store, url string) model.Repository {
	t.Helper()
	repo, err := store.CreateRepository(context.Background(), CreateRepositoryParams{
		Name: "repo", URL: url, Provider: model.ProviderGitHub,
	})
	require.NoError(t, err)
	return repo
}

func at(day, hour int) time.Time {
	return time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
}

func insertCommit(t *testing.T, q Querier, repoID int64, hash, email string, when time.Time, files ...model.FileChange) int64 {
	t.Helper()
	c := model.Commit{
		RepositoryID: repoID,
		Hash:         hash,
		AuthorName:   "Author",
		AuthorEmail:  email,
		Message:      "feat: " + hash,
		AuthoredAt:   when,
		FilesChanged: len(files),
	}
	for _, f := range files {
		c.LinesAdded += f.LinesAdded
		c.LinesDeleted += f.LinesDeleted
	}
	id, inserted, err := q.InsertCommit(context.Background(), c)
	require.NoError(t, err)
	if inserted {
		require.NoError(t, q.InsertFileChanges(context.Background(), id, files))
	}
	return id
}

func TestRebind(t *testing.T) {
	q := New(nil, Postgres)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", q.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	q = New(nil, SQLite)
	assert.Equal(t, "SELECT ? FROM t", q.rebind("SELECT ? FROM t"))
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.NoError(t, store.Migrate(-1, logger))
}

func TestRepositories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	repo := createRepo(t, store, "https://github.com/a/b")
	assert.NotZero(t, repo.ID)
	assert.True(t, repo.IsActive)
	assert.Nil(t, repo.LastSync)
	assert.False(t, repo.Synced())

	t.Run("re-registering the same url reactivates", func(t *testing.T) {
		require.NoError(t, store.DeactivateRepository(ctx, repo.ID))
		active, err := store.ListRepositories(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, active)

		again, err := store.CreateRepository(ctx, CreateRepositoryParams{Name: "renamed", URL: repo.URL, Provider: model.ProviderGitHub, Credential: "tok"})
		require.NoError(t, err)
		assert.Equal(t, repo.ID, again.ID)
		assert.True(t, again.IsActive)
		assert.Equal(t, "renamed", again.Name)
		assert.Equal(t, "tok", again.Credential)
	})

	t.Run("unknown ids are NotFound", func(t *testing.T) {
		_, err := store.GetRepository(ctx, 9999)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.ErrorIs(t, store.DeactivateRepository(ctx, 9999), apperrors.ErrNotFound)
		assert.ErrorIs(t, store.DeleteRepository(ctx, 9999), apperrors.ErrNotFound)
	})

	t.Run("watermark never regresses", func(t *testing.T) {
		require.NoError(t, store.AdvanceWatermark(ctx, repo.ID, at(10, 12)))
		require.NoError(t, store.AdvanceWatermark(ctx, repo.ID, at(5, 12)))

		got, err := store.GetRepository(ctx, repo.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastSync)
		assert.True(t, at(10, 12).Equal(*got.LastSync))

		require.NoError(t, store.ResetWatermark(ctx, repo.ID))
		got, err = store.GetRepository(ctx, repo.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastSync)
	})

	t.Run("mark synced", func(t *testing.T) {
		require.NoError(t, store.MarkSynced(ctx, repo.ID, at(11, 9)))
		got, err := store.GetRepository(ctx, repo.ID)
		require.NoError(t, err)
		assert.True(t, got.Synced())
	})
}

func TestCommits_InsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := createRepo(t, store, "https://github.com/a/b")

	files := []model.FileChange{{Path: "main.go", LinesAdded: 10, LinesDeleted: 2, Kind: model.ChangeModified}}
	first := insertCommit(t, store, repo.ID, "abc", "Dev@Example.com ", at(1, 10), files...)
	second := insertCommit(t, store, repo.ID, "abc", "dev@example.com", at(1, 10), files...)
	assert.Equal(t, first, second)

	n, err := store.CountCommits(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	distinct, err := store.CountDistinctHashes(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, n, distinct)

	commits, err := store.ListCommits(ctx, CommitFilter{RepositoryIDs: []int64{repo.ID}, WithFiles: true})
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "dev@example.com", commits[0].AuthorEmail)
	assert.True(t, at(1, 10).Equal(commits[0].AuthoredAt))
	require.Len(t, commits[0].Files, 1)
	assert.Equal(t, "main.go", commits[0].Files[0].Path)

	existing, err := store.ExistingHashes(ctx, repo.ID, []string{"abc", "def"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"abc": true}, existing)
}

func TestFileChanges_DuplicatePathIsStorageConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := createRepo(t, store, "https://github.com/a/b")

	id, inserted, err := store.InsertCommit(ctx, model.Commit{RepositoryID: repo.ID, Hash: "abc", AuthoredAt: at(1, 1)})
	require.NoError(t, err)
	require.True(t, inserted)

	err = store.InsertFileChanges(ctx, id, []model.FileChange{{Path: "a.go"}, {Path: "a.go"}})
	assert.ErrorIs(t, err, apperrors.ErrStorageConflict)
}

func TestFileChanges_PathsAreCaseSensitive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := createRepo(t, store, "https://github.com/a/b")

	files := []model.FileChange{
		{Path: "README.md", LinesAdded: 1, Kind: model.ChangeAdded},
		{Path: "readme.md", LinesAdded: 2, Kind: model.ChangeAdded},
	}
	insertCommit(t, store, repo.ID, "abc", "dev@example.com", at(1, 10), files...)

	commits, err := store.ListCommits(ctx, CommitFilter{RepositoryIDs: []int64{repo.ID}, WithFiles: true})
	require.NoError(t, err)
	require.Len(t, commits, 1)
	require.Len(t, commits[0].Files, 2)
	assert.ElementsMatch(t, []string{"README.md", "readme.md"}, []string{commits[0].Files[0].Path, commits[0].Files[1].Path})
}

func TestListCommits_Filters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a := createRepo(t, store, "https://github.com/a/a")
	b := createRepo(t, store, "https://github.com/a/b")

	insertCommit(t, store, a.ID, "a1", "x@example.com", at(1, 0))
	insertCommit(t, store, a.ID, "a2", "y@example.com", at(5, 0))
	insertCommit(t, store, b.ID, "b1", "x@example.com", at(3, 0))

	since, until := at(2, 0), at(6, 0)
	got, err := store.ListCommits(ctx, CommitFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b1", got[0].Hash)
	assert.Equal(t, "a2", got[1].Hash)

	got, err = store.ListCommits(ctx, CommitFilter{AuthorEmail: "X@example.com"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.ListCommits(ctx, CommitFilter{RepositoryIDs: []int64{a.ID}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRollups_RefreshMatchesRebuild(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := createRepo(t, store, "https://github.com/a/b")

	insertCommit(t, store, repo.ID, "c1", "a@example.com", at(1, 9),
		model.FileChange{Path: "a.go", LinesAdded: 10},
		model.FileChange{Path: "b.go", LinesAdded: 5, LinesDeleted: 1})
	insertCommit(t, store, repo.ID, "c2", "b@example.com", at(1, 17),
		model.FileChange{Path: "a.go", LinesAdded: 2, LinesDeleted: 2})
	insertCommit(t, store, repo.ID, "c3", "a@example.com", at(2, 8),
		model.FileChange{Path: "a.go", LinesDeleted: 4})

	require.NoError(t, store.RefreshRollups(ctx, repo.ID, []time.Time{at(1, 9), at(1, 17), at(2, 8)}, []string{"a.go", "b.go", "a.go"}))

	daily, err := store.ListDailyMetrics(ctx, repo.ID, at(1, 0))
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, model.DailyMetric{RepositoryID: repo.ID, Day: at(1, 0), Commits: 2, LinesAdded: 17, LinesDeleted: 3, Contributors: 2, FilesTouched: 2}, daily[0])
	assert.Equal(t, model.DailyMetric{RepositoryID: repo.ID, Day: at(2, 0), Commits: 1, LinesDeleted: 4, Contributors: 1, FilesTouched: 1}, daily[1])

	hotspots, err := store.ListHotspots(ctx, repo.ID, 0)
	require.NoError(t, err)
	require.Len(t, hotspots, 2)
	assert.Equal(t, "a.go", hotspots[0].Path)
	assert.Equal(t, 3, hotspots[0].ChangeCount)
	assert.Equal(t, 18, hotspots[0].LinesChanged)
	assert.Equal(t, 2, hotspots[0].Contributors)
	assert.True(t, at(2, 8).Equal(hotspots[0].LastChanged))

	require.NoError(t, store.RebuildRollups(ctx, repo.ID))
	rebuiltDaily, err := store.ListDailyMetrics(ctx, repo.ID, at(1, 0))
	require.NoError(t, err)
	rebuiltHotspots, err := store.ListHotspots(ctx, repo.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, daily, rebuiltDaily)
	assert.Equal(t, hotspots, rebuiltHotspots)

	limited, err := store.ListHotspots(ctx, repo.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteRepository_Cascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := createRepo(t, store, "https://github.com/a/b")
	insertCommit(t, store, repo.ID, "c1", "a@example.com", at(1, 9), model.FileChange{Path: "a.go", LinesAdded: 1})
	require.NoError(t, store.RebuildRollups(ctx, repo.ID))

	require.NoError(t, store.DeleteRepository(ctx, repo.ID))

	for _, table := range []string{"commits", "file_changes", "daily_metrics", "file_hotspots"} {
		var n int
		require.NoError(t, store.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := createRepo(t, store, "https://github.com/a/b")

	err := store.WithTx(ctx, func(q Querier) error {
		insertCommit(t, q, repo.ID, "c1", "a@example.com", at(1, 9))
		return apperrors.New(apperrors.KindNetworkError, "test", "boom")
	})
	require.Error(t, err)

	n, err := store.CountCommits(ctx, repo.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
