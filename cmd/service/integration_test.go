//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"git-metrics/internal/config"
	"git-metrics/internal/database"
	"git-metrics/internal/metrics"
	"git-metrics/internal/model"
	"git-metrics/internal/syncer"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func startMySQL(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret123",
			"MYSQL_DATABASE":      "gitmetrics",
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(60 * time.Second),
	}
	mysqlC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mysqlC.Terminate(ctx) })

	host, err := mysqlC.Host(ctx)
	require.NoError(t, err)
	port, err := mysqlC.MappedPort(ctx, "3306")
	require.NoError(t, err)
	return fmt.Sprintf("root:secret123@tcp(%s:%s)/gitmetrics", host, port.Port())
}

// fakeGitHub serves a three-commit history under the enterprise API prefix.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	type fixture struct {
		sha, email, date string
		added, deleted   int
	}
	history := []fixture{
		{"c3", "b@example.com", "2024-05-03T10:00:00Z", 10, 0},
		{"c2", "a@example.com", "2024-05-02T10:00:00Z", 30, 0},
		{"c1", "a@example.com", "2024-05-01T10:00:00Z", 60, 0},
	}
	commitJSON := func(f fixture) string {
		return fmt.Sprintf(`{"sha": %q, "commit": {"author": {"name": %q, "email": %q, "date": %q}, "committer": {"name": %q, "email": %q, "date": %q}, "message": "feat: %s"}}`,
			f.sha, f.email, f.email, f.date, f.email, f.email, f.date, f.sha)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id": 123, "name": "api", "full_name": "acme/api", "owner": {"login": "acme"}}`)
	})
	mux.HandleFunc("/api/v3/repos/acme/api/commits", func(w http.ResponseWriter, _ *http.Request) {
		parts := make([]string, len(history))
		for i, f := range history {
			parts[i] = commitJSON(f)
		}
		fmt.Fprintf(w, "[%s]", strings.Join(parts, ","))
	})
	mux.HandleFunc("/api/v3/repos/acme/api/commits/", func(w http.ResponseWriter, r *http.Request) {
		sha := strings.TrimPrefix(r.URL.Path, "/api/v3/repos/acme/api/commits/")
		for _, f := range history {
			if f.sha != sha {
				continue
			}
			body := strings.TrimSuffix(commitJSON(f), "}")
			fmt.Fprintf(w, `%s, "stats": {"additions": %d, "deletions": %d, "total": %d}, "files": [{"filename": "main.go", "additions": %d, "deletions": %d, "status": "modified"}]}`,
				body, f.added, f.deleted, f.added+f.deleted, f.added, f.deleted)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestApp(ctx context.Context, t *testing.T, backend, dsn, githubURL string) *app {
	t.Helper()
	t.Setenv("DB_BACKEND", backend)
	t.Setenv("DB_URL", dsn)
	t.Setenv("GITHUB_BASE_URL", githubURL)
	t.Setenv("SYNC_INTERVAL", "0")
	t.Setenv("RETRY_INITIAL_INTERVAL", "1ms")
	t.Setenv("RETRY_MAX_INTERVAL", "5ms")

	cfg, err := config.Load(viper.New())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a, err := newApp(ctx, cfg, logger, true)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func getJSON(t *testing.T, server *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func exerciseBackend(ctx context.Context, t *testing.T, backend database.Dialect, dsn string) {
	gh := fakeGitHub(t)
	a := newTestApp(ctx, t, string(backend), dsn, gh.URL)

	repo, err := a.syncer.Register(ctx, syncer.RegisterParams{URL: "https://github.com/acme/api"})
	require.NoError(t, err)
	assert.Equal(t, "acme/api", repo.Name)

	api := httptest.NewServer(a.router())
	t.Cleanup(api.Close)

	assert.Equal(t, http.StatusConflict, getJSON(t, api, fmt.Sprintf("/v1/metrics/%d/summary", repo.ID), nil))

	res, err := a.syncer.SyncNow(ctx, repo.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingested)

	// A second run stores nothing new.
	res, err = a.syncer.SyncNow(ctx, repo.ID, false)
	require.NoError(t, err)
	assert.Zero(t, res.Ingested)
	count, err := a.store.CountCommits(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var summary metrics.RepositorySummary
	require.Equal(t, http.StatusOK, getJSON(t, api, fmt.Sprintf("/v1/metrics/%d/summary", repo.ID), &summary))
	assert.Equal(t, 3, summary.TotalCommits)
	assert.Equal(t, 2, summary.TotalContributors)
	assert.Equal(t, 100, summary.TotalLinesChanged)

	var bus metrics.BusFactorReport
	require.Equal(t, http.StatusOK, getJSON(t, api, fmt.Sprintf("/v1/metrics/%d/bus-factor", repo.ID), &bus))
	assert.Equal(t, 1, bus.BusFactor)
	require.Len(t, bus.HighRiskFiles, 1)
	assert.Equal(t, 90.0, bus.HighRiskFiles[0].OwnershipPercentage)

	// Full resync rebuilds the same projection.
	_, err = a.syncer.SyncNow(ctx, repo.ID, true)
	require.NoError(t, err)
	hotspots, err := a.store.ListHotspots(ctx, repo.ID, 0)
	require.NoError(t, err)
	require.Len(t, hotspots, 1)
	assert.Equal(t, 3, hotspots[0].ChangeCount)
	assert.Equal(t, 100, hotspots[0].LinesChanged)

	// Paths differing only in case are distinct files, and long paths fit.
	deep := strings.Repeat("nested/", 90) + "file.go"
	files := []model.FileChange{
		{Path: "README.md", LinesAdded: 1, Kind: model.ChangeAdded},
		{Path: "readme.md", LinesAdded: 2, Kind: model.ChangeAdded},
		{Path: deep, LinesAdded: 3, Kind: model.ChangeAdded},
	}
	err = a.store.WithTx(ctx, func(q database.Querier) error {
		id, inserted, err := q.InsertCommit(ctx, model.Commit{
			RepositoryID: repo.ID, Hash: "c4", AuthorName: "a", AuthorEmail: "a@example.com",
			Message: "docs: readme", AuthoredAt: time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC),
			LinesAdded: 6, FilesChanged: len(files), Files: files,
		})
		if err != nil {
			return err
		}
		assert.True(t, inserted)
		return q.InsertFileChanges(ctx, id, files)
	})
	require.NoError(t, err)
	stored, err := a.store.ListCommits(ctx, database.CommitFilter{RepositoryIDs: []int64{repo.ID}, WithFiles: true})
	require.NoError(t, err)
	var paths []string
	for _, c := range stored {
		if c.Hash == "c4" {
			for _, f := range c.Files {
				paths = append(paths, f.Path)
			}
		}
	}
	assert.ElementsMatch(t, []string{"README.md", "readme.md", deep}, paths)

	require.NoError(t, a.syncer.Delete(ctx, repo.ID))
	count, err = a.store.CountCommits(ctx, repo.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	exerciseBackend(ctx, t, database.Postgres, startPostgres(ctx, t))
}

func TestService_MySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	exerciseBackend(ctx, t, database.MySQL, startMySQL(ctx, t))
}
