// internal/provider/github/client_test.go
package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
	"git-metrics/internal/provider"
)

const maxRetries = 3

var testRef = provider.RepoRef{Owner: "test", Name: "repo"}

// setupTestClient creates a httptest server and a client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient(Options{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Retry: provider.RetryPolicy{
			MaxAttempts:      maxRetries,
			InitialInterval:  time.Millisecond,
			MaxInterval:      5 * time.Millisecond,
			RateLimitMaxWait: 5 * time.Second,
		},
	}, logger)
	return client, server
}

func commitJSON(sha, date string) string {
	return fmt.Sprintf(`{"sha": %q, "commit": {"author": {"name": "Tester", "email": "T@Example.com", "date": %q}, "committer": {"name": "Tester", "email": "t@example.com", "date": %q}, "message": "feat: %s"}}`, sha, date, date, sha)
}

func TestClient_Describe_Retry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			assert.Equal(t, "/api/v3/repos/test/repo", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "full_name": "test/repo", "language": "Go", "owner": {"login": "test"}}`)
		})
		client, _ := setupTestClient(t, handler)

		info, err := client.Describe(context.Background(), testRef, "")

		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		assert.Equal(t, "repo", info.Name)
		assert.Equal(t, "test/repo", info.FullName)
		assert.Equal(t, "Go", info.Language)
	})

	t.Run("retries on 503 server error and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.WriteHeader(http.StatusServiceUnavailable) // Fail first time
				return
			}
			w.WriteHeader(http.StatusOK) // Succeed second time
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Describe(context.Background(), testRef, "")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("waits for rate limit reset", func(t *testing.T) {
		var requestCount int32
		resetTime := time.Now().Add(time.Second)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Describe(context.Background(), testRef, "")

		require.NoError(t, err)
		assert.False(t, time.Now().Before(time.Unix(resetTime.Unix(), 0)), "client should wait for rate limit reset")
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
	})

	t.Run("surfaces RateLimited when the reset is too far away", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Describe(context.Background(), testRef, "")

		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrRateLimited)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("fails after max retries on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Describe(context.Background(), testRef, "")

		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrNetwork)
		var ghErr *github.ErrorResponse
		assert.ErrorAs(t, err, &ghErr)
		assert.Equal(t, http.StatusInternalServerError, ghErr.Response.StatusCode)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&requestCount))
	})

	t.Run("does not retry authentication failures", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"message": "Bad credentials"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Describe(context.Background(), testRef, "bad-token")

		assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("classifies malformed payloads", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": "not-a-number"`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Describe(context.Background(), testRef, "")

		assert.ErrorIs(t, err, apperrors.ErrMalformedResponse)
	})
}

func TestClient_ListCommits_OldestFirst(t *testing.T) {
	var serverURL string
	pages := map[string]string{
		"1": "[" + commitJSON("c5", "2024-01-05T12:00:00Z") + "," + commitJSON("c4", "2024-01-04T12:00:00Z") + "]",
		"2": "[" + commitJSON("c3", "2024-01-03T12:00:00Z") + "," + commitJSON("c2", "2024-01-02T12:00:00Z") + "]",
		"3": "[" + commitJSON("c1", "2024-01-01T12:00:00Z") + "]",
	}
	var sinceSeen, untilSeen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/repos/test/repo/commits", r.URL.Path)
		page := r.URL.Query().Get("page")
		if page == "" {
			page = "1"
		}
		sinceSeen = r.URL.Query().Get("since")
		untilSeen = r.URL.Query().Get("until")
		if page != "3" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/test/repo/commits?page=3>; rel="last"`, serverURL))
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, pages[page])
	})
	client, server := setupTestClient(t, handler)
	serverURL = server.URL

	since := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	pager, err := client.ListCommits(context.Background(), testRef, provider.ListOptions{Since: &since, Until: until, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, pager.Estimate())
	assert.NotEmpty(t, sinceSeen)
	assert.NotEmpty(t, untilSeen)

	var hashes []string
	for {
		batch, err := pager.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for _, h := range batch {
			hashes = append(hashes, h.Hash)
		}
	}

	assert.Equal(t, []string{"c1", "c2", "c3", "c4", "c5"}, hashes)
	assert.Equal(t, 5, pager.Estimate())
}

func TestClient_ListCommits_SinglePage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "["+commitJSON("b", "2024-01-02T12:00:00Z")+","+commitJSON("a", "2024-01-01T12:00:00Z")+"]")
	})
	client, _ := setupTestClient(t, handler)

	pager, err := client.ListCommits(context.Background(), testRef, provider.ListOptions{PageSize: 50})
	require.NoError(t, err)

	batch, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Hash)
	assert.Equal(t, "T@Example.com", batch[0].AuthorEmail)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), batch[0].AuthoredAt.UTC())

	_, err = pager.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestClient_ListCommits_EmptyRepository(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintln(w, `{"message": "Git Repository is empty."}`)
	})
	client, _ := setupTestClient(t, handler)

	pager, err := client.ListCommits(context.Background(), testRef, provider.ListOptions{})
	require.NoError(t, err)

	_, err = pager.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestClient_FetchFileChanges(t *testing.T) {
	t.Run("resolves stats and files", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/repos/test/repo/commits/abc", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"sha": "abc", "stats": {"additions": 12, "deletions": 3, "total": 15}, "files": [
				{"filename": "main.go", "additions": 10, "deletions": 3, "status": "modified"},
				{"filename": "docs/new.md", "previous_filename": "docs/old.md", "additions": 2, "deletions": 0, "status": "renamed"}
			]}`)
		})
		client, _ := setupTestClient(t, handler)

		detail, err := client.FetchFileChanges(context.Background(), testRef, "", "abc")

		require.NoError(t, err)
		assert.Equal(t, 12, detail.LinesAdded)
		assert.Equal(t, 3, detail.LinesDeleted)
		require.Len(t, detail.Files, 2)
		assert.Equal(t, model.FileChange{Path: "main.go", LinesAdded: 10, LinesDeleted: 3, Kind: model.ChangeModified}, detail.Files[0])
		assert.Equal(t, model.ChangeRenamed, detail.Files[1].Kind)
		assert.Equal(t, "docs/old.md", detail.Files[1].PreviousPath)
	})

	t.Run("totals follow the listed files when the file list is truncated", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"sha": "abc", "stats": {"additions": 5000, "deletions": 900, "total": 5900}, "files": [
				{"filename": "a.go", "additions": 10, "deletions": 3, "status": "modified"},
				{"filename": "b.go", "additions": 4, "deletions": 1, "status": "modified"}
			]}`)
		})
		client, _ := setupTestClient(t, handler)

		detail, err := client.FetchFileChanges(context.Background(), testRef, "", "abc")

		require.NoError(t, err)
		assert.Equal(t, 14, detail.LinesAdded)
		assert.Equal(t, 4, detail.LinesDeleted)
		sum := 0
		for _, f := range detail.Files {
			sum += f.LinesChanged()
		}
		assert.Equal(t, detail.LinesAdded+detail.LinesDeleted, sum)
	})

	t.Run("missing stats is a malformed response", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"sha": "abc", "files": []}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.FetchFileChanges(context.Background(), testRef, "", "abc")

		assert.ErrorIs(t, err, apperrors.ErrMalformedResponse)
	})

	t.Run("unknown commit is not found", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.FetchFileChanges(context.Background(), testRef, "", "abc")

		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
