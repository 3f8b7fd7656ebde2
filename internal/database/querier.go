package database

import (
	"context"
	"time"

	"git-metrics/internal/model"
)

// Querier is the full set of store operations. *Queries implements it for
// both pooled connections and transactions.
type Querier interface {
	CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error)
	GetRepository(ctx context.Context, id int64) (model.Repository, error)
	GetRepositoryByURL(ctx context.Context, url string) (model.Repository, error)
	ListRepositories(ctx context.Context, activeOnly bool) ([]model.Repository, error)
	DeactivateRepository(ctx context.Context, id int64) error
	DeleteRepository(ctx context.Context, id int64) error
	AdvanceWatermark(ctx context.Context, id int64, watermark time.Time) error
	ResetWatermark(ctx context.Context, id int64) error
	MarkSynced(ctx context.Context, id int64, at time.Time) error

	ExistingHashes(ctx context.Context, repositoryID int64, hashes []string) (map[string]bool, error)
	InsertCommit(ctx context.Context, c model.Commit) (id int64, inserted bool, err error)
	InsertFileChanges(ctx context.Context, commitID int64, files []model.FileChange) error
	CountCommits(ctx context.Context, repositoryID int64) (int, error)
	CountDistinctHashes(ctx context.Context, repositoryID int64) (int, error)
	ListCommits(ctx context.Context, f CommitFilter) ([]model.Commit, error)

	RefreshRollups(ctx context.Context, repositoryID int64, days []time.Time, paths []string) error
	RebuildRollups(ctx context.Context, repositoryID int64) error
	ListDailyMetrics(ctx context.Context, repositoryID int64, since time.Time) ([]model.DailyMetric, error)
	ListHotspots(ctx context.Context, repositoryID int64, limit int) ([]model.FileHotspot, error)
}
