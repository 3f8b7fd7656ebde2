// internal/metrics/engine.go
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git-metrics/internal/database"
	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
)

// Store is the read side of the commit store.
type Store interface {
	GetRepository(ctx context.Context, id int64) (model.Repository, error)
	ListRepositories(ctx context.Context, activeOnly bool) ([]model.Repository, error)
	ListCommits(ctx context.Context, f database.CommitFilter) ([]model.Commit, error)
	ListDailyMetrics(ctx context.Context, repositoryID int64, since time.Time) ([]model.DailyMetric, error)
	ListHotspots(ctx context.Context, repositoryID int64, limit int) ([]model.FileHotspot, error)
}

type Options struct {
	Thresholds Thresholds
	Now        func() time.Time
}

// Engine computes metrics from store snapshots. It never writes.
type Engine struct {
	store  Store
	logger *slog.Logger
	th     Thresholds
	now    func() time.Time
}

func NewEngine(store Store, logger *slog.Logger, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:  store,
		logger: logger.With("component", "metrics"),
		th:     opts.Thresholds,
		now:    opts.Now,
	}
}

func (e *Engine) clock() time.Time {
	return model.NormalizeTime(e.now())
}

func positive(op, name string, v int) error {
	if v < 1 {
		return apperrors.New(apperrors.KindInvalidInput, op, fmt.Sprintf("%s must be at least 1, got %d", name, v))
	}
	return nil
}

// snapshot loads a repository and its commits authored at or after since.
func (e *Engine) snapshot(ctx context.Context, repoID int64, since *time.Time, withFiles bool) (model.Repository, []model.Commit, error) {
	repo, err := e.store.GetRepository(ctx, repoID)
	if err != nil {
		return model.Repository{}, nil, err
	}
	commits, err := e.store.ListCommits(ctx, database.CommitFilter{
		RepositoryIDs: []int64{repoID},
		Since:         since,
		WithFiles:     withFiles,
	})
	if err != nil {
		return model.Repository{}, nil, err
	}
	return repo, commits, nil
}

// activeSnapshot loads the active repositories and their commits.
func (e *Engine) activeSnapshot(ctx context.Context, since *time.Time, email string) ([]model.Repository, []model.Commit, error) {
	repos, err := e.store.ListRepositories(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	if len(repos) == 0 {
		return repos, nil, nil
	}
	ids := make([]int64, len(repos))
	for i, r := range repos {
		ids[i] = r.ID
	}
	commits, err := e.store.ListCommits(ctx, database.CommitFilter{RepositoryIDs: ids, Since: since, AuthorEmail: email})
	if err != nil {
		return nil, nil, err
	}
	return repos, commits, nil
}

func (e *Engine) Summary(ctx context.Context, repoID int64) (RepositorySummary, error) {
	repo, commits, err := e.snapshot(ctx, repoID, nil, false)
	if err != nil {
		return RepositorySummary{}, err
	}
	return Summarize(repo, commits), nil
}

func (e *Engine) Churn(ctx context.Context, repoID int64, days int) (ChurnReport, error) {
	if err := positive("metrics.Churn", "days", days); err != nil {
		return ChurnReport{}, err
	}
	now := e.clock()
	since := now.Add(-time.Duration(days) * day)
	_, commits, err := e.snapshot(ctx, repoID, &since, true)
	if err != nil {
		return ChurnReport{}, err
	}
	return Churn(commits, now, days), nil
}

func (e *Engine) Velocity(ctx context.Context, repoID int64, weeks int) (VelocityReport, error) {
	if err := positive("metrics.Velocity", "weeks", weeks); err != nil {
		return VelocityReport{}, err
	}
	now := e.clock()
	since := weekStart(now).AddDate(0, 0, -7*(weeks-1))
	_, commits, err := e.snapshot(ctx, repoID, &since, false)
	if err != nil {
		return VelocityReport{}, err
	}
	return Velocity(commits, now, weeks), nil
}

func (e *Engine) BusFactor(ctx context.Context, repoID int64) (BusFactorReport, error) {
	_, commits, err := e.snapshot(ctx, repoID, nil, true)
	if err != nil {
		return BusFactorReport{}, err
	}
	return BusFactor(commits, e.th), nil
}

// CommitPatterns covers the trailing days, or all history when days is zero.
func (e *Engine) CommitPatterns(ctx context.Context, repoID int64, days int) (CommitPatterns, error) {
	var since *time.Time
	if days < 0 {
		return CommitPatterns{}, apperrors.New(apperrors.KindInvalidInput, "metrics.CommitPatterns", "days must not be negative")
	}
	if days > 0 {
		t := e.clock().Add(-time.Duration(days) * day)
		since = &t
	}
	_, commits, err := e.snapshot(ctx, repoID, since, false)
	if err != nil {
		return CommitPatterns{}, err
	}
	return Patterns(commits, since), nil
}

func (e *Engine) Quality(ctx context.Context, repoID int64) (QualityReport, error) {
	_, commits, err := e.snapshot(ctx, repoID, nil, false)
	if err != nil {
		return QualityReport{}, err
	}
	hotspots, err := e.store.ListHotspots(ctx, repoID, e.th.HotspotLimit)
	if err != nil {
		return QualityReport{}, err
	}
	return Quality(commits, hotspots), nil
}

func (e *Engine) ContributorInsights(ctx context.Context, repoID int64) (ContributorReport, error) {
	_, commits, err := e.snapshot(ctx, repoID, nil, true)
	if err != nil {
		return ContributorReport{}, err
	}
	return Contributors(commits, e.clock(), e.th), nil
}

// Comprehensive computes every per-repository report over a single snapshot.
func (e *Engine) Comprehensive(ctx context.Context, repoID int64) (Comprehensive, error) {
	start := time.Now()
	repo, commits, err := e.snapshot(ctx, repoID, nil, true)
	if err != nil {
		return Comprehensive{}, err
	}
	hotspots, err := e.store.ListHotspots(ctx, repoID, e.th.HotspotLimit)
	if err != nil {
		return Comprehensive{}, err
	}
	report := ComprehensiveReport(repo, commits, hotspots, e.clock(), e.th)
	e.logger.Debug("Comprehensive metrics computed", "repo_id", repoID, "commits", len(commits), "duration", time.Since(start).String())
	return report, nil
}

// DailyMetrics reads the daily rollup for the trailing days, oldest first.
func (e *Engine) DailyMetrics(ctx context.Context, repoID int64, days int) ([]model.DailyMetric, error) {
	if err := positive("metrics.DailyMetrics", "days", days); err != nil {
		return nil, err
	}
	if _, err := e.store.GetRepository(ctx, repoID); err != nil {
		return nil, err
	}
	since := database.Day(e.clock()).AddDate(0, 0, -(days - 1))
	out, err := e.store.ListDailyMetrics(ctx, repoID, since)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.DailyMetric{}
	}
	return out, nil
}

// Hotspots reads the hotspot rollup. A limit of zero uses the configured default.
func (e *Engine) Hotspots(ctx context.Context, repoID int64, limit int) ([]model.FileHotspot, error) {
	if limit <= 0 {
		limit = e.th.HotspotLimit
	}
	if _, err := e.store.GetRepository(ctx, repoID); err != nil {
		return nil, err
	}
	out, err := e.store.ListHotspots(ctx, repoID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.FileHotspot{}
	}
	return out, nil
}

func (e *Engine) AllSummary(ctx context.Context) (AllSummary, error) {
	repos, commits, err := e.activeSnapshot(ctx, nil, "")
	if err != nil {
		return AllSummary{}, err
	}
	return SummarizeAll(repos, commits), nil
}

func (e *Engine) Comparison(ctx context.Context, metric string) ([]ComparisonEntry, error) {
	m, err := ParseComparisonMetric(metric)
	if err != nil {
		return nil, err
	}
	repos, commits, err := e.activeSnapshot(ctx, nil, "")
	if err != nil {
		return nil, err
	}
	return Compare(repos, commits, m)
}

// AllContributors lists contributors merged across active repositories.
// A limit of zero returns all of them.
func (e *Engine) AllContributors(ctx context.Context, limit int) ([]CrossContributor, error) {
	if limit < 0 {
		return nil, apperrors.New(apperrors.KindInvalidInput, "metrics.AllContributors", "limit must not be negative")
	}
	repos, commits, err := e.activeSnapshot(ctx, nil, "")
	if err != nil {
		return nil, err
	}
	return MergeContributors(repos, commits, limit), nil
}

func (e *Engine) AllChurn(ctx context.Context, days int) (AllChurnReport, error) {
	if err := positive("metrics.AllChurn", "days", days); err != nil {
		return AllChurnReport{}, err
	}
	now := e.clock()
	since := now.Add(-time.Duration(days) * day)
	repos, commits, err := e.activeSnapshot(ctx, &since, "")
	if err != nil {
		return AllChurnReport{}, err
	}
	return ChurnAll(repos, commits, now, days, e.th.ChurnContributorLimit), nil
}

// Contributor returns one contributor across the active repositories.
func (e *Engine) Contributor(ctx context.Context, email string) (ContributorDetail, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return ContributorDetail{}, apperrors.New(apperrors.KindInvalidInput, "metrics.Contributor", "email is required")
	}
	repos, commits, err := e.activeSnapshot(ctx, nil, email)
	if err != nil {
		return ContributorDetail{}, err
	}
	detail, ok := DescribeContributor(repos, commits, email, e.clock())
	if !ok {
		return ContributorDetail{}, apperrors.New(apperrors.KindNotFound, "metrics.Contributor",
			fmt.Sprintf("no commits by %s in active repositories", email))
	}
	return detail, nil
}
