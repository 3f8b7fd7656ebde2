package metrics

import (
	"fmt"
	"sort"
	"time"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
)

// Cross-repository views treat the repository as one more grouping key.
// Commits of repositories missing from repos are ignored.

func groupByRepository(repos []model.Repository, commits []model.Commit) map[int64][]model.Commit {
	byRepo := make(map[int64][]model.Commit, len(repos))
	for _, r := range repos {
		byRepo[r.ID] = nil
	}
	for _, c := range commits {
		if _, ok := byRepo[c.RepositoryID]; ok {
			byRepo[c.RepositoryID] = append(byRepo[c.RepositoryID], c)
		}
	}
	return byRepo
}

// SummarizeAll reports overall totals and one summary per repository.
func SummarizeAll(repos []model.Repository, commits []model.Commit) AllSummary {
	byRepo := groupByRepository(repos, commits)
	out := AllSummary{
		Overall:      OverallSummary{TotalRepositories: len(repos)},
		Repositories: make([]RepositorySummary, 0, len(repos)),
	}

	emails := make(map[string]struct{})
	var first, last time.Time
	for _, r := range repos {
		s := Summarize(r, byRepo[r.ID])
		out.Repositories = append(out.Repositories, s)
		out.Overall.TotalCommits += s.TotalCommits
		out.Overall.TotalLinesAdded += s.TotalLinesAdded
		out.Overall.TotalLinesDeleted += s.TotalLinesDeleted
		if s.FirstCommit != nil && (first.IsZero() || s.FirstCommit.Before(first)) {
			first = *s.FirstCommit
		}
		if s.LastCommit != nil && s.LastCommit.After(last) {
			last = *s.LastCommit
		}
		for _, c := range byRepo[r.ID] {
			emails[c.AuthorEmail] = struct{}{}
		}
	}
	out.Overall.TotalLinesChanged = out.Overall.TotalLinesAdded + out.Overall.TotalLinesDeleted
	out.Overall.TotalContributors = len(emails)
	out.Overall.FirstCommit = timePtr(first)
	out.Overall.LastCommit = timePtr(last)

	sort.Slice(out.Repositories, func(i, j int) bool {
		a, b := out.Repositories[i], out.Repositories[j]
		if a.TotalCommits != b.TotalCommits {
			return a.TotalCommits > b.TotalCommits
		}
		return a.ID < b.ID
	})
	return out
}

// ParseComparisonMetric validates a comparison metric name.
func ParseComparisonMetric(s string) (ComparisonMetric, error) {
	switch m := ComparisonMetric(s); m {
	case CompareCommits, CompareContributors, CompareChurn:
		return m, nil
	}
	return "", apperrors.New(apperrors.KindInvalidInput, "metrics.Comparison",
		fmt.Sprintf("unknown comparison metric %q, expected commits, contributors or churn", s))
}

// Compare ranks repositories by metric.
func Compare(repos []model.Repository, commits []model.Commit, metric ComparisonMetric) ([]ComparisonEntry, error) {
	if _, err := ParseComparisonMetric(string(metric)); err != nil {
		return nil, err
	}
	byRepo := groupByRepository(repos, commits)
	entries := make([]ComparisonEntry, 0, len(repos))
	for _, r := range repos {
		s := Summarize(r, byRepo[r.ID])
		e := ComparisonEntry{ID: r.ID, Name: r.Name}
		switch metric {
		case CompareCommits:
			e.Value = s.TotalCommits
		case CompareContributors:
			e.Value = s.TotalContributors
		case CompareChurn:
			e.Value = s.TotalLinesChanged
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// mergeAuthors groups commits by normalized email with a per-repository breakdown.
func mergeAuthors(repos []model.Repository, commits []model.Commit) authors {
	names := make(map[int64]string, len(repos))
	for _, r := range repos {
		names[r.ID] = r.Name
	}
	all := make(authors)
	for _, c := range commits {
		name, ok := names[c.RepositoryID]
		if !ok {
			continue
		}
		a := all.get(c.AuthorEmail)
		a.add(c)
		rr, ok := a.repos[c.RepositoryID]
		if !ok {
			rr = &ContributorRepository{ID: c.RepositoryID, Name: name, FirstCommitDate: c.AuthoredAt}
			a.repos[c.RepositoryID] = rr
		}
		rr.TotalCommits++
		rr.TotalLinesAdded += c.LinesAdded
		rr.TotalLinesDeleted += c.LinesDeleted
		rr.TotalLinesChanged += c.LinesChanged()
		if c.AuthoredAt.Before(rr.FirstCommitDate) {
			rr.FirstCommitDate = c.AuthoredAt
		}
		if c.AuthoredAt.After(rr.LastCommitDate) {
			rr.LastCommitDate = c.AuthoredAt
		}
	}
	return all
}

func (a *author) cross() CrossContributor {
	cc := CrossContributor{
		AuthorName:        a.name,
		AuthorEmail:       a.email,
		RepositoriesCount: len(a.repos),
		TotalCommits:      a.commits,
		TotalLinesAdded:   a.added,
		TotalLinesDeleted: a.deleted,
		TotalLinesChanged: a.changed(),
		FirstCommitDate:   a.first,
		LastCommitDate:    a.last,
		Repositories:      make([]ContributorRepository, 0, len(a.repos)),
	}
	for _, rr := range a.repos {
		cc.Repositories = append(cc.Repositories, *rr)
	}
	sort.Slice(cc.Repositories, func(i, j int) bool {
		x, y := cc.Repositories[i], cc.Repositories[j]
		if x.TotalCommits != y.TotalCommits {
			return x.TotalCommits > y.TotalCommits
		}
		return x.ID < y.ID
	})
	return cc
}

// MergeContributors lists contributors across repositories, most commits first.
// A limit of zero returns all of them.
func MergeContributors(repos []model.Repository, commits []model.Commit, n int) []CrossContributor {
	all := mergeAuthors(repos, commits)
	out := make([]CrossContributor, 0, len(all))
	for _, a := range all {
		out = append(out, a.cross())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCommits != out[j].TotalCommits {
			return out[i].TotalCommits > out[j].TotalCommits
		}
		return out[i].AuthorEmail < out[j].AuthorEmail
	})
	return limit(out, n)
}

// ChurnAll computes churn over the trailing days across repositories.
func ChurnAll(repos []model.Repository, commits []model.Commit, now time.Time, days, contributorLimit int) AllChurnReport {
	since := now.Add(-time.Duration(days) * day)
	report := AllChurnReport{
		PeriodDays:       days,
		RepositoryChurn:  make([]RepositoryChurn, 0, len(repos)),
		ContributorChurn: []CrossContributorChurn{},
	}

	var windowed []model.Commit
	for _, c := range commits {
		if !c.AuthoredAt.Before(since) {
			windowed = append(windowed, c)
		}
	}
	byRepo := groupByRepository(repos, windowed)
	for _, r := range repos {
		rc := RepositoryChurn{ID: r.ID, Name: r.Name}
		for _, c := range byRepo[r.ID] {
			rc.Churn += c.LinesChanged()
			rc.Commits++
		}
		report.TotalChurn += rc.Churn
		report.RepositoryChurn = append(report.RepositoryChurn, rc)
	}
	sort.Slice(report.RepositoryChurn, func(i, j int) bool {
		a, b := report.RepositoryChurn[i], report.RepositoryChurn[j]
		if a.Churn != b.Churn {
			return a.Churn > b.Churn
		}
		return a.ID < b.ID
	})

	for _, a := range mergeAuthors(repos, windowed) {
		report.ContributorChurn = append(report.ContributorChurn, CrossContributorChurn{
			AuthorName:   a.name,
			AuthorEmail:  a.email,
			Churn:        a.changed(),
			Repositories: len(a.repos),
			Commits:      a.commits,
		})
	}
	sort.Slice(report.ContributorChurn, func(i, j int) bool {
		a, b := report.ContributorChurn[i], report.ContributorChurn[j]
		if a.Churn != b.Churn {
			return a.Churn > b.Churn
		}
		return a.AuthorEmail < b.AuthorEmail
	})
	report.ContributorChurn = limit(report.ContributorChurn, contributorLimit)
	return report
}

// DescribeContributor returns one contributor's cross-repository detail and
// their daily activity over the last 30 days. ok is false when the email has
// no commits in repos.
func DescribeContributor(repos []model.Repository, commits []model.Commit, email string, now time.Time) (ContributorDetail, bool) {
	email = model.NormalizeEmail(email)
	active := make(map[int64]struct{}, len(repos))
	for _, r := range repos {
		active[r.ID] = struct{}{}
	}
	var own []model.Commit
	for _, c := range commits {
		if _, ok := active[c.RepositoryID]; ok && c.AuthorEmail == email {
			own = append(own, c)
		}
	}
	a, ok := mergeAuthors(repos, own)[email]
	if !ok {
		return ContributorDetail{}, false
	}

	detail := ContributorDetail{CrossContributor: a.cross(), RecentActivity: []ActivityDay{}}
	cutoff := now.Add(-30 * day)
	byDay := make(map[string]*ActivityDay)
	for _, c := range own {
		if c.AuthoredAt.Before(cutoff) {
			continue
		}
		key := c.AuthoredAt.UTC().Format(time.DateOnly)
		d, ok := byDay[key]
		if !ok {
			d = &ActivityDay{Date: key}
			byDay[key] = d
		}
		d.Commits++
		d.LinesChanged += c.LinesChanged()
	}
	for _, d := range byDay {
		detail.RecentActivity = append(detail.RecentActivity, *d)
	}
	sort.Slice(detail.RecentActivity, func(i, j int) bool {
		return detail.RecentActivity[i].Date < detail.RecentActivity[j].Date
	})
	return detail, true
}
