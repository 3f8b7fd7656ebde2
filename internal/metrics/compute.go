package metrics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"git-metrics/internal/model"
)

const day = 24 * time.Hour

// author accumulates one contributor's totals. The display name is taken from
// the contributor's newest commit so the result does not depend on input order.
type author struct {
	name     string
	email    string
	nameAt   time.Time
	nameHash string
	commits  int
	added    int
	deleted  int
	first    time.Time
	last     time.Time
	files    map[string]struct{}
	repos    map[int64]*ContributorRepository
}

func (a *author) add(c model.Commit) {
	if a.commits == 0 || c.AuthoredAt.After(a.nameAt) || (c.AuthoredAt.Equal(a.nameAt) && c.Hash > a.nameHash) {
		a.name, a.nameAt, a.nameHash = c.AuthorName, c.AuthoredAt, c.Hash
	}
	if a.commits == 0 || c.AuthoredAt.Before(a.first) {
		a.first = c.AuthoredAt
	}
	if c.AuthoredAt.After(a.last) {
		a.last = c.AuthoredAt
	}
	a.commits++
	a.added += c.LinesAdded
	a.deleted += c.LinesDeleted
	for _, f := range c.Files {
		a.files[f.Path] = struct{}{}
	}
}

func (a *author) changed() int { return a.added + a.deleted }

type authors map[string]*author

func (as authors) get(email string) *author {
	a, ok := as[email]
	if !ok {
		a = &author{email: email, files: make(map[string]struct{}), repos: make(map[int64]*ContributorRepository)}
		as[email] = a
	}
	return a
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

func limit[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Churn computes file and developer churn over commits authored at or after now-days.
func Churn(commits []model.Commit, now time.Time, days int) ChurnReport {
	since := now.Add(-time.Duration(days) * day)
	report := ChurnReport{PeriodDays: days, FileChurn: []FileChurn{}, DeveloperChurn: []DeveloperChurn{}}

	type fileAgg struct {
		churn   int
		commits int
		authors map[string]struct{}
	}
	files := make(map[string]*fileAgg)
	devs := make(authors)

	for _, c := range commits {
		if c.AuthoredAt.Before(since) {
			continue
		}
		report.TotalChurn += c.LinesChanged()
		devs.get(c.AuthorEmail).add(c)
		for _, f := range c.Files {
			fa, ok := files[f.Path]
			if !ok {
				fa = &fileAgg{authors: make(map[string]struct{})}
				files[f.Path] = fa
			}
			fa.churn += f.LinesChanged()
			fa.commits++
			fa.authors[c.AuthorEmail] = struct{}{}
		}
	}

	for path, fa := range files {
		report.FileChurn = append(report.FileChurn, FileChurn{
			FilePath:        path,
			Churn:           fa.churn,
			ChangeFrequency: fa.commits,
			Contributors:    len(fa.authors),
		})
	}
	sort.Slice(report.FileChurn, func(i, j int) bool {
		a, b := report.FileChurn[i], report.FileChurn[j]
		if a.Churn != b.Churn {
			return a.Churn > b.Churn
		}
		return a.FilePath < b.FilePath
	})

	for _, a := range devs {
		report.DeveloperChurn = append(report.DeveloperChurn, DeveloperChurn{
			AuthorName:  a.name,
			AuthorEmail: a.email,
			Churn:       a.changed(),
			Added:       a.added,
			Deleted:     a.deleted,
			Commits:     a.commits,
		})
	}
	sort.Slice(report.DeveloperChurn, func(i, j int) bool {
		a, b := report.DeveloperChurn[i], report.DeveloperChurn[j]
		if a.Churn != b.Churn {
			return a.Churn > b.Churn
		}
		return a.AuthorEmail < b.AuthorEmail
	})
	return report
}

// weekStart returns the Monday 00:00 UTC of t's ISO week.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Velocity buckets commits into the trailing weeks ISO weeks, ending with the
// week containing now. Empty weeks are reported.
func Velocity(commits []model.Commit, now time.Time, weeks int) VelocityReport {
	if weeks < 1 {
		weeks = 1
	}
	start := weekStart(now).AddDate(0, 0, -7*(weeks-1))
	buckets := make([]WeekMetric, weeks)
	active := make([]map[string]struct{}, weeks)
	for i := range buckets {
		ws := start.AddDate(0, 0, 7*i)
		year, week := ws.ISOWeek()
		buckets[i] = WeekMetric{Week: fmt.Sprintf("%d-W%02d", year, week), WeekStart: ws}
		active[i] = make(map[string]struct{})
	}

	for _, c := range commits {
		if c.AuthoredAt.Before(start) {
			continue
		}
		idx := int(c.AuthoredAt.Sub(start) / (7 * day))
		if idx >= weeks {
			continue
		}
		b := &buckets[idx]
		b.Commits++
		b.LinesAdded += c.LinesAdded
		b.LinesDeleted += c.LinesDeleted
		b.LinesChanged += c.LinesChanged()
		active[idx][c.AuthorEmail] = struct{}{}
	}
	for i := range buckets {
		buckets[i].ActiveContributors = len(active[i])
	}

	return VelocityReport{
		WeeklyMetrics:         buckets,
		CommitTrendPercentage: round2(commitTrend(buckets)),
		WeeksAnalyzed:         weeks,
	}
}

// commitTrend compares the mean commits of the recent half against the earlier
// half. With an odd bucket count the middle bucket belongs to neither half.
func commitTrend(buckets []WeekMetric) float64 {
	half := len(buckets) / 2
	if half == 0 {
		return 0
	}
	var earlier, recent int
	for _, b := range buckets[:half] {
		earlier += b.Commits
	}
	for _, b := range buckets[len(buckets)-half:] {
		recent += b.Commits
	}
	earlierMean := float64(earlier) / float64(half)
	if earlierMean == 0 {
		return 0
	}
	recentMean := float64(recent) / float64(half)
	return (recentMean - earlierMean) / earlierMean * 100
}

// BusFactor measures ownership concentration per file and for the repository.
func BusFactor(commits []model.Commit, th Thresholds) BusFactorReport {
	type share struct {
		lines   int
		changes int
	}
	files := make(map[string]map[string]*share)
	contributors := make(authors)

	for _, c := range commits {
		contributors.get(c.AuthorEmail).add(c)
		for _, f := range c.Files {
			owners, ok := files[f.Path]
			if !ok {
				owners = make(map[string]*share)
				files[f.Path] = owners
			}
			s, ok := owners[c.AuthorEmail]
			if !ok {
				s = &share{}
				owners[c.AuthorEmail] = s
			}
			s.lines += f.LinesChanged()
			s.changes++
		}
	}

	report := BusFactorReport{
		TotalFiles:              len(files),
		HighRiskFiles:           []FileRisk{},
		ContributorDistribution: []ContributorShare{},
	}

	for path, owners := range files {
		var totalLines, totalChanges int
		for _, s := range owners {
			totalLines += s.lines
			totalChanges += s.changes
		}
		weight := func(s *share) int {
			if totalLines > 0 {
				return s.lines
			}
			return s.changes
		}
		total := totalLines
		if total == 0 {
			total = totalChanges
		}

		var owner string
		var top int
		for email, s := range owners {
			w := weight(s)
			if owner == "" || w > top || (w == top && email < owner) {
				owner, top = email, w
			}
		}
		ownership := float64(top) / float64(total)
		if ownership+1e-9 < th.SingleOwnerThreshold {
			continue
		}
		report.FilesWithSingleOwner++
		report.HighRiskFiles = append(report.HighRiskFiles, FileRisk{
			FilePath:            path,
			PrimaryOwner:        owner,
			OwnershipPercentage: round2(ownership * 100),
			TotalChanges:        totalChanges,
			TotalLinesChanged:   totalLines,
		})
	}
	sort.Slice(report.HighRiskFiles, func(i, j int) bool {
		a, b := report.HighRiskFiles[i], report.HighRiskFiles[j]
		if a.OwnershipPercentage != b.OwnershipPercentage {
			return a.OwnershipPercentage > b.OwnershipPercentage
		}
		return a.FilePath < b.FilePath
	})
	report.HighRiskFiles = limit(report.HighRiskFiles, th.HighRiskFileLimit)
	report.SingleOwnerPercentage = round2(percent(float64(report.FilesWithSingleOwner), float64(report.TotalFiles)))

	ranked := make([]*author, 0, len(contributors))
	var totalLines, totalCommits int
	for _, a := range contributors {
		ranked = append(ranked, a)
		totalLines += a.changed()
		totalCommits += a.commits
	}
	// Repositories without line stats fall back to commit counts.
	weight := func(a *author) int {
		if totalLines > 0 {
			return a.changed()
		}
		return a.commits
	}
	total := totalLines
	if total == 0 {
		total = totalCommits
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if wa, wb := weight(a), weight(b); wa != wb {
			return wa > wb
		}
		if !a.first.Equal(b.first) {
			return a.first.Before(b.first)
		}
		return a.email < b.email
	})

	cumulative := 0
	for i, a := range ranked {
		cumulative += weight(a)
		if float64(cumulative)/float64(total) > th.BusFactorMajority {
			report.BusFactor = i + 1
			break
		}
	}

	for _, a := range limit(ranked, th.TopContributorLimit) {
		report.ContributorDistribution = append(report.ContributorDistribution, ContributorShare{
			AuthorName:   a.name,
			AuthorEmail:  a.email,
			TotalCommits: a.commits,
			LinesChanged: a.changed(),
			Percentage:   round2(percent(float64(weight(a)), float64(total))),
			FirstCommit:  a.first,
		})
	}
	return report
}

// Patterns builds UTC hour and weekday histograms of commits authored at or after since.
// A nil since covers all commits.
func Patterns(commits []model.Commit, since *time.Time) CommitPatterns {
	var p CommitPatterns
	for _, c := range commits {
		if since != nil && c.AuthoredAt.Before(*since) {
			continue
		}
		t := c.AuthoredAt.UTC()
		p.HourlyDistribution[t.Hour()]++
		p.DailyDistribution[int(t.Weekday())]++
		p.TotalCommits++
	}
	p.PeakHour = argmax(p.HourlyDistribution[:])
	p.PeakDay = argmax(p.DailyDistribution[:])
	return p
}

// argmax returns the first index holding the maximum.
func argmax(values []int) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// Quality derives commit-size and message indicators. hotspots are reported as given.
func Quality(commits []model.Commit, hotspots []model.FileHotspot) QualityReport {
	report := QualityReport{FileHotspots: hotspots}
	if report.FileHotspots == nil {
		report.FileHotspots = []model.FileHotspot{}
	}
	if len(commits) == 0 {
		return report
	}
	var lines, files int
	var score float64
	for _, c := range commits {
		lines += c.LinesChanged()
		files += c.FilesChanged
		score += MessageScore(c.Message)
	}
	n := float64(len(commits))
	report.AverageCommitSize = round2(float64(lines) / n)
	report.AverageFilesPerCommit = round2(float64(files) / n)
	report.MessageQualityScore = round2(score / n)
	return report
}

// Contributors computes per-contributor totals, shares and roles.
func Contributors(commits []model.Commit, now time.Time, th Thresholds) ContributorReport {
	all := make(authors)
	recent := make(map[string]struct{})
	cutoff := now.Add(-30 * day)
	var totalCommits, totalLines int
	for _, c := range commits {
		all.get(c.AuthorEmail).add(c)
		totalCommits++
		totalLines += c.LinesChanged()
		if !c.AuthoredAt.Before(cutoff) {
			recent[c.AuthorEmail] = struct{}{}
		}
	}

	insights := make([]ContributorInsight, 0, len(all))
	for _, a := range all {
		daysActive := int(a.last.Sub(a.first) / day)
		commitShare := percent(float64(a.commits), float64(totalCommits))
		insights = append(insights, ContributorInsight{
			AuthorName:        a.name,
			AuthorEmail:       a.email,
			TotalCommits:      a.commits,
			TotalLinesAdded:   a.added,
			TotalLinesDeleted: a.deleted,
			TotalLinesChanged: a.changed(),
			FirstCommitDate:   a.first,
			LastCommitDate:    a.last,
			DaysActive:        daysActive,
			FilesTouched:      len(a.files),
			CommitPercentage:  round2(commitShare),
			LinesPercentage:   round2(percent(float64(a.changed()), float64(totalLines))),
			AvgCommitSize:     round2(float64(a.changed()) / float64(a.commits)),
			Role:              classifyRole(commitShare, daysActive, th),
		})
	}
	sort.Slice(insights, func(i, j int) bool {
		a, b := insights[i], insights[j]
		if a.TotalCommits != b.TotalCommits {
			return a.TotalCommits > b.TotalCommits
		}
		if a.TotalLinesChanged != b.TotalLinesChanged {
			return a.TotalLinesChanged > b.TotalLinesChanged
		}
		return a.AuthorEmail < b.AuthorEmail
	})

	return ContributorReport{
		TotalContributors:            len(insights),
		ActiveContributorsLast30Days: len(recent),
		Contributors:                 insights,
		TopContributors:              limit(insights, th.TopContributorLimit),
	}
}

func classifyRole(commitShare float64, daysActive int, th Thresholds) Role {
	switch {
	case commitShare > th.RoleCoreShare,
		daysActive >= th.RoleCoreTenureDays && commitShare > th.RoleRegularShare:
		return RoleCore
	case commitShare > th.RoleRegularShare:
		return RoleRegular
	default:
		return RoleOccasional
	}
}

// Summarize returns the headline totals of one repository.
func Summarize(repo model.Repository, commits []model.Commit) RepositorySummary {
	s := RepositorySummary{
		ID:       repo.ID,
		Name:     repo.Name,
		URL:      repo.URL,
		Provider: repo.Provider,
		LastSync: repo.LastSync,
		SyncedAt: repo.SyncedAt,
	}
	emails := make(map[string]struct{})
	var first, last time.Time
	for _, c := range commits {
		s.TotalCommits++
		s.TotalLinesAdded += c.LinesAdded
		s.TotalLinesDeleted += c.LinesDeleted
		emails[c.AuthorEmail] = struct{}{}
		if first.IsZero() || c.AuthoredAt.Before(first) {
			first = c.AuthoredAt
		}
		if c.AuthoredAt.After(last) {
			last = c.AuthoredAt
		}
	}
	s.TotalLinesChanged = s.TotalLinesAdded + s.TotalLinesDeleted
	s.TotalContributors = len(emails)
	s.FirstCommit = timePtr(first)
	s.LastCommit = timePtr(last)
	return s
}

// ComprehensiveReport bundles every per-repository report over one snapshot.
func ComprehensiveReport(repo model.Repository, commits []model.Commit, hotspots []model.FileHotspot, now time.Time, th Thresholds) Comprehensive {
	return Comprehensive{
		Summary:           Summarize(repo, commits),
		Churn:             Churn(commits, now, 30),
		Velocity:          Velocity(commits, now, 12),
		BusFactor:         BusFactor(commits, th),
		CommitPatterns:    Patterns(commits, nil),
		QualityIndicators: Quality(commits, hotspots),
		Contributors:      Contributors(commits, now, th),
	}
}
