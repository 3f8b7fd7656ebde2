package database

import (
	"context"
	"sort"
	"time"

	"git-metrics/internal/model"
)

// RefreshRollups recomputes the daily and hotspot rollup rows for the given
// keys from the commit and file change rows. Keys with no remaining source
// rows are deleted, so the projection always matches a full rebuild.
func (q *Queries) RefreshRollups(ctx context.Context, repositoryID int64, days []time.Time, paths []string) error {
	for _, d := range uniqueDays(days) {
		if err := q.refreshDay(ctx, repositoryID, d); err != nil {
			return err
		}
	}
	for _, p := range uniqueStrings(paths) {
		if err := q.refreshHotspot(ctx, repositoryID, p); err != nil {
			return err
		}
	}
	return nil
}

// RebuildRollups discards and recomputes every rollup row of the repository.
func (q *Queries) RebuildRollups(ctx context.Context, repositoryID int64) error {
	if _, err := q.exec(ctx, `DELETE FROM daily_metrics WHERE repository_id = ?`, repositoryID); err != nil {
		return classify("database.RebuildRollups", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM file_hotspots WHERE repository_id = ?`, repositoryID); err != nil {
		return classify("database.RebuildRollups", err)
	}

	var days []time.Time
	rows, err := q.query(ctx, `SELECT authored_at FROM commits WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return classify("database.RebuildRollups", err)
	}
	for rows.Next() {
		var ts timestamp
		if err := rows.Scan(&ts); err != nil {
			rows.Close()
			return classify("database.RebuildRollups", err)
		}
		days = append(days, ts.Time)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify("database.RebuildRollups", err)
	}

	var paths []string
	prows, err := q.query(ctx, `SELECT DISTINCT f.file_path FROM file_changes f
		JOIN commits c ON c.id = f.commit_id WHERE c.repository_id = ?`, repositoryID)
	if err != nil {
		return classify("database.RebuildRollups", err)
	}
	for prows.Next() {
		var p string
		if err := prows.Scan(&p); err != nil {
			prows.Close()
			return classify("database.RebuildRollups", err)
		}
		paths = append(paths, p)
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return classify("database.RebuildRollups", err)
	}

	return q.RefreshRollups(ctx, repositoryID, days, paths)
}

func (q *Queries) refreshDay(ctx context.Context, repositoryID int64, day time.Time) error {
	from, to := q.ts(day), q.ts(day.AddDate(0, 0, 1))

	m := model.DailyMetric{RepositoryID: repositoryID, Day: day}
	err := q.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(lines_added), 0), COALESCE(SUM(lines_deleted), 0),
			COUNT(DISTINCT author_email)
		FROM commits WHERE repository_id = ? AND authored_at >= ? AND authored_at < ?`,
		repositoryID, from, to).Scan(&m.Commits, &m.LinesAdded, &m.LinesDeleted, &m.Contributors)
	if err != nil {
		return classify("database.RefreshRollups", err)
	}

	if m.Commits == 0 {
		_, err := q.exec(ctx, `DELETE FROM daily_metrics WHERE repository_id = ? AND day = ?`, repositoryID, q.day(day))
		return classify("database.RefreshRollups", err)
	}

	err = q.queryRow(ctx, `SELECT COUNT(DISTINCT f.file_path) FROM file_changes f
		JOIN commits c ON c.id = f.commit_id
		WHERE c.repository_id = ? AND c.authored_at >= ? AND c.authored_at < ?`,
		repositoryID, from, to).Scan(&m.FilesTouched)
	if err != nil {
		return classify("database.RefreshRollups", err)
	}

	var stmt string
	switch q.dialect {
	case MySQL:
		stmt = `INSERT INTO daily_metrics (repository_id, day, commits, lines_added, lines_deleted, contributors, files_touched)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE commits = VALUES(commits), lines_added = VALUES(lines_added),
				lines_deleted = VALUES(lines_deleted), contributors = VALUES(contributors), files_touched = VALUES(files_touched)`
	default:
		stmt = `INSERT INTO daily_metrics (repository_id, day, commits, lines_added, lines_deleted, contributors, files_touched)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (repository_id, day) DO UPDATE SET commits = excluded.commits, lines_added = excluded.lines_added,
				lines_deleted = excluded.lines_deleted, contributors = excluded.contributors, files_touched = excluded.files_touched`
	}
	_, err = q.exec(ctx, stmt, repositoryID, q.day(day), m.Commits, m.LinesAdded, m.LinesDeleted, m.Contributors, m.FilesTouched)
	return classify("database.RefreshRollups", err)
}

func (q *Queries) refreshHotspot(ctx context.Context, repositoryID int64, path string) error {
	h := model.FileHotspot{RepositoryID: repositoryID, Path: path}
	var last timestamp
	err := q.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(f.lines_added + f.lines_deleted), 0),
			COUNT(DISTINCT c.author_email), MAX(c.authored_at)
		FROM file_changes f JOIN commits c ON c.id = f.commit_id
		WHERE c.repository_id = ? AND f.file_path = ?`,
		repositoryID, path).Scan(&h.ChangeCount, &h.LinesChanged, &h.Contributors, &last)
	if err != nil {
		return classify("database.RefreshRollups", err)
	}

	if h.ChangeCount == 0 {
		_, err := q.exec(ctx, `DELETE FROM file_hotspots WHERE repository_id = ? AND file_path = ?`, repositoryID, path)
		return classify("database.RefreshRollups", err)
	}

	var stmt string
	switch q.dialect {
	case MySQL:
		stmt = `INSERT INTO file_hotspots (repository_id, file_path, change_count, lines_changed, contributors, last_changed)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE change_count = VALUES(change_count), lines_changed = VALUES(lines_changed),
				contributors = VALUES(contributors), last_changed = VALUES(last_changed)`
	default:
		stmt = `INSERT INTO file_hotspots (repository_id, file_path, change_count, lines_changed, contributors, last_changed)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (repository_id, file_path) DO UPDATE SET change_count = excluded.change_count,
				lines_changed = excluded.lines_changed, contributors = excluded.contributors, last_changed = excluded.last_changed`
	}
	_, err = q.exec(ctx, stmt, repositoryID, path, h.ChangeCount, h.LinesChanged, h.Contributors, q.ts(last.Time))
	return classify("database.RefreshRollups", err)
}

// ListDailyMetrics returns daily rollups on or after since, oldest first.
func (q *Queries) ListDailyMetrics(ctx context.Context, repositoryID int64, since time.Time) ([]model.DailyMetric, error) {
	rows, err := q.query(ctx, `SELECT repository_id, day, commits, lines_added, lines_deleted, contributors, files_touched
		FROM daily_metrics WHERE repository_id = ? AND day >= ? ORDER BY day`, repositoryID, q.day(since))
	if err != nil {
		return nil, classify("database.ListDailyMetrics", err)
	}
	defer rows.Close()

	var out []model.DailyMetric
	for rows.Next() {
		var m model.DailyMetric
		var day timestamp
		if err := rows.Scan(&m.RepositoryID, &day, &m.Commits, &m.LinesAdded, &m.LinesDeleted, &m.Contributors, &m.FilesTouched); err != nil {
			return nil, classify("database.ListDailyMetrics", err)
		}
		m.Day = Day(day.Time)
		out = append(out, m)
	}
	return out, classify("database.ListDailyMetrics", rows.Err())
}

// ListHotspots returns the most frequently changed files. A limit of 0 returns all.
func (q *Queries) ListHotspots(ctx context.Context, repositoryID int64, limit int) ([]model.FileHotspot, error) {
	stmt := `SELECT repository_id, file_path, change_count, lines_changed, contributors, last_changed
		FROM file_hotspots WHERE repository_id = ?
		ORDER BY change_count DESC, lines_changed DESC, file_path`
	args := []any{repositoryID}
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, classify("database.ListHotspots", err)
	}
	defer rows.Close()

	var out []model.FileHotspot
	for rows.Next() {
		var h model.FileHotspot
		var last timestamp
		if err := rows.Scan(&h.RepositoryID, &h.Path, &h.ChangeCount, &h.LinesChanged, &h.Contributors, &last); err != nil {
			return nil, classify("database.ListHotspots", err)
		}
		h.LastChanged = last.Time
		out = append(out, h)
	}
	return out, classify("database.ListHotspots", rows.Err())
}

func uniqueDays(ts []time.Time) []time.Time {
	seen := make(map[time.Time]bool, len(ts))
	var out []time.Time
	for _, t := range ts {
		d := Day(t)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func uniqueStrings(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
