// Package export writes a repository's stored commits and rollups to Parquet
// files using github.com/parquet-go/parquet-go.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"git-metrics/internal/database"
	"git-metrics/internal/model"
)

// CommitRow is one commit in the commits export.
type CommitRow struct {
	RepositoryID   int64     `parquet:"repository_id,snappy"`
	Hash           string    `parquet:"hash,snappy"`
	AuthorName     string    `parquet:"author_name,snappy"`
	AuthorEmail    string    `parquet:"author_email,snappy"`
	CommitterEmail string    `parquet:"committer_email,snappy"`
	Message        string    `parquet:"message,snappy"`
	AuthoredAt     time.Time `parquet:"authored_at,snappy"`
	LinesAdded     int32     `parquet:"lines_added,snappy"`
	LinesDeleted   int32     `parquet:"lines_deleted,snappy"`
	FilesChanged   int32     `parquet:"files_changed,snappy"`
}

// DailyRow is one per-day rollup.
type DailyRow struct {
	RepositoryID int64     `parquet:"repository_id,snappy"`
	Day          time.Time `parquet:"day,snappy"`
	Commits      int32     `parquet:"commits,snappy"`
	LinesAdded   int32     `parquet:"lines_added,snappy"`
	LinesDeleted int32     `parquet:"lines_deleted,snappy"`
	Contributors int32     `parquet:"active_contributors,snappy"`
	FilesTouched int32     `parquet:"files_changed,snappy"`
}

// HotspotRow is one per-file rollup.
type HotspotRow struct {
	RepositoryID int64     `parquet:"repository_id,snappy"`
	FilePath     string    `parquet:"file_path,snappy"`
	ChangeCount  int32     `parquet:"change_count,snappy"`
	LinesChanged int32     `parquet:"total_lines_changed,snappy"`
	Contributors int32     `parquet:"unique_contributors,snappy"`
	LastChanged  time.Time `parquet:"last_changed,snappy"`
}

// Source is the slice of the store an export reads.
type Source interface {
	GetRepository(ctx context.Context, id int64) (model.Repository, error)
	ListCommits(ctx context.Context, f database.CommitFilter) ([]model.Commit, error)
	ListDailyMetrics(ctx context.Context, repositoryID int64, since time.Time) ([]model.DailyMetric, error)
	ListHotspots(ctx context.Context, repositoryID int64, limit int) ([]model.FileHotspot, error)
}

// Result lists the files written by Repository.
type Result struct {
	Commits  string
	Daily    string
	Hotspots string
}

// Repository exports one repository into dir as commits.parquet, daily.parquet and hotspots.parquet.
func Repository(ctx context.Context, src Source, repositoryID int64, dir string) (Result, error) {
	if _, err := src.GetRepository(ctx, repositoryID); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create export directory: %w", err)
	}

	commits, err := src.ListCommits(ctx, database.CommitFilter{RepositoryIDs: []int64{repositoryID}})
	if err != nil {
		return Result{}, err
	}
	daily, err := src.ListDailyMetrics(ctx, repositoryID, time.Unix(0, 0))
	if err != nil {
		return Result{}, err
	}
	hotspots, err := src.ListHotspots(ctx, repositoryID, 0)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Commits:  filepath.Join(dir, "commits.parquet"),
		Daily:    filepath.Join(dir, "daily.parquet"),
		Hotspots: filepath.Join(dir, "hotspots.parquet"),
	}
	if err := write(res.Commits, ConvertCommits(commits)); err != nil {
		return Result{}, err
	}
	if err := write(res.Daily, ConvertDailyMetrics(daily)); err != nil {
		return Result{}, err
	}
	if err := write(res.Hotspots, ConvertHotspots(hotspots)); err != nil {
		return Result{}, err
	}
	return res, nil
}

func write[T any](outputPath string, rows []T) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// ConvertCommits maps stored commits onto export rows.
func ConvertCommits(commits []model.Commit) []CommitRow {
	rows := make([]CommitRow, len(commits))
	for i, c := range commits {
		rows[i] = CommitRow{
			RepositoryID:   c.RepositoryID,
			Hash:           c.Hash,
			AuthorName:     c.AuthorName,
			AuthorEmail:    c.AuthorEmail,
			CommitterEmail: c.CommitterEmail,
			Message:        c.Message,
			AuthoredAt:     c.AuthoredAt,
			LinesAdded:     int32(c.LinesAdded),
			LinesDeleted:   int32(c.LinesDeleted),
			FilesChanged:   int32(c.FilesChanged),
		}
	}
	return rows
}

// ConvertDailyMetrics maps daily rollups onto export rows.
func ConvertDailyMetrics(metrics []model.DailyMetric) []DailyRow {
	rows := make([]DailyRow, len(metrics))
	for i, m := range metrics {
		rows[i] = DailyRow{
			RepositoryID: m.RepositoryID,
			Day:          m.Day,
			Commits:      int32(m.Commits),
			LinesAdded:   int32(m.LinesAdded),
			LinesDeleted: int32(m.LinesDeleted),
			Contributors: int32(m.Contributors),
			FilesTouched: int32(m.FilesTouched),
		}
	}
	return rows
}

// ConvertHotspots maps file rollups onto export rows.
func ConvertHotspots(hotspots []model.FileHotspot) []HotspotRow {
	rows := make([]HotspotRow, len(hotspots))
	for i, h := range hotspots {
		rows[i] = HotspotRow{
			RepositoryID: h.RepositoryID,
			FilePath:     h.Path,
			ChangeCount:  int32(h.ChangeCount),
			LinesChanged: int32(h.LinesChanged),
			Contributors: int32(h.Contributors),
			LastChanged:  h.LastChanged,
		}
	}
	return rows
}
