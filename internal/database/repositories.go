package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
)

const repositoryColumns = `id, name, url, provider, credential, last_sync, synced_at, is_active, created_at`

// CreateRepositoryParams holds the registration fields of a repository.
type CreateRepositoryParams struct {
	Name       string
	URL        string
	Provider   model.ProviderKind
	Credential string
}

// CreateRepository inserts a repository, or reactivates and updates the one
// already registered under the same URL. The watermark is left untouched.
func (q *Queries) CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error) {
	var stmt string
	switch q.dialect {
	case MySQL:
		stmt = `INSERT INTO repositories (name, url, provider, credential, is_active, created_at)
			VALUES (?, ?, ?, ?, TRUE, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), provider = VALUES(provider),
				credential = VALUES(credential), is_active = TRUE`
	default:
		stmt = `INSERT INTO repositories (name, url, provider, credential, is_active, created_at)
			VALUES (?, ?, ?, ?, TRUE, ?)
			ON CONFLICT (url) DO UPDATE SET name = excluded.name, provider = excluded.provider,
				credential = excluded.credential, is_active = TRUE`
	}
	if _, err := q.exec(ctx, stmt, arg.Name, arg.URL, string(arg.Provider), arg.Credential, q.ts(time.Now())); err != nil {
		return model.Repository{}, classify("database.CreateRepository", err)
	}
	return q.GetRepositoryByURL(ctx, arg.URL)
}

// GetRepository returns the repository with id, or a NotFound error.
func (q *Queries) GetRepository(ctx context.Context, id int64) (model.Repository, error) {
	row := q.queryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	r, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Repository{}, apperrors.New(apperrors.KindNotFound, "database.GetRepository", fmt.Sprintf("repository %d not found", id))
	}
	if err != nil {
		return model.Repository{}, classify("database.GetRepository", err)
	}
	return r, nil
}

// GetRepositoryByURL returns the repository registered under url, or a NotFound error.
func (q *Queries) GetRepositoryByURL(ctx context.Context, url string) (model.Repository, error) {
	row := q.queryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE url = ?`, url)
	r, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Repository{}, apperrors.New(apperrors.KindNotFound, "database.GetRepositoryByURL", fmt.Sprintf("repository %q not found", url))
	}
	if err != nil {
		return model.Repository{}, classify("database.GetRepositoryByURL", err)
	}
	return r, nil
}

// ListRepositories returns repositories ordered by id.
func (q *Queries) ListRepositories(ctx context.Context, activeOnly bool) ([]model.Repository, error) {
	stmt := `SELECT ` + repositoryColumns + ` FROM repositories`
	if activeOnly {
		stmt += ` WHERE is_active = TRUE`
	}
	stmt += ` ORDER BY id`

	rows, err := q.query(ctx, stmt)
	if err != nil {
		return nil, classify("database.ListRepositories", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, classify("database.ListRepositories", err)
		}
		repos = append(repos, r)
	}
	return repos, classify("database.ListRepositories", rows.Err())
}

// DeactivateRepository excludes a repository from scheduled syncs and cross-repository views.
func (q *Queries) DeactivateRepository(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `UPDATE repositories SET is_active = FALSE WHERE id = ?`, id)
	return q.expectRow(ctx, "database.DeactivateRepository", id, res, err)
}

// DeleteRepository removes a repository and, by cascade, all its commits, changes and rollups.
func (q *Queries) DeleteRepository(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	return q.expectRow(ctx, "database.DeleteRepository", id, res, err)
}

// AdvanceWatermark moves last_sync forward. An older watermark is ignored so it never regresses.
func (q *Queries) AdvanceWatermark(ctx context.Context, id int64, watermark time.Time) error {
	w := q.ts(watermark)
	_, err := q.exec(ctx, `UPDATE repositories SET last_sync = ?
		WHERE id = ? AND (last_sync IS NULL OR last_sync < ?)`, w, id, w)
	return classify("database.AdvanceWatermark", err)
}

// ResetWatermark clears last_sync ahead of a full resync.
func (q *Queries) ResetWatermark(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `UPDATE repositories SET last_sync = NULL WHERE id = ?`, id)
	return q.expectRow(ctx, "database.ResetWatermark", id, res, err)
}

// MarkSynced records the completion time of a sync.
func (q *Queries) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	res, err := q.exec(ctx, `UPDATE repositories SET synced_at = ? WHERE id = ?`, q.ts(at), id)
	return q.expectRow(ctx, "database.MarkSynced", id, res, err)
}

func (q *Queries) expectRow(ctx context.Context, op string, id int64, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 && q.dialect != MySQL {
		return apperrors.New(apperrors.KindNotFound, op, fmt.Sprintf("repository %d not found", id))
	}
	if n == 0 {
		// MySQL reports 0 affected rows when the values did not change.
		if _, err := q.GetRepository(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (model.Repository, error) {
	var r model.Repository
	var provider string
	var lastSync, syncedAt, createdAt timestamp
	if err := s.Scan(&r.ID, &r.Name, &r.URL, &provider, &r.Credential, &lastSync, &syncedAt, &r.IsActive, &createdAt); err != nil {
		return model.Repository{}, err
	}
	r.Provider = model.ProviderKind(provider)
	r.LastSync = lastSync.ptr()
	r.SyncedAt = syncedAt.ptr()
	r.CreatedAt = createdAt.Time
	return r, nil
}
