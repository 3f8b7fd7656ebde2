package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"git-metrics/internal/database"
	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
	"git-metrics/internal/provider"
)

// syncRepo runs one ingestion pass: every provider batch that holds commits
// not yet stored is resolved and persisted in its own transaction. The
// watermark is the newest committer date ingested; listing starts Lookback
// below it and stored hashes are skipped.
func (s *Syncer) syncRepo(ctx context.Context, logger *slog.Logger, repo model.Repository, full bool, st *repoState, result Result) (Result, error) {
	prov, err := s.providers.Get(repo.Provider)
	if err != nil {
		return result, err
	}
	ref, err := provider.ParseRepoURL(repo.URL)
	if err != nil {
		return result, err
	}

	if full {
		if err := s.store.ResetWatermark(ctx, repo.ID); err != nil {
			return result, err
		}
		repo.LastSync = nil
		logger.Info("Watermark reset for full resync")
	}
	result.Watermark = repo.LastSync
	var since *time.Time
	if repo.LastSync != nil {
		from := repo.LastSync.Add(-s.opts.Lookback)
		since = &from
		logger.Info("Fetching commits since", "timestamp", since.Format(time.RFC3339), "watermark", repo.LastSync.Format(time.RFC3339))
	} else {
		logger.Info("Fetching full commit history")
	}

	pager, err := prov.ListCommits(ctx, ref, provider.ListOptions{
		Credential: repo.Credential,
		Since:      since,
		Until:      s.opts.Now(),
		PageSize:   s.opts.PageSize,
		Known: func(ctx context.Context, hashes []string) (map[string]bool, error) {
			return s.store.ExistingHashes(ctx, repo.ID, hashes)
		},
	})
	if err != nil {
		return result, err
	}

	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return result, apperrors.Wrap(apperrors.KindCanceled, "syncer.Sync", err)
		}

		headers, err := pager.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, err
		}
		seen += len(headers)

		fresh, err := s.freshHeaders(ctx, repo.ID, headers)
		if err != nil {
			return result, err
		}
		if s.opts.MaxCommits > 0 && result.Ingested+len(fresh) >= s.opts.MaxCommits {
			fresh = fresh[:s.opts.MaxCommits-result.Ingested]
			result.Capped = true
		}

		commits, resolveErr := s.resolve(ctx, prov, ref, repo, fresh)
		if resolveErr != nil && (errors.Is(resolveErr, apperrors.ErrCanceled) || ctx.Err() != nil) {
			// A canceled batch is dropped whole; the next run lists it again.
			return result, resolveErr
		}
		if len(commits) > 0 {
			// A resolved prefix is committed even when a later commit fails, so a
			// retry resumes after it.
			watermark, err := s.persistBatch(context.WithoutCancel(ctx), repo.ID, commits, batchWatermark(fresh[:len(commits)]))
			if err != nil {
				return result, err
			}
			result.Ingested += len(commits)
			if result.Watermark == nil || watermark.After(*result.Watermark) {
				result.Watermark = &watermark
			}
			logger.Debug("Batch persisted", "commits", len(commits), "watermark", watermark.Format(time.RFC3339))
		}
		if resolveErr != nil {
			return result, resolveErr
		}

		st.progress(percent(seen, pager.Estimate()), result.Ingested, progressMessage(seen, pager.Estimate(), result.Ingested))
		if result.Capped {
			logger.Info("Commit cap reached, remaining history is left for the next run", "max_commits", s.opts.MaxCommits)
			break
		}
	}

	if full {
		if err := s.store.RebuildRollups(ctx, repo.ID); err != nil {
			return result, err
		}
	}
	if err := s.store.MarkSynced(ctx, repo.ID, s.opts.Now()); err != nil {
		return result, err
	}
	return result, nil
}

// freshHeaders drops hashes already stored. Dates are not consulted: a
// rebased or merged commit may be authored long before the watermark.
func (s *Syncer) freshHeaders(ctx context.Context, repoID int64, headers []provider.CommitHeader) ([]provider.CommitHeader, error) {
	hashes := make([]string, 0, len(headers))
	for _, h := range headers {
		hashes = append(hashes, h.Hash)
	}
	existing, err := s.store.ExistingHashes(ctx, repoID, hashes)
	if err != nil {
		return nil, err
	}

	fresh := make([]provider.CommitHeader, 0, len(headers))
	for _, h := range headers {
		if !existing[h.Hash] {
			fresh = append(fresh, h)
			existing[h.Hash] = true
		}
	}
	return fresh, nil
}

// resolve fetches the file changes of each commit. On failure it returns the
// commits resolved so far together with the error.
func (s *Syncer) resolve(ctx context.Context, prov provider.Provider, ref provider.RepoRef, repo model.Repository, headers []provider.CommitHeader) ([]model.Commit, error) {
	commits := make([]model.Commit, 0, len(headers))
	for _, h := range headers {
		if err := ctx.Err(); err != nil {
			return commits, apperrors.Wrap(apperrors.KindCanceled, "syncer.Sync", err)
		}
		detail, err := prov.FetchFileChanges(ctx, ref, repo.Credential, h.Hash)
		if err != nil {
			return commits, fmt.Errorf("failed to resolve commit %s: %w", h.Hash, err)
		}
		commits = append(commits, model.Commit{
			RepositoryID:   repo.ID,
			Hash:           h.Hash,
			AuthorName:     h.AuthorName,
			AuthorEmail:    model.NormalizeEmail(h.AuthorEmail),
			CommitterName:  h.CommitterName,
			CommitterEmail: model.NormalizeEmail(h.CommitterEmail),
			Message:        h.Message,
			AuthoredAt:     model.NormalizeTime(h.AuthoredAt),
			LinesAdded:     detail.LinesAdded,
			LinesDeleted:   detail.LinesDeleted,
			FilesChanged:   len(detail.Files),
			Files:          detail.Files,
		})
	}
	return commits, nil
}

// batchWatermark is the newest committer date of a batch.
func batchWatermark(headers []provider.CommitHeader) time.Time {
	var watermark time.Time
	for _, h := range headers {
		if t := model.NormalizeTime(h.CommitTime()); t.After(watermark) {
			watermark = t
		}
	}
	return watermark
}

// persistBatch writes a batch atomically: commits, file changes, the rollup
// keys they touch and the advanced watermark. It returns the watermark.
func (s *Syncer) persistBatch(ctx context.Context, repoID int64, commits []model.Commit, watermark time.Time) (time.Time, error) {
	err := s.store.WithTx(ctx, func(q database.Querier) error {
		var days []time.Time
		var paths []string
		for _, c := range commits {
			id, inserted, err := q.InsertCommit(ctx, c)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			if err := q.InsertFileChanges(ctx, id, c.Files); err != nil {
				return err
			}
			days = append(days, c.AuthoredAt)
			for _, f := range c.Files {
				paths = append(paths, f.Path)
			}
		}
		if err := q.RefreshRollups(ctx, repoID, days, paths); err != nil {
			return err
		}
		return q.AdvanceWatermark(ctx, repoID, watermark)
	})
	return watermark, err
}

func percent(seen, estimate int) int {
	if estimate <= 0 {
		return 0
	}
	return seen * 100 / estimate
}

func progressMessage(seen, estimate, ingested int) string {
	if estimate > 0 {
		return fmt.Sprintf("Processed %d of ~%d commits, %d new", seen, estimate, ingested)
	}
	return fmt.Sprintf("Processed %d commits, %d new", seen, ingested)
}
