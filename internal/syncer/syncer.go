// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"git-metrics/internal/database"
	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
	"git-metrics/internal/provider"
)

// Store is the part of the commit store the syncer writes through.
type Store interface {
	database.Querier
	WithTx(ctx context.Context, fn func(q database.Querier) error) error
}

// Options tunes the sync engine.
type Options struct {
	// Interval between scheduled sync cycles. Zero disables the scheduler.
	Interval time.Duration
	// Concurrency bounds syncs running at once across all repositories.
	Concurrency int
	// PageSize is the number of commits requested per provider page.
	PageSize int
	// MaxCommits caps the commits ingested by one run. Zero means no cap.
	MaxCommits int
	// Lookback widens the listing window below the watermark so that merged
	// branches, whose commit dates predate it, are still listed.
	Lookback time.Duration
	Now      func() time.Time
}

// Result summarises one finished sync run.
type Result struct {
	RepositoryID int64      `json:"repository_id"`
	RunID        string     `json:"run_id"`
	Ingested     int        `json:"commits_ingested"`
	Watermark    *time.Time `json:"last_sync"`
	FullResync   bool       `json:"full_resync"`
	Capped       bool       `json:"capped"`
}

// Syncer orchestrates the fetching and storing of data.
type Syncer struct {
	store     Store
	providers provider.Registry
	logger    *slog.Logger
	opts      Options
	sem       *semaphore.Weighted
	tracker   tracker
	wg        sync.WaitGroup
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(store Store, providers provider.Registry, logger *slog.Logger, opts Options) *Syncer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PageSize < 1 || opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.Lookback < 0 {
		opts.Lookback = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		store:     store,
		providers: providers,
		logger:    logger.With("component", "syncer"),
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
		tracker:   tracker{now: opts.Now},
	}
}

// Start begins the continuous synchronization process.
func (s *Syncer) Start(ctx context.Context) {
	if s.opts.Interval <= 0 {
		s.logger.Info("Scheduled sync disabled")
		return
	}
	s.logger.Info("Starting syncer", "interval", s.opts.Interval.String(), "concurrency", s.opts.Concurrency)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSyncCycle performs an incremental sync of every active repository concurrently.
func (s *Syncer) runSyncCycle(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")
	repos, err := s.store.ListRepositories(ctx, true)
	if err != nil {
		s.logger.Error("Failed to list repositories", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for _, repo := range repos {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			_, err := s.SyncNow(gctx, repo.ID, false)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrConcurrentSyncRejected):
				s.logger.Info("Skipping repository, sync already running", "repo_id", repo.ID)
			case errors.Is(err, apperrors.ErrCanceled), errors.Is(err, context.Canceled):
			default:
				s.logger.Error("Failed to sync repository", "repo_id", repo.ID, "url", repo.URL, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Sync cycle finished with an error", "error", err)
	} else {
		s.logger.Info("Sync cycle finished", "repositories", len(repos))
	}
}

// Sync starts a background sync of one repository and returns once it is accepted.
// Progress is reported through Status.
func (s *Syncer) Sync(ctx context.Context, repoID int64, fullResync bool) error {
	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st, err := s.tracker.begin(repoID, fullResync, cancel)
	if err != nil {
		cancel()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(runCtx, repo, fullResync, st)
	}()
	return nil
}

// SyncNow runs a sync of one repository and blocks until it finishes.
func (s *Syncer) SyncNow(ctx context.Context, repoID int64, fullResync bool) (Result, error) {
	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		return Result{}, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st, err := s.tracker.begin(repoID, fullResync, cancel)
	if err != nil {
		return Result{}, err
	}
	return s.execute(runCtx, repo, fullResync, st)
}

// Wait blocks until all background syncs have finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// CancelAll asks every running sync to stop.
func (s *Syncer) CancelAll() {
	s.tracker.states.Range(func(k, _ any) bool {
		s.Cancel(k.(int64))
		return true
	})
}

func (s *Syncer) execute(ctx context.Context, repo model.Repository, full bool, st *repoState) (Result, error) {
	snap := st.snapshot()
	logger := s.logger.With("repo_id", repo.ID, "run_id", snap.RunID)
	result := Result{RepositoryID: repo.ID, RunID: snap.RunID, FullResync: full}

	st.progress(0, 0, "Waiting for a sync worker")
	if err := s.sem.Acquire(ctx, 1); err != nil {
		err = apperrors.Wrap(apperrors.KindCanceled, "syncer.Sync", err)
		st.finish(s.opts.Now(), 0, err)
		return result, err
	}
	defer s.sem.Release(1)

	logger.Info("Syncing repository", "url", repo.URL, "full_resync", full)
	start := time.Now()
	result, err := s.syncRepo(ctx, logger, repo, full, st, result)
	st.finish(s.opts.Now(), result.Ingested, err)

	if err != nil {
		logger.Error("Sync failed", "error", err, "kind", apperrors.KindOf(err), "ingested", result.Ingested)
		return result, err
	}
	logger.Info("Sync completed", "ingested", result.Ingested, "duration", time.Since(start).String())
	return result, nil
}

// RegisterParams describes a repository to register.
type RegisterParams struct {
	URL string
	// Name defaults to the provider's full name.
	Name string
	// Provider is detected from the URL when empty.
	Provider   model.ProviderKind
	Credential string
}

// Register validates access through the provider and stores the repository.
func (s *Syncer) Register(ctx context.Context, p RegisterParams) (model.Repository, error) {
	ref, err := provider.ParseRepoURL(p.URL)
	if err != nil {
		return model.Repository{}, err
	}
	kind := p.Provider
	if kind == "" {
		detected, ok := provider.DetectKind(p.URL)
		if !ok {
			return model.Repository{}, apperrors.New(apperrors.KindInvalidInput, "syncer.Register",
				fmt.Sprintf("cannot detect provider for %q, pass it explicitly", p.URL))
		}
		kind = detected
	}
	prov, err := s.providers.Get(kind)
	if err != nil {
		return model.Repository{}, err
	}

	info, err := prov.Describe(ctx, ref, p.Credential)
	if err != nil {
		return model.Repository{}, err
	}

	name := p.Name
	if name == "" {
		name = info.FullName
	}
	if name == "" {
		name = ref.String()
	}
	repo, err := s.store.CreateRepository(ctx, database.CreateRepositoryParams{
		Name:       name,
		URL:        p.URL,
		Provider:   kind,
		Credential: p.Credential,
	})
	if err != nil {
		return model.Repository{}, err
	}
	s.logger.Info("Repository registered", "repo_id", repo.ID, "url", repo.URL, "provider", kind)
	return repo, nil
}

// Deactivate stops any running sync and excludes the repository from scheduled cycles.
func (s *Syncer) Deactivate(ctx context.Context, repoID int64) error {
	s.cancelAndWait(ctx, repoID)
	return s.store.DeactivateRepository(ctx, repoID)
}

// Delete stops any running sync and removes the repository with all its data.
func (s *Syncer) Delete(ctx context.Context, repoID int64) error {
	s.cancelAndWait(ctx, repoID)
	if err := s.store.DeleteRepository(ctx, repoID); err != nil {
		return err
	}
	s.tracker.states.Delete(repoID)
	s.logger.Info("Repository deleted", "repo_id", repoID)
	return nil
}

func (s *Syncer) cancelAndWait(ctx context.Context, repoID int64) {
	v, ok := s.tracker.states.Load(repoID)
	if !ok {
		return
	}
	st := v.(*repoState)
	st.mu.Lock()
	done := st.done
	running := st.status.State == model.SyncRunning
	st.mu.Unlock()
	if !running {
		return
	}
	s.Cancel(repoID)
	select {
	case <-done:
	case <-ctx.Done():
	}
}
