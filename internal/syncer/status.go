package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
)

// repoState is the process-wide sync state of one repository. Its mutex
// guards status and is the per-repository mutual-exclusion token.
type repoState struct {
	mu     sync.Mutex
	status model.SyncStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// tracker holds one repoState per repository id.
type tracker struct {
	states sync.Map // int64 -> *repoState
	now    func() time.Time
}

func (t *tracker) state(repoID int64) *repoState {
	v, _ := t.states.LoadOrStore(repoID, &repoState{
		status: model.SyncStatus{RepositoryID: repoID, State: model.SyncNotStarted},
	})
	return v.(*repoState)
}

// begin marks the repository running, or rejects the request if a sync is already in flight.
func (t *tracker) begin(repoID int64, full bool, cancel context.CancelFunc) (*repoState, error) {
	st := t.state(repoID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.status.State == model.SyncRunning {
		return nil, apperrors.New(apperrors.KindConcurrentSyncRejected, "syncer.Sync",
			fmt.Sprintf("a sync is already running for repository %d (run %s)", repoID, st.status.RunID))
	}

	started := t.now()
	st.status = model.SyncStatus{
		RepositoryID: repoID,
		RunID:        uuid.NewString(),
		State:        model.SyncRunning,
		Message:      "Queued",
		FullResync:   full,
		StartedAt:    &started,
	}
	st.cancel = cancel
	st.done = make(chan struct{})
	return st, nil
}

// progress records batch progress. The percentage never decreases and stays
// below 100 until the sync completes.
func (st *repoState) progress(percent, processed int, message string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if percent > 99 {
		percent = 99
	}
	if percent > st.status.Progress {
		st.status.Progress = percent
	}
	st.status.CommitsProcessed = processed
	st.status.Message = message
}

// finish moves the status to its terminal state and releases waiters.
func (st *repoState) finish(now time.Time, processed int, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.status.FinishedAt = &now
	st.status.CommitsProcessed = processed
	switch {
	case err == nil:
		st.status.State = model.SyncCompleted
		st.status.Progress = 100
		st.status.Message = fmt.Sprintf("Sync completed, %d new commits", processed)
		st.status.ErrorKind = ""
	case apperrors.KindOf(err) == apperrors.KindCanceled:
		st.status.State = model.SyncError
		st.status.ErrorKind = string(apperrors.KindCanceled)
		st.status.Message = "Sync canceled"
	default:
		st.status.State = model.SyncError
		st.status.ErrorKind = string(apperrors.KindOf(err))
		st.status.Message = err.Error()
	}
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	close(st.done)
}

func (st *repoState) snapshot() model.SyncStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// Status returns the in-flight or last sync status of a repository.
func (s *Syncer) Status(repoID int64) model.SyncStatus {
	v, ok := s.tracker.states.Load(repoID)
	if !ok {
		return model.SyncStatus{RepositoryID: repoID, State: model.SyncNotStarted}
	}
	return v.(*repoState).snapshot()
}

// Statuses returns the status of every repository seen by this process, ordered by id.
func (s *Syncer) Statuses() []model.SyncStatus {
	var out []model.SyncStatus
	s.tracker.states.Range(func(_, v any) bool {
		out = append(out, v.(*repoState).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RepositoryID < out[j].RepositoryID })
	return out
}

// Cancel asks a running sync to stop at the next batch boundary.
// It reports whether a sync was running.
func (s *Syncer) Cancel(repoID int64) bool {
	v, ok := s.tracker.states.Load(repoID)
	if !ok {
		return false
	}
	st := v.(*repoState)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status.State != model.SyncRunning || st.cancel == nil {
		return false
	}
	st.cancel()
	st.status.Message = "Cancel requested"
	return true
}
