package model

import "time"

// SyncState is the lifecycle state of a repository sync attempt.
type SyncState string

const (
	SyncNotStarted SyncState = "not_started"
	SyncRunning    SyncState = "running"
	SyncCompleted  SyncState = "completed"
	SyncError      SyncState = "error"
)

// Terminal reports whether no sync is in flight in this state.
func (s SyncState) Terminal() bool {
	return s != SyncRunning
}

// SyncStatus describes the in-flight or last sync attempt of one repository.
type SyncStatus struct {
	RepositoryID     int64      `json:"repository_id"`
	RunID            string     `json:"run_id,omitempty"`
	State            SyncState  `json:"status"`
	Progress         int        `json:"progress"`
	Message          string     `json:"message,omitempty"`
	CommitsProcessed int        `json:"commits_processed"`
	FullResync       bool       `json:"full_resync"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}
