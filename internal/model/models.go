// internal/model/models.go
package model

import (
	"strings"
	"time"
)

// ProviderKind names a remote version-control provider.
type ProviderKind string

const (
	ProviderGitHub    ProviderKind = "github"
	ProviderBitbucket ProviderKind = "bitbucket"
)

// ChangeKind describes how a commit touched a file.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// Repository is a registered remote repository and its sync watermark.
type Repository struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	URL        string       `json:"url"`
	Provider   ProviderKind `json:"provider"`
	Credential string       `json:"-"`
	// LastSync is the authored time of the newest ingested commit. Nil means full history.
	LastSync *time.Time `json:"last_sync"`
	// SyncedAt is when the last sync completed. Nil means the repository was never synced.
	SyncedAt  *time.Time `json:"synced_at"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}

// Synced reports whether at least one sync completed for the repository.
func (r Repository) Synced() bool {
	return r.SyncedAt != nil
}

// Commit is an immutable commit record. Hash is unique within its repository.
type Commit struct {
	ID             int64        `json:"id"`
	RepositoryID   int64        `json:"repository_id"`
	Hash           string       `json:"hash"`
	AuthorName     string       `json:"author_name"`
	AuthorEmail    string       `json:"author_email"`
	CommitterName  string       `json:"committer_name"`
	CommitterEmail string       `json:"committer_email"`
	Message        string       `json:"message"`
	AuthoredAt     time.Time    `json:"authored_at"`
	LinesAdded     int          `json:"lines_added"`
	LinesDeleted   int          `json:"lines_deleted"`
	FilesChanged   int          `json:"files_changed"`
	Files          []FileChange `json:"files,omitempty"`
}

// LinesChanged is the commit's churn.
func (c Commit) LinesChanged() int {
	return c.LinesAdded + c.LinesDeleted
}

// FileChange is one file touched by a commit.
type FileChange struct {
	ID           int64      `json:"id"`
	CommitID     int64      `json:"commit_id"`
	Path         string     `json:"file_path"`
	PreviousPath string     `json:"previous_path,omitempty"`
	LinesAdded   int        `json:"lines_added"`
	LinesDeleted int        `json:"lines_deleted"`
	Kind         ChangeKind `json:"change_kind"`
}

// LinesChanged is the file-level churn of the change.
func (f FileChange) LinesChanged() int {
	return f.LinesAdded + f.LinesDeleted
}

// DailyMetric is the per-day rollup of a repository's commits.
type DailyMetric struct {
	RepositoryID int64     `json:"repository_id"`
	Day          time.Time `json:"date"`
	Commits      int       `json:"commits"`
	LinesAdded   int       `json:"lines_added"`
	LinesDeleted int       `json:"lines_deleted"`
	Contributors int       `json:"active_contributors"`
	FilesTouched int       `json:"files_changed"`
}

// FileHotspot is the per-file rollup of a repository's changes.
type FileHotspot struct {
	RepositoryID int64     `json:"repository_id"`
	Path         string    `json:"file_path"`
	ChangeCount  int       `json:"change_count"`
	LinesChanged int       `json:"total_lines_changed"`
	Contributors int       `json:"unique_contributors"`
	LastChanged  time.Time `json:"last_changed"`
}

// NormalizeEmail is the contributor identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeTime converts t to the store's canonical UTC, second-precision form.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
