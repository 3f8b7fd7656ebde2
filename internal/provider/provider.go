// Package provider normalizes remote version-control APIs into one
// commit and file-change fetch contract.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
)

// RepoRef identifies a repository on its provider.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// RepositoryInfo is the provider's metadata for a repository.
type RepositoryInfo struct {
	Name          string
	FullName      string
	Description   string
	Language      string
	DefaultBranch string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CommitHeader is a commit as returned by a provider listing, before diff stats are resolved.
type CommitHeader struct {
	Hash           string
	AuthorName     string
	AuthorEmail    string
	CommitterName  string
	CommitterEmail string
	Message        string
	AuthoredAt     time.Time
	// CommittedAt is the committer date, which moves when history is rebased.
	CommittedAt time.Time
}

// CommitTime is the committer date, or the author date when the provider has none.
func (h CommitHeader) CommitTime() time.Time {
	if h.CommittedAt.IsZero() {
		return h.AuthoredAt
	}
	return h.CommittedAt
}

// CommitDetail carries the diff statistics of a single commit.
type CommitDetail struct {
	LinesAdded   int
	LinesDeleted int
	Files        []model.FileChange
}

// ListOptions narrows a commit listing.
type ListOptions struct {
	Credential string
	// Since is inclusive and compared with the committer date. Nil lists the full history.
	Since *time.Time
	// Until pins the listing so concurrent pushes cannot shift pages.
	Until    time.Time
	PageSize int
	// Known reports which hashes are already stored. Providers that walk
	// history newest first stop at a page made only of known commits
	// instead of trusting dates.
	Known func(ctx context.Context, hashes []string) (map[string]bool, error)
}

// CommitPager yields commit headers in batches, oldest first.
// Next returns io.EOF once the listing is exhausted.
type CommitPager interface {
	Next(ctx context.Context) ([]CommitHeader, error)
	// Estimate is the known or estimated number of commits, or -1 when unknown.
	Estimate() int
}

// Provider is the capability set every remote VCS implementation offers.
type Provider interface {
	Kind() model.ProviderKind
	Describe(ctx context.Context, ref RepoRef, credential string) (RepositoryInfo, error)
	ListCommits(ctx context.Context, ref RepoRef, opts ListOptions) (CommitPager, error)
	FetchFileChanges(ctx context.Context, ref RepoRef, credential, hash string) (CommitDetail, error)
}

// Registry selects a Provider by the repository's stored provider kind.
type Registry map[model.ProviderKind]Provider

// NewRegistry indexes providers by kind.
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Kind()] = p
	}
	return r
}

// Get returns the provider for kind.
func (r Registry) Get(kind model.ProviderKind) (Provider, error) {
	p, ok := r[kind]
	if !ok {
		return nil, apperrors.New(apperrors.KindInvalidInput, "provider.Get", fmt.Sprintf("unsupported provider %q", kind))
	}
	return p, nil
}

// ParseRepoURL extracts owner and name from https and scp-style git URLs.
func ParseRepoURL(raw string) (RepoRef, error) {
	s := strings.TrimSpace(raw)
	var path string
	switch {
	case strings.HasPrefix(s, "git@"):
		idx := strings.Index(s, ":")
		if idx < 0 {
			return RepoRef{}, &apperrors.ErrInvalidRepoFormat{Repo: raw}
		}
		path = s[idx+1:]
	default:
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return RepoRef{}, &apperrors.ErrInvalidRepoFormat{Repo: raw}
		}
		path = u.Path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, &apperrors.ErrInvalidRepoFormat{Repo: raw}
	}
	return RepoRef{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}

// DetectKind guesses the provider from a repository URL host.
func DetectKind(raw string) (model.ProviderKind, bool) {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "github"):
		return model.ProviderGitHub, true
	case strings.Contains(s, "bitbucket"):
		return model.ProviderBitbucket, true
	}
	return "", false
}

// KindFromChangeStatus maps provider file statuses onto ChangeKind.
func KindFromChangeStatus(status string) model.ChangeKind {
	switch strings.ToLower(status) {
	case "added":
		return model.ChangeAdded
	case "removed", "deleted":
		return model.ChangeDeleted
	case "renamed":
		return model.ChangeRenamed
	default:
		return model.ChangeModified
	}
}
