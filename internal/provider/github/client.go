// internal/provider/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
	"git-metrics/internal/provider"
)

// Options configures a Client.
type Options struct {
	// Token is used when a repository carries no credential of its own.
	Token string
	// BaseURL points at a GitHub Enterprise instance; empty means api.github.com.
	BaseURL string
	Timeout time.Duration
	Retry   provider.RetryPolicy
}

// Client is a wrapper around the go-github client.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*github.Client
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates and configures a new Client instance.
// Authenticated http.Clients are created lazily, one per distinct credential.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = provider.DefaultRetryPolicy
	}
	return &Client{
		opts:    opts,
		logger:  logger.With("provider", model.ProviderGitHub),
		clients: make(map[string]*github.Client),
	}
}

// Kind implements provider.Provider.
func (c *Client) Kind() model.ProviderKind {
	return model.ProviderGitHub
}

func (c *Client) gh(credential string) (*github.Client, error) {
	token := credential
	if token == "" {
		token = c.opts.Token
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok := c.clients[token]; ok {
		return gc, nil
	}

	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = c.opts.Timeout

	gc := github.NewClient(hc)
	if c.opts.BaseURL != "" {
		var err error
		gc, err = gc.WithEnterpriseURLs(c.opts.BaseURL, c.opts.BaseURL)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInvalidInput, "github.client", err)
		}
	}
	c.clients[token] = gc
	return gc, nil
}

// Describe fetches repository details and validates that the credential can read it.
func (c *Client) Describe(ctx context.Context, ref provider.RepoRef, credential string) (provider.RepositoryInfo, error) {
	gc, err := c.gh(credential)
	if err != nil {
		return provider.RepositoryInfo{}, err
	}

	var repo *github.Repository
	err = c.opts.Retry.Do(ctx, c.logger, "github.Describe", func(ctx context.Context) error {
		r, _, err := gc.Repositories.Get(ctx, ref.Owner, ref.Name)
		if err != nil {
			return classify(ctx, "github.Describe", err)
		}
		repo = r
		return nil
	})
	if err != nil {
		return provider.RepositoryInfo{}, err
	}
	return toRepositoryInfo(repo), nil
}

// ListCommits returns a pager over the commits of ref, oldest first.
// The first page is fetched eagerly to learn how many pages exist.
func (c *Client) ListCommits(ctx context.Context, ref provider.RepoRef, opts provider.ListOptions) (provider.CommitPager, error) {
	gc, err := c.gh(opts.Credential)
	if err != nil {
		return nil, err
	}

	perPage := opts.PageSize
	if perPage <= 0 || perPage > 100 {
		perPage = 100 // Max per page
	}
	listOpts := github.CommitsListOptions{
		Until:       opts.Until,
		ListOptions: github.ListOptions{PerPage: perPage, Page: 1},
	}
	if opts.Since != nil {
		listOpts.Since = *opts.Since
	}

	p := &commitPager{client: c, gh: gc, ref: ref, opts: listOpts}
	first, resp, err := p.fetch(ctx, 1)
	if err != nil {
		if isEmptyRepository(err) {
			c.logger.Info("Repository has no commits", "repo", ref.String())
			p.done = true
			return p, nil
		}
		return nil, err
	}

	p.first = first
	p.next = resp.LastPage
	p.lastPage = resp.LastPage
	if resp.LastPage == 0 {
		// Single page listing.
		p.next = 1
		p.estimate = len(first)
	} else {
		p.estimate = resp.LastPage * perPage
	}
	return p, nil
}

// FetchFileChanges resolves the diff statistics of one commit, following file pagination.
func (c *Client) FetchFileChanges(ctx context.Context, ref provider.RepoRef, credential, hash string) (provider.CommitDetail, error) {
	gc, err := c.gh(credential)
	if err != nil {
		return provider.CommitDetail{}, err
	}

	// Commit totals are summed from the file rows so that per-file churn always
	// adds up to the commit. GitHub caps the file list of very large commits.
	var detail provider.CommitDetail
	var stats *github.CommitStats
	opts := &github.ListOptions{PerPage: 100}
	for {
		var rc *github.RepositoryCommit
		var resp *github.Response
		err := c.opts.Retry.Do(ctx, c.logger, "github.FetchFileChanges", func(ctx context.Context) error {
			var err error
			rc, resp, err = gc.Repositories.GetCommit(ctx, ref.Owner, ref.Name, hash, opts)
			return classify(ctx, "github.FetchFileChanges", err)
		})
		if err != nil {
			return provider.CommitDetail{}, err
		}

		if stats == nil {
			if rc.Stats == nil {
				return provider.CommitDetail{}, apperrors.New(apperrors.KindMalformedResponse, "github.FetchFileChanges", "commit "+hash+" has no stats")
			}
			stats = rc.Stats
		}
		for _, f := range rc.Files {
			fc := toFileChange(f)
			detail.Files = append(detail.Files, fc)
			detail.LinesAdded += fc.LinesAdded
			detail.LinesDeleted += fc.LinesDeleted
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if stats.GetAdditions() != detail.LinesAdded || stats.GetDeletions() != detail.LinesDeleted {
		c.logger.Warn("File list is truncated, commit totals cover listed files only",
			"repo", ref.String(), "hash", hash,
			"stats_added", stats.GetAdditions(), "files_added", detail.LinesAdded)
	}
	return detail, nil
}

type commitPager struct {
	client *Client
	gh     *github.Client
	ref    provider.RepoRef
	opts   github.CommitsListOptions

	first    []*github.RepositoryCommit
	next     int
	lastPage int
	estimate int
	done     bool
}

// Next reads pages from the last (oldest) to the first, reversing each one.
func (p *commitPager) Next(ctx context.Context) ([]provider.CommitHeader, error) {
	if p.done || p.next < 1 {
		return nil, io.EOF
	}

	page := p.next
	var commits []*github.RepositoryCommit
	if page == 1 {
		commits = p.first
	} else {
		var err error
		commits, _, err = p.fetch(ctx, page)
		if err != nil {
			return nil, err
		}
		if page == p.lastPage {
			// The last page is the only short one; refine the estimate.
			p.estimate = (page-1)*p.opts.PerPage + len(commits)
		}
	}
	p.next--
	if p.next < 1 {
		p.done = true
	}

	headers := make([]provider.CommitHeader, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		headers = append(headers, toCommitHeader(commits[i]))
	}
	return headers, nil
}

// Estimate implements provider.CommitPager.
func (p *commitPager) Estimate() int {
	return p.estimate
}

func (p *commitPager) fetch(ctx context.Context, page int) ([]*github.RepositoryCommit, *github.Response, error) {
	opts := p.opts
	opts.Page = page

	var commits []*github.RepositoryCommit
	var resp *github.Response
	err := p.client.opts.Retry.Do(ctx, p.client.logger, "github.ListCommits", func(ctx context.Context) error {
		p.client.logger.Debug("Fetching commits page", "repo", p.ref.String(), "page", page)
		var err error
		commits, resp, err = p.gh.Repositories.ListCommits(ctx, p.ref.Owner, p.ref.Name, &opts)
		return classify(ctx, "github.ListCommits", err)
	})
	return commits, resp, err
}

// classify maps go-github errors onto error kinds.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case errors.As(err, &rateErr):
		return &provider.RetryAfterError{
			Err:   &apperrors.Error{Kind: apperrors.KindRateLimited, Op: op, Err: err},
			After: time.Until(rateErr.Rate.Reset.Time),
		}
	case errors.As(err, &abuseErr):
		return &provider.RetryAfterError{
			Err:   &apperrors.Error{Kind: apperrors.KindRateLimited, Op: op, Err: err},
			After: abuseErr.GetRetryAfter(),
		}
	case errors.As(err, &respErr):
		return apperrors.Wrap(kindForStatus(respErr.Response.StatusCode), op, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return apperrors.Wrap(apperrors.KindMalformedResponse, op, err)
	default:
		return provider.ClassifyTransportError(ctx, op, err)
	}
}

func kindForStatus(status int) apperrors.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.KindAuthenticationFailed
	case status == http.StatusNotFound:
		return apperrors.KindNotFound
	case status == http.StatusTooManyRequests:
		return apperrors.KindRateLimited
	case status >= 500:
		return apperrors.KindNetworkError
	case status == http.StatusConflict:
		// GitHub answers 409 when listing commits of an empty repository.
		return apperrors.KindNotFound
	default:
		return apperrors.KindMalformedResponse
	}
}

func isEmptyRepository(err error) bool {
	var respErr *github.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusConflict
}

// toRepositoryInfo translates a github.Repository object to provider metadata.
func toRepositoryInfo(r *github.Repository) provider.RepositoryInfo {
	return provider.RepositoryInfo{
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		Language:      r.GetLanguage(),
		DefaultBranch: r.GetDefaultBranch(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
	}
}

// toCommitHeader translates a github.RepositoryCommit object to a provider header.
func toCommitHeader(c *github.RepositoryCommit) provider.CommitHeader {
	return provider.CommitHeader{
		Hash:           c.GetSHA(),
		AuthorName:     c.GetCommit().GetAuthor().GetName(),
		AuthorEmail:    c.GetCommit().GetAuthor().GetEmail(),
		CommitterName:  c.GetCommit().GetCommitter().GetName(),
		CommitterEmail: c.GetCommit().GetCommitter().GetEmail(),
		Message:        c.GetCommit().GetMessage(),
		AuthoredAt:     c.GetCommit().GetAuthor().GetDate().Time,
		CommittedAt:    c.GetCommit().GetCommitter().GetDate().Time,
	}
}

func toFileChange(f *github.CommitFile) model.FileChange {
	return model.FileChange{
		Path:         f.GetFilename(),
		PreviousPath: f.GetPreviousFilename(),
		LinesAdded:   f.GetAdditions(),
		LinesDeleted: f.GetDeletions(),
		Kind:         provider.KindFromChangeStatus(f.GetStatus()),
	}
}
