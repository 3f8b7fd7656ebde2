// Package bitbucket implements the provider contract against the Bitbucket Cloud REST 2.0 API.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/model"
	"git-metrics/internal/provider"
)

// DefaultBaseURL is the Bitbucket Cloud API root.
const DefaultBaseURL = "https://api.bitbucket.org/2.0"

// Options configures a Client.
type Options struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	Retry   provider.RetryPolicy
}

// Client talks to Bitbucket Cloud with bearer-token auth.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates and configures a new Client instance.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = provider.DefaultRetryPolicy
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger.With("provider", model.ProviderBitbucket),
	}
}

// Kind implements provider.Provider.
func (c *Client) Kind() model.ProviderKind {
	return model.ProviderBitbucket
}

type repository struct {
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	MainBranch  *struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

type commit struct {
	Hash    string    `json:"hash"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
	Author  struct {
		Raw  string `json:"raw"`
		User *struct {
			DisplayName string `json:"display_name"`
		} `json:"user"`
	} `json:"author"`
}

type commitPage struct {
	Values []commit `json:"values"`
	Next   string   `json:"next"`
}

type diffstat struct {
	Status       string `json:"status"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Old          *struct {
		Path string `json:"path"`
	} `json:"old"`
	New *struct {
		Path string `json:"path"`
	} `json:"new"`
}

type diffstatPage struct {
	Values []diffstat `json:"values"`
	Next   string     `json:"next"`
}

// Describe fetches repository details and validates that the credential can read it.
func (c *Client) Describe(ctx context.Context, ref provider.RepoRef, credential string) (provider.RepositoryInfo, error) {
	var repo repository
	if err := c.getJSON(ctx, "bitbucket.Describe", c.repoURL(ref), credential, &repo); err != nil {
		return provider.RepositoryInfo{}, err
	}
	info := provider.RepositoryInfo{
		Name:        repo.Name,
		FullName:    repo.FullName,
		Description: repo.Description,
		Language:    repo.Language,
		CreatedAt:   repo.CreatedOn,
		UpdatedAt:   repo.UpdatedOn,
	}
	if repo.MainBranch != nil {
		info.DefaultBranch = repo.MainBranch.Name
	}
	return info, nil
}

// ListCommits returns a pager over the commits of ref, oldest first.
// Bitbucket only lists newest first, so the pager walks the cursor until it
// reaches a page made only of known commits and then replays the collected
// window in reverse. Merged branches carry older dates, so the date cutoff on
// opts.Since only applies when no Known lookup is given.
func (c *Client) ListCommits(ctx context.Context, ref provider.RepoRef, opts provider.ListOptions) (provider.CommitPager, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &commitPager{client: c, ref: ref, opts: opts, pageSize: pageSize, estimate: -1}, nil
}

// FetchFileChanges resolves the diffstat of one commit, following pagination.
func (c *Client) FetchFileChanges(ctx context.Context, ref provider.RepoRef, credential, hash string) (provider.CommitDetail, error) {
	var detail provider.CommitDetail
	next := c.repoURL(ref) + "/diffstat/" + url.PathEscape(hash) + "?pagelen=100"
	for next != "" {
		var page diffstatPage
		if err := c.getJSON(ctx, "bitbucket.FetchFileChanges", next, credential, &page); err != nil {
			return provider.CommitDetail{}, err
		}
		for _, d := range page.Values {
			fc, err := toFileChange(d)
			if err != nil {
				return provider.CommitDetail{}, err
			}
			detail.LinesAdded += fc.LinesAdded
			detail.LinesDeleted += fc.LinesDeleted
			detail.Files = append(detail.Files, fc)
		}
		next = page.Next
	}
	return detail, nil
}

type commitPager struct {
	client   *Client
	ref      provider.RepoRef
	opts     provider.ListOptions
	pageSize int

	loaded   bool
	pending  []provider.CommitHeader
	estimate int
}

// Next implements provider.CommitPager.
func (p *commitPager) Next(ctx context.Context) ([]provider.CommitHeader, error) {
	if !p.loaded {
		if err := p.load(ctx); err != nil {
			return nil, err
		}
		p.loaded = true
	}
	if len(p.pending) == 0 {
		return nil, io.EOF
	}
	n := min(p.pageSize, len(p.pending))
	batch := p.pending[:n]
	p.pending = p.pending[n:]
	return batch, nil
}

// Estimate implements provider.CommitPager.
func (p *commitPager) Estimate() int {
	return p.estimate
}

func (p *commitPager) load(ctx context.Context) error {
	var newestFirst []provider.CommitHeader
	next := p.client.repoURL(p.ref) + "/commits?pagelen=" + strconv.Itoa(p.pageSize)
	for next != "" {
		var page commitPage
		p.client.logger.Debug("Fetching commits page", "repo", p.ref.String(), "url", next)
		if err := p.client.getJSON(ctx, "bitbucket.ListCommits", next, p.opts.Credential, &page); err != nil {
			return err
		}
		known, err := p.known(ctx, page.Values)
		if err != nil {
			return err
		}
		passed := len(page.Values) > 0 && len(known) == len(page.Values)
		for _, c := range page.Values {
			if known[c.Hash] {
				continue
			}
			if !p.opts.Until.IsZero() && c.Date.After(p.opts.Until) {
				continue
			}
			if p.opts.Known == nil && p.opts.Since != nil && c.Date.Before(*p.opts.Since) {
				passed = true
				continue
			}
			newestFirst = append(newestFirst, toCommitHeader(c))
		}
		if passed {
			break
		}
		next = page.Next
	}

	p.pending = make([]provider.CommitHeader, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		p.pending = append(p.pending, newestFirst[i])
	}
	p.estimate = len(p.pending)
	return nil
}

// known reports which commits of a page are already stored.
func (p *commitPager) known(ctx context.Context, page []commit) (map[string]bool, error) {
	if p.opts.Known == nil || len(page) == 0 {
		return nil, nil
	}
	hashes := make([]string, 0, len(page))
	for _, c := range page {
		hashes = append(hashes, c.Hash)
	}
	known, err := p.opts.Known(ctx, hashes)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(known))
	for _, c := range page {
		if known[c.Hash] {
			out[c.Hash] = true
		}
	}
	return out, nil
}

func (c *Client) repoURL(ref provider.RepoRef) string {
	return c.opts.BaseURL + "/repositories/" + url.PathEscape(ref.Owner) + "/" + url.PathEscape(ref.Name)
}

// getJSON issues an authenticated GET with retries and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, op, target, credential string, out any) error {
	token := credential
	if token == "" {
		token = c.opts.Token
	}
	return c.opts.Retry.Do(ctx, c.logger, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInvalidInput, op, err)
		}
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return provider.ClassifyTransportError(ctx, op, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return provider.ClassifyTransportError(ctx, op, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return provider.ClassifyStatus(op, resp, body)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return apperrors.Wrap(apperrors.KindMalformedResponse, op, err)
		}
		return nil
	})
}

func toCommitHeader(c commit) provider.CommitHeader {
	name, email := parseAuthor(c.Author.Raw)
	if name == "" && c.Author.User != nil {
		name = c.Author.User.DisplayName
	}
	return provider.CommitHeader{
		Hash:           c.Hash,
		AuthorName:     name,
		AuthorEmail:    email,
		CommitterName:  name,
		CommitterEmail: email,
		Message:        c.Message,
		AuthoredAt:     c.Date,
		CommittedAt:    c.Date,
	}
}

// parseAuthor splits a raw "Name <email>" author string.
func parseAuthor(raw string) (name, email string) {
	open := strings.LastIndex(raw, "<")
	closing := strings.LastIndex(raw, ">")
	if open < 0 || closing < open {
		return strings.TrimSpace(raw), ""
	}
	return strings.TrimSpace(raw[:open]), strings.TrimSpace(raw[open+1 : closing])
}

func toFileChange(d diffstat) (model.FileChange, error) {
	fc := model.FileChange{
		LinesAdded:   d.LinesAdded,
		LinesDeleted: d.LinesRemoved,
		Kind:         provider.KindFromChangeStatus(d.Status),
	}
	switch {
	case d.New != nil:
		fc.Path = d.New.Path
		if d.Old != nil && d.Old.Path != d.New.Path {
			fc.PreviousPath = d.Old.Path
		}
	case d.Old != nil:
		fc.Path = d.Old.Path
	default:
		return model.FileChange{}, apperrors.New(apperrors.KindMalformedResponse, "bitbucket.FetchFileChanges", fmt.Sprintf("diffstat entry with status %q has no path", d.Status))
	}
	return fc, nil
}
