// Package github wraps the GitHub REST API surface the review pipeline
// touches: pull request metadata, the paged file list that feeds the diff
// parser, and review submission.
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/sevigo/reviewcore/internal/pipelineerr"
)

// filesPerPage is the page size for the PR file listing; GitHub caps it at 100.
const filesPerPage = 100

// PRFile is one entry of the pull request file listing, as returned by
// GET /repos/{owner}/{repo}/pulls/{n}/files.
type PRFile struct {
	Filename         string
	Status           string // added | modified | removed | renamed
	Patch            string // empty for binary files and pure renames
	PreviousFilename string
	Additions        int
	Deletions        int
	Changes          int
}

// DraftReviewComment is a single inline comment in a review submission.
// Line is the absolute new-file line number; Side is always "RIGHT".
type DraftReviewComment struct {
	Path string
	Line int
	Side string
	Body string
}

// Client is the narrow GitHub surface the pipeline consumes.
//
//go:generate mockgen -destination=../../mocks/mock_github_client.go -package=mocks . Client
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]PRFile, error)
	CreateReview(ctx context.Context, owner, repo string, number int, body string, comments []DraftReviewComment) (int64, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
}

type gitHubClient struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHubClient wraps the official go-github client with the error mapping
// and pagination behavior the pipeline expects.
func NewGitHubClient(client *github.Client, logger *slog.Logger) Client {
	return &gitHubClient{client: client, logger: logger}
}

// NewPATClient creates a client authenticated with a personal access token,
// for CLI runs where no App installation is available.
func NewPATClient(ctx context.Context, token string, logger *slog.Logger) Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &gitHubClient{client: github.NewClient(tc), logger: logger}
}

// GetPullRequest fetches PR metadata, including head/base SHAs.
func (g *gitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, mapAPIError(err, resp, owner, repo, number)
	}
	return pr, nil
}

// ListPullRequestFiles pages through the full file listing, 100 entries at a
// time.
func (g *gitHubClient) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]PRFile, error) {
	var files []PRFile
	opts := &github.ListOptions{PerPage: filesPerPage}
	for {
		page, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, mapAPIError(err, resp, owner, repo, number)
		}
		for _, f := range page {
			files = append(files, PRFile{
				Filename:         f.GetFilename(),
				Status:           f.GetStatus(),
				Patch:            f.GetPatch(),
				PreviousFilename: f.GetPreviousFilename(),
				Additions:        f.GetAdditions(),
				Deletions:        f.GetDeletions(),
				Changes:          f.GetChanges(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	g.logger.DebugContext(ctx, "listed pull request files", "repo", owner+"/"+repo, "pr", number, "count", len(files))
	return files, nil
}

// CreateReview submits a review with inline comments and returns the review
// id GitHub assigned.
func (g *gitHubClient) CreateReview(ctx context.Context, owner, repo string, number int, body string, comments []DraftReviewComment) (int64, error) {
	ghComments := make([]*github.DraftReviewComment, 0, len(comments))
	for i := range comments {
		c := comments[i]
		ghComments = append(ghComments, &github.DraftReviewComment{
			Path: &c.Path,
			Line: &c.Line,
			Side: &c.Side,
			Body: &c.Body,
		})
	}

	review, resp, err := g.client.PullRequests.CreateReview(ctx, owner, repo, number, &github.PullRequestReviewRequest{
		Body:     &body,
		Event:    github.Ptr("COMMENT"),
		Comments: ghComments,
	})
	if err != nil {
		return 0, mapAPIError(err, resp, owner, repo, number)
	}
	return review.GetID(), nil
}

// CreateComment posts a plain issue comment on the pull request.
func (g *gitHubClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: &body}
	_, resp, err := g.client.Issues.CreateComment(ctx, owner, repo, number, comment)
	if err != nil {
		return mapAPIError(err, resp, owner, repo, number)
	}
	return nil
}

// mapAPIError converts a go-github error into the pipeline taxonomy.
func mapAPIError(err error, resp *github.Response, owner, repo string, number int) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return pipelineerr.GitHubRateLimit(time.Until(rateErr.Rate.Reset.Time))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := 60 * time.Second
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		return pipelineerr.GitHubRateLimit(retryAfter)
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return pipelineerr.GitHubAuthentication(err)
		case http.StatusForbidden:
			return pipelineerr.GitHubPermission(err)
		case http.StatusNotFound:
			return pipelineerr.GitHubPRNotFound(owner, repo, number)
		case http.StatusTooManyRequests:
			retryAfter := 60 * time.Second
			if v := resp.Header.Get("Retry-After"); v != "" {
				if d, perr := time.ParseDuration(v + "s"); perr == nil {
					retryAfter = d
				}
			}
			return pipelineerr.GitHubRateLimit(retryAfter)
		}
	}
	return err
}
