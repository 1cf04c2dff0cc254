// Package gitutil provides the run-scoped local clone the snippet extractor
// reads from.
package gitutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Client handles cloning and checking out repositories.
type Client struct {
	Logger *slog.Logger
}

// NewClient returns a new Client instance.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Logger: logger}
}

// RunClone is a clone directory owned by exactly one pipeline run. Release
// must be called on every exit path; with keepAfter set at acquisition the
// directory is left on disk and Release only logs.
type RunClone struct {
	Dir     string
	release func()
}

// NewRunClone wraps an existing directory as a RunClone for callers that
// manage the directory lifecycle themselves. release may be nil.
func NewRunClone(dir string, release func()) *RunClone {
	return &RunClone{Dir: dir, release: release}
}

// Release frees the clone directory (or keeps it, per policy).
func (rc *RunClone) Release() {
	if rc.release != nil {
		rc.release()
	}
}

// AcquireRunClone clones repoURL into a fresh temporary directory and checks
// out sha. The returned RunClone is owned by the calling run; it is never
// shared across runs.
func (c *Client) AcquireRunClone(ctx context.Context, repoURL, sha, token string, keepAfter bool) (*RunClone, error) {
	dir, err := os.MkdirTemp("", "reviewcore-clone-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	cleanup := func() {
		if keepAfter {
			c.Logger.Info("keeping run clone directory", "path", dir)
			return
		}
		if removeErr := os.RemoveAll(dir); removeErr != nil {
			c.Logger.Error("failed to remove run clone", "path", dir, "error", removeErr)
		}
	}

	repo, err := c.clone(ctx, repoURL, dir, token)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := c.checkout(repo, sha); err != nil {
		cleanup()
		return nil, err
	}

	c.Logger.InfoContext(ctx, "run clone ready", "path", dir, "sha", sha)
	return &RunClone{Dir: dir, release: cleanup}, nil
}

func (c *Client) clone(ctx context.Context, repoURL, path, token string) (*git.Repository, error) {
	authURL, err := c.authenticatedURL(repoURL, token)
	if err != nil {
		return nil, err
	}

	c.Logger.InfoContext(ctx, "cloning repository", "url", repoURL, "path", path)
	repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL: authURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repo '%s' to '%s': %w", repoURL, path, err)
	}
	return repo, nil
}

func (c *Client) checkout(repo *git.Repository, sha string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	c.Logger.Info("checking out commit", "sha", sha)
	err = worktree.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(sha),
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("failed to checkout commit '%s': %w", sha, err)
	}
	return nil
}

func (c *Client) authenticatedURL(repoURL, token string) (string, error) {
	if !strings.HasPrefix(repoURL, "https://") && !strings.HasPrefix(repoURL, "http://") {
		return "", fmt.Errorf("invalid repository URL: %s", repoURL)
	}
	if token == "" {
		return "", errors.New("github token cannot be empty")
	}

	parsedURL, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL '%s': %w", repoURL, err)
	}
	parsedURL.User = url.UserPassword("x-access-token", token)
	return parsedURL.String(), nil
}

// basicAuth is kept for callers that fetch into an existing clone.
func (c *Client) basicAuth(token string) *githttp.BasicAuth {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "x-access-token",
		Password: token,
	}
}
