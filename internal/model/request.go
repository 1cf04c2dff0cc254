// Package model defines the immutable data types shared across the context
// assembly and review generation pipeline: the request that starts a run, the
// diff model it is parsed into, and the candidates, packs, and findings
// produced along the way.
package model

import (
	"fmt"
	"regexp"

	"github.com/sevigo/reviewcore/internal/pipelineerr"
)

var (
	repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	shaPattern      = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// PRReviewRequest is the immutable entry point into the pipeline. It is
// validated once, at construction, and never mutated afterward.
type PRReviewRequest struct {
	InstallationID int64
	InternalRepoID string // uuid
	ExternalRepoID int64
	RepoOwner      string
	RepoName       string
	PRNumber       int
	HeadSHA        string
	BaseSHA        string
}

// NewPRReviewRequest validates and constructs a PRReviewRequest. Any
// invariant violation is reported as an InvalidInput error.
func NewPRReviewRequest(installationID int64, internalRepoID string, externalRepoID int64, owner, repo string, prNumber int, headSHA, baseSHA string) (*PRReviewRequest, error) {
	req := &PRReviewRequest{
		InstallationID: installationID,
		InternalRepoID: internalRepoID,
		ExternalRepoID: externalRepoID,
		RepoOwner:      owner,
		RepoName:       repo,
		PRNumber:       prNumber,
		HeadSHA:        headSHA,
		BaseSHA:        baseSHA,
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *PRReviewRequest) validate() error {
	switch {
	case r.InstallationID <= 0:
		return pipelineerr.InvalidInput("installation_id must be positive", "installation_id", r.InstallationID)
	case r.InternalRepoID == "":
		return pipelineerr.InvalidInput("internal_repo_id must not be empty", "internal_repo_id", r.InternalRepoID)
	case r.ExternalRepoID <= 0:
		return pipelineerr.InvalidInput("external_repo_id must be positive", "external_repo_id", r.ExternalRepoID)
	case !repoNamePattern.MatchString(r.RepoOwner):
		return pipelineerr.InvalidInput("repo_owner has invalid format", "repo_owner", r.RepoOwner)
	case !repoNamePattern.MatchString(r.RepoName):
		return pipelineerr.InvalidInput("repo_name has invalid format", "repo_name", r.RepoName)
	case r.PRNumber < 1:
		return pipelineerr.InvalidInput("pr_number must be >= 1", "pr_number", r.PRNumber)
	case !shaPattern.MatchString(r.HeadSHA):
		return pipelineerr.InvalidInput("head_sha must be 40-char lowercase hex", "head_sha", r.HeadSHA)
	case !shaPattern.MatchString(r.BaseSHA):
		return pipelineerr.InvalidInput("base_sha must be 40-char lowercase hex", "base_sha", r.BaseSHA)
	}
	return nil
}

// IsEmptyDiff reports whether head and base are identical, in which case the
// pipeline may short-circuit
func (r *PRReviewRequest) IsEmptyDiff() bool {
	return r.HeadSHA == r.BaseSHA
}

// String implements fmt.Stringer for logging.
func (r *PRReviewRequest) String() string {
	return fmt.Sprintf("%s/%s#%d (%s..%s)", r.RepoOwner, r.RepoName, r.PRNumber, r.BaseSHA[:7], r.HeadSHA[:7])
}
