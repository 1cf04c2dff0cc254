// Package jobs defines background tasks such as automated code reviews.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sevigo/reviewcore/internal/config"
	"github.com/sevigo/reviewcore/internal/core"
	"github.com/sevigo/reviewcore/internal/github"
	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/pipeline"
)

// reviewJob turns one GitHubEvent into a pipeline run: it authenticates as
// the installation, resolves head/base SHAs when the event lacks them, and
// hands a validated PRReviewRequest to the runner.
type reviewJob struct {
	cfg    *config.Config
	runner *pipeline.Runner
	logger *slog.Logger
}

// NewReviewJob creates the code review job executed by dispatcher workers.
func NewReviewJob(cfg *config.Config, runner *pipeline.Runner, logger *slog.Logger) core.Job {
	return &reviewJob{cfg: cfg, runner: runner, logger: logger.With("component", "review_job")}
}

func (j *reviewJob) Run(ctx context.Context, event *core.GitHubEvent) error {
	logger := j.logger.With("repo", event.RepoFullName, "pr", event.PRNumber)

	gh, token, err := github.CreateInstallationClient(ctx, j.cfg, event.InstallationID, logger)
	if err != nil {
		return fmt.Errorf("failed to create installation client: %w", err)
	}

	headSHA, baseSHA := event.HeadSHA, event.BaseSHA
	if headSHA == "" || baseSHA == "" {
		// Comment-triggered events carry no SHAs.
		pr, err := gh.GetPullRequest(ctx, event.RepoOwner, event.RepoName, event.PRNumber)
		if err != nil {
			return fmt.Errorf("failed to resolve pull request SHAs: %w", err)
		}
		headSHA = pr.GetHead().GetSHA()
		baseSHA = pr.GetBase().GetSHA()
	}

	req, err := model.NewPRReviewRequest(
		event.InstallationID,
		internalRepoID(event.RepoFullName),
		event.ExternalRepoID,
		event.RepoOwner,
		event.RepoName,
		event.PRNumber,
		headSHA,
		baseSHA,
	)
	if err != nil {
		return fmt.Errorf("invalid review request: %w", err)
	}

	result, err := j.runner.Run(ctx, req, gh, event.RepoCloneURL, token)
	if err != nil {
		return fmt.Errorf("review run failed: %w", err)
	}

	logger.InfoContext(ctx, "review run finished",
		"run_id", result.RunID,
		"findings", len(result.Findings),
		"anchored", result.Anchored,
		"published", result.Published,
		"warnings", result.Warnings)
	return nil
}

// internalRepoID derives the stable repository UUID from the repo's full
// name, so the same repository always maps to the same internal id.
func internalRepoID(fullName string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/"+fullName)).String()
}
