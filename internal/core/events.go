// Package core defines the essential interfaces and data structures that form
// the backbone of the application: the internal event shape webhooks reduce
// to, and the job contract the dispatcher executes.
package core

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v73/github"
)

// GitHubEvent is the application's internal view of a webhook event that
// should trigger a review run.
type GitHubEvent struct {
	RepoOwner      string
	RepoName       string
	RepoFullName   string
	RepoCloneURL   string
	ExternalRepoID int64

	PRNumber int
	PRTitle  string
	HeadSHA  string
	BaseSHA  string

	Commenter      string
	InstallationID int64
}

// EventFromPullRequest reduces a pull_request webhook (opened, reopened or
// synchronize) to a GitHubEvent. Other actions are rejected.
func EventFromPullRequest(event *github.PullRequestEvent) (*GitHubEvent, error) {
	action := event.GetAction()
	if action != "opened" && action != "synchronize" && action != "reopened" {
		return nil, fmt.Errorf("pull request action %q does not trigger a review", action)
	}

	repo := event.GetRepo()
	pr := event.GetPullRequest()
	if repo == nil || pr == nil {
		return nil, fmt.Errorf("repository or pull request information is missing from the event")
	}
	if event.GetInstallation() == nil || event.GetInstallation().GetID() == 0 {
		return nil, fmt.Errorf("installation ID is missing from the event")
	}

	return &GitHubEvent{
		RepoOwner:      repo.GetOwner().GetLogin(),
		RepoName:       repo.GetName(),
		RepoFullName:   repo.GetFullName(),
		RepoCloneURL:   repo.GetCloneURL(),
		ExternalRepoID: repo.GetID(),
		InstallationID: event.GetInstallation().GetID(),
		PRNumber:       pr.GetNumber(),
		PRTitle:        pr.GetTitle(),
		HeadSHA:        pr.GetHead().GetSHA(),
		BaseSHA:        pr.GetBase().GetSHA(),
	}, nil
}

// EventFromIssueComment reduces a "/review" comment on a pull request to a
// GitHubEvent. Head/base SHAs are absent on comment payloads; the review job
// resolves them from the PR metadata before starting the pipeline.
func EventFromIssueComment(event *github.IssueCommentEvent) (*GitHubEvent, error) {
	if !event.GetIssue().IsPullRequest() {
		return nil, fmt.Errorf("comment is not on a pull request")
	}

	if !strings.EqualFold(strings.TrimSpace(event.GetComment().GetBody()), "/review") {
		return nil, fmt.Errorf("comment is not a review command")
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetOwner() == nil || repo.GetOwner().GetLogin() == "" || repo.GetName() == "" {
		return nil, fmt.Errorf("repository or owner information is missing from the event")
	}

	prNumber := event.GetIssue().GetNumber()
	if prNumber <= 0 {
		return nil, fmt.Errorf("invalid pull request number: %d", prNumber)
	}

	if event.GetComment().GetUser() == nil || event.GetComment().GetUser().GetLogin() == "" {
		return nil, fmt.Errorf("commenter information is missing from the event")
	}

	if event.GetInstallation() == nil || event.GetInstallation().GetID() == 0 {
		return nil, fmt.Errorf("installation ID is missing from the event")
	}

	return &GitHubEvent{
		RepoOwner:      repo.GetOwner().GetLogin(),
		RepoName:       repo.GetName(),
		RepoFullName:   repo.GetFullName(),
		RepoCloneURL:   repo.GetCloneURL(),
		ExternalRepoID: repo.GetID(),
		InstallationID: event.GetInstallation().GetID(),
		PRNumber:       prNumber,
		PRTitle:        event.GetIssue().GetTitle(),
		Commenter:      event.GetComment().GetUser().GetLogin(),
	}, nil
}
