// Package publish turns anchored findings into a GitHub review and persists
// the outcome. Publication is at-most-once per review run: once submission
// has begun it is never retried in a way that could double-post, and a
// publish failure marks the persisted row unpublished without failing the
// run.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sevigo/reviewcore/internal/github"
	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/pipelineerr"
	"github.com/sevigo/reviewcore/internal/storage"
)

// Severity badges for inline comments.
var severityBadges = map[model.Severity]string{
	model.SeverityBlocker: "🔴 Blocker",
	model.SeverityHigh:    "🟠 High",
	model.SeverityMedium:  "🟡 Medium",
	model.SeverityLow:     "🟢 Low",
	model.SeverityNit:     "⚪ Nit",
}

// minBatchSize stops the halving retry: below this we give up on the batch
// rather than posting comments one by one.
const minBatchSize = 5

// Publisher submits reviews and records the outcome.
type Publisher struct {
	client github.Client
	store  storage.Store
	dryRun bool
	logger *slog.Logger
}

// New constructs a Publisher. With dryRun set, nothing is posted to GitHub
// and the persisted row stays unpublished.
func New(client github.Client, store storage.Store, dryRun bool, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, store: store, dryRun: dryRun, logger: logger.With("component", "publisher")}
}

// Result reports what publication did.
type Result struct {
	Published      bool
	GitHubReviewID int64
	CommentCount   int
	SkippedCount   int
}

// AbsoluteLine computes the new-file line number for a 0-based line offset
// inside a hunk: count one per context or addition line before the offset,
// skip deletions. Offset 0 maps to NewStart.
func AbsoluteLine(h *model.Hunk, lineInHunk int) int {
	line := h.NewStart
	for i := 0; i < lineInHunk && i < len(h.Lines); i++ {
		switch h.Lines[i].Tag {
		case model.LineContext, model.LineAddition:
			line++
		}
	}
	return line
}

// PublishAndPersist posts the review and writes findings plus the published
// flag. Cancellation is checked before submission begins, never during:
// GitHub either receives the whole request or none of it.
func (p *Publisher) PublishAndPersist(ctx context.Context, req *model.PRReviewRequest, runID string, output *model.LLMReviewOutput, anchored, unanchored []model.Finding, mappings *model.DiffMappings) (*Result, error) {
	res := &Result{}

	comments, skipped := p.buildComments(anchored, mappings)
	res.SkippedCount = skipped
	body := p.buildBody(output, unanchored)

	findings := p.toStoredFindings(runID, anchored, unanchored, mappings)
	if err := p.store.SaveFindings(ctx, runID, findings); err != nil {
		return nil, fmt.Errorf("failed to persist findings: %w", err)
	}

	if p.dryRun {
		p.logger.InfoContext(ctx, "dry run: skipping review submission", "comments", len(comments))
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reviewID, posted, err := p.submit(ctx, req, body, comments)
	if err != nil {
		p.logger.ErrorContext(ctx, "review submission failed", "error", err)
		if serr := p.store.MarkReviewRunUnpublished(ctx, runID, err.Error()); serr != nil {
			p.logger.ErrorContext(ctx, "failed to record publish failure", "error", serr)
		}
		return res, pipelineerr.PublishFailed(err)
	}

	res.Published = true
	res.GitHubReviewID = reviewID
	res.CommentCount = posted
	if err := p.store.MarkReviewRunPublished(ctx, runID, reviewID); err != nil {
		return res, fmt.Errorf("review published but failed to persist state: %w", err)
	}
	return res, nil
}

// submit posts the review, halving the comment batch when GitHub rejects it
// by size (422). Each halving drops the tail half into the summary rather
// than issuing a second review, preserving at-most-once.
func (p *Publisher) submit(ctx context.Context, req *model.PRReviewRequest, body string, comments []github.DraftReviewComment) (int64, int, error) {
	batch := comments
	for {
		reviewID, err := p.client.CreateReview(ctx, req.RepoOwner, req.RepoName, req.PRNumber, body, batch)
		if err == nil {
			return reviewID, len(batch), nil
		}
		if !isTooLarge(err) || len(batch) < minBatchSize*2 {
			return 0, 0, err
		}
		half := len(batch) / 2
		for _, c := range batch[half:] {
			body += fmt.Sprintf("\n\n**`%s` line %d:** %s", c.Path, c.Line, c.Body)
		}
		dropped := len(batch) - half
		batch = batch[:half]
		p.logger.WarnContext(ctx, "review batch rejected by size, halving", "dropped", dropped, "remaining", len(batch))
	}
}

func isTooLarge(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "422") || strings.Contains(msg, "too large") || strings.Contains(msg, "was submitted too quickly")
}

func (p *Publisher) buildComments(anchored []model.Finding, mappings *model.DiffMappings) ([]github.DraftReviewComment, int) {
	var comments []github.DraftReviewComment
	skipped := 0
	for i := range anchored {
		f := &anchored[i]
		hunk, ok := mappings.HunkByID(f.FilePath, f.HunkID)
		if !ok {
			skipped++
			continue
		}
		comments = append(comments, github.DraftReviewComment{
			Path: f.FilePath,
			Line: AbsoluteLine(hunk, f.LineInHunk),
			Side: "RIGHT",
			Body: formatInlineComment(f),
		})
	}
	return comments, skipped
}

func formatInlineComment(f *model.Finding) string {
	var sb strings.Builder
	badge, ok := severityBadges[f.Severity]
	if !ok {
		badge = strings.ToUpper(string(f.Severity))
	}
	fmt.Fprintf(&sb, "**%s · %s** — %s\n\n", badge, f.Category, f.Title)
	sb.WriteString(f.Message)
	if f.SuggestedFix != "" {
		sb.WriteString("\n\n**Suggested fix:** ")
		sb.WriteString(f.SuggestedFix)
	}
	for _, ex := range f.CodeExamples {
		sb.WriteString("\n\n```\n")
		sb.WriteString(ex)
		sb.WriteString("\n```")
	}
	return sb.String()
}

// buildBody renders the review summary. Unanchored findings appear here only;
// they never become inline comments.
func (p *Publisher) buildBody(output *model.LLMReviewOutput, unanchored []model.Finding) string {
	var sb strings.Builder
	sb.WriteString("## Review summary\n\n")
	sb.WriteString(output.Summary)

	if len(output.Patterns) > 0 {
		sb.WriteString("\n\n**Patterns observed:**\n")
		for _, pat := range output.Patterns {
			sb.WriteString("- ")
			sb.WriteString(pat)
			sb.WriteString("\n")
		}
	}
	if len(output.Recommendations) > 0 {
		sb.WriteString("\n**Recommendations:**\n")
		for _, rec := range output.Recommendations {
			sb.WriteString("- ")
			sb.WriteString(rec)
			sb.WriteString("\n")
		}
	}

	if len(unanchored) > 0 {
		sb.WriteString("\n**Additional findings** (outside the diff):\n")
		for i := range unanchored {
			f := &unanchored[i]
			badge, ok := severityBadges[f.Severity]
			if !ok {
				badge = strings.ToUpper(string(f.Severity))
			}
			fmt.Fprintf(&sb, "- %s `%s`: %s — %s\n", badge, f.FilePath, f.Title, f.Message)
		}
	}
	return sb.String()
}

func (p *Publisher) toStoredFindings(runID string, anchored, unanchored []model.Finding, mappings *model.DiffMappings) []storage.ReviewFinding {
	findings := make([]storage.ReviewFinding, 0, len(anchored)+len(unanchored))
	for i := range anchored {
		f := &anchored[i]
		line := 0
		if hunk, ok := mappings.HunkByID(f.FilePath, f.HunkID); ok {
			line = AbsoluteLine(hunk, f.LineInHunk)
		}
		findings = append(findings, storage.ReviewFinding{
			ReviewRunID: runID,
			FilePath:    f.FilePath,
			LineNumber:  line,
			FindingType: string(f.Category),
			Severity:    storage.StoredSeverity(f.Severity),
			Message:     f.Message,
			Suggestion:  f.SuggestedFix,
		})
	}
	for i := range unanchored {
		f := &unanchored[i]
		findings = append(findings, storage.ReviewFinding{
			ReviewRunID: runID,
			FilePath:    f.FilePath,
			LineNumber:  0,
			FindingType: string(f.Category),
			Severity:    storage.StoredSeverity(f.Severity),
			Message:     f.Message,
			Suggestion:  f.SuggestedFix,
		})
	}
	return findings
}
