// Package pipeline composes the review stages into one run: parse the diff,
// extract seeds, retrieve KG candidates, extract snippets, rank and pack,
// generate findings, anchor them, and publish the result. Stages execute
// sequentially; parallelism lives inside the stages that fan out I/O.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sevigo/reviewcore/internal/anchor"
	"github.com/sevigo/reviewcore/internal/config"
	"github.com/sevigo/reviewcore/internal/contextpack"
	"github.com/sevigo/reviewcore/internal/core"
	"github.com/sevigo/reviewcore/internal/diff"
	"github.com/sevigo/reviewcore/internal/github"
	"github.com/sevigo/reviewcore/internal/gitutil"
	"github.com/sevigo/reviewcore/internal/kg"
	"github.com/sevigo/reviewcore/internal/llm"
	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/observability"
	"github.com/sevigo/reviewcore/internal/pipelineerr"
	"github.com/sevigo/reviewcore/internal/publish"
	"github.com/sevigo/reviewcore/internal/seed"
	"github.com/sevigo/reviewcore/internal/snippet"
	"github.com/sevigo/reviewcore/internal/storage"
)

// CloneProvider acquires the run-scoped clone directory. *gitutil.Client is
// the production implementation.
type CloneProvider interface {
	AcquireRunClone(ctx context.Context, repoURL, sha, token string, keepAfter bool) (*gitutil.RunClone, error)
}

// Runner owns the long-lived collaborators shared by every run. Per-run
// state (clone directory, snippet cache, publisher) is created inside Run
// and destroyed when it returns.
type Runner struct {
	cfg       *config.Config
	store     storage.Store
	cloner    CloneProvider
	retriever *kg.Retriever
	prompts   *llm.PromptBuilder
	generator *llm.Generator
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewRunner wires a Runner from already-constructed collaborators.
func NewRunner(cfg *config.Config, store storage.Store, cloner CloneProvider, retriever *kg.Retriever, prompts *llm.PromptBuilder, generator *llm.Generator, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     store,
		cloner:    cloner,
		retriever: retriever,
		prompts:   prompts,
		generator: generator,
		metrics:   metrics,
		logger:    logger.With("component", "pipeline"),
	}
}

// Result summarizes one completed run.
type Result struct {
	RunID        string
	Summary      string
	Findings     []model.Finding
	Anchored     int
	Unanchored   int
	Published    bool
	Warnings     []string
	ShortCircuit bool
}

// Run executes the full pipeline for one request. gh and token are
// request-scoped (installation-authenticated); cloneURL is the HTTPS clone
// URL of the repository.
//
// Fatal errors (invalid input, PR too large, nothing parseable, GitHub
// auth/permission/not-found) are returned. KG failures, per-candidate
// snippet failures, LLM schema failures and review-submission failures
// degrade with a warning and the run still completes. Failures to list the
// PR files, acquire the clone, build the prompt, get past an open LLM
// breaker or a cancelled context during generation, or persist findings are
// also returned and fail the run.
func (r *Runner) Run(ctx context.Context, req *model.PRReviewRequest, gh github.Client, cloneURL, token string) (*Result, error) {
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID, "pr", req.String())
	res := &Result{RunID: runID}

	run := &storage.ReviewRun{
		ID:           runID,
		PRID:         req.InternalRepoID,
		RepoFullName: req.RepoOwner + "/" + req.RepoName,
		PRNumber:     req.PRNumber,
		LLMModel:     r.cfg.Pipeline.ModelName,
		HeadSHA:      req.HeadSHA,
		StartedAt:    time.Now().UTC(),
	}
	if err := r.store.CreateReviewRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create review run: %w", err)
	}

	result, err := r.execute(ctx, req, gh, cloneURL, token, runID, res, logger)
	if err != nil {
		if ferr := r.store.FinishReviewRun(ctx, runID, storage.RunStatusFailed, "", err.Error()); ferr != nil {
			logger.Error("failed to record run failure", "error", ferr)
		}
		return nil, err
	}
	if ferr := r.store.FinishReviewRun(ctx, runID, storage.RunStatusCompleted, result.Summary, ""); ferr != nil {
		logger.Error("failed to record run completion", "error", ferr)
	}
	return result, nil
}

func (r *Runner) execute(ctx context.Context, req *model.PRReviewRequest, gh github.Client, cloneURL, token, runID string, res *Result, logger *slog.Logger) (*Result, error) {
	// An empty PR (head == base) short-circuits before any external call.
	if req.IsEmptyDiff() {
		logger.Info("head equals base, nothing to review")
		res.ShortCircuit = true
		res.Summary = "No changes between head and base."
		return res, nil
	}

	// Fetch the file list and parse it into patches + mappings.
	parsed, err := r.parseStage(ctx, req, gh, logger)
	if err != nil {
		return nil, err
	}

	parseable := 0
	for i := range parsed.Patches {
		if !parsed.Patches[i].IsBinary && len(parsed.Patches[i].Hunks) > 0 {
			parseable++
		}
	}
	if parseable == 0 {
		return nil, pipelineerr.NoParseableFiles()
	}

	// The clone is scoped to the run: acquired before snippet extraction,
	// released after publication on every exit path.
	cloneCtx, cancelClone := context.WithTimeout(ctx, r.cfg.Timeouts.CloneTimeout)
	clone, err := r.cloner.AcquireRunClone(cloneCtx, cloneURL, req.HeadSHA, token, r.cfg.Pipeline.KeepCloneAfter)
	cancelClone()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run clone: %w", err)
	}
	defer clone.Release()

	snip := snippet.New(clone.Dir, snippet.Limits{
		MaxFileSizeBytes: r.cfg.Limits.MaxFileSizeBytes,
		MaxLineLength:    r.cfg.Limits.MaxLineLength,
	})

	// Repository-local overrides (.reviewcore.yml), if present.
	repoCfg, rcErr := config.LoadRepoConfig(clone.Dir)
	if rcErr != nil && !errors.Is(rcErr, config.ErrConfigNotFound) {
		logger.Warn("ignoring malformed .reviewcore.yml", "error", rcErr)
		repoCfg = core.DefaultRepoConfig()
	}

	// Seed set.
	s0 := r.seedStage(parsed, snip, repoCfg, logger)

	// KG candidates; never fails, degrades with warnings.
	candidates := r.retrieveStage(ctx, req, s0, logger)

	warnings := append([]string{}, candidates.Warnings...)
	if candidates.KGCommitSHA != "" && candidates.KGCommitSHA != req.HeadSHA {
		warnings = append(warnings, "kg_drift")
	}

	// Snippets + ranked, budgeted pack.
	pack := r.packStage(candidates, parsed, snip, warnings, logger)
	res.Warnings = pack.Warnings

	// Prompt + generation.
	output, genWarnings, err := r.generateStage(ctx, req, parsed, &pack, repoCfg.CustomInstructions, logger)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, genWarnings...)
	res.Summary = output.Summary

	// Anchoring.
	anchorStart := time.Now()
	anchorRes := anchor.Anchor(output.Findings, parsed.Mappings, &pack)
	r.metrics.Record(observability.Observation{
		Node:     "anchorer",
		Duration: time.Since(anchorStart),
	})
	res.Anchored = len(anchorRes.Anchored)
	res.Unanchored = len(anchorRes.Unanchored)
	res.Findings = append(append([]model.Finding{}, anchorRes.Anchored...), anchorRes.Unanchored...)
	if anchorRes.Stats.Degraded {
		res.Warnings = append(res.Warnings, "anchoring_degraded")
	}
	logger.Info("anchoring complete",
		"anchored", res.Anchored,
		"unanchored", res.Unanchored,
		"by_method", anchorRes.Stats.ByMethod)

	// Publish + persist. Once submission begins, cancellation waits
	// for it to return; a publish failure does not fail the run.
	publisher := publish.New(gh, r.store, r.cfg.Pipeline.DryRun, logger)
	pubStart := time.Now()
	pubRes, err := publisher.PublishAndPersist(ctx, req, runID, output, anchorRes.Anchored, anchorRes.Unanchored, parsed.Mappings)
	errCode := ""
	if err != nil {
		errCode = "PublishFailed"
	}
	r.metrics.Record(observability.Observation{
		Node:      "publisher",
		Duration:  time.Since(pubStart),
		ErrorCode: errCode,
	})
	if err != nil {
		if pipelineerr.Is(err, pipelineerr.CodePublishFailed) {
			res.Warnings = append(res.Warnings, "publish_failed")
			logger.Warn("publish failed, run content persisted unpublished", "error", err)
			return res, nil
		}
		return nil, err
	}
	res.Published = pubRes.Published
	return res, nil
}

func (r *Runner) parseStage(ctx context.Context, req *model.PRReviewRequest, gh github.Client, logger *slog.Logger) (*diff.ParseResult, error) {
	start := time.Now()

	apiCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.GitHubAPITimeout)
	files, err := gh.ListPullRequestFiles(apiCtx, req.RepoOwner, req.RepoName, req.PRNumber)
	cancel()
	if err != nil {
		r.metrics.Record(observability.Observation{Node: "diff_parser", Duration: time.Since(start), ErrorCode: errorCode(err)})
		return nil, err
	}

	raw := make([]diff.RawFile, 0, len(files))
	for _, f := range files {
		raw = append(raw, diff.RawFile{
			FilePath:     f.Filename,
			PreviousPath: f.PreviousFilename,
			ChangeType:   changeTypeFromStatus(f.Status),
			Additions:    f.Additions,
			Deletions:    f.Deletions,
			Changes:      f.Changes,
			Patch:        f.Patch,
			IsBinary:     isBinaryListing(f),
		})
	}

	parsed, err := diff.ParsePullRequest(raw, r.cfg.Limits.MaxChangedFiles, logger)
	r.metrics.Record(observability.Observation{
		Node:      "diff_parser",
		Duration:  time.Since(start),
		ErrorCode: errorCode(err),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("diff parsed", "files", len(parsed.Patches), "parse_errors", len(parsed.FileErrors))
	return parsed, nil
}

func (r *Runner) seedStage(parsed *diff.ParseResult, snip *snippet.Extractor, repoCfg *core.RepoConfig, logger *slog.Logger) model.SeedSetS0 {
	start := time.Now()

	patches := make([]model.PRFilePatch, 0, len(parsed.Patches))
	for i := range parsed.Patches {
		if repoCfg.Excludes(parsed.Patches[i].FilePath) {
			continue
		}
		patches = append(patches, parsed.Patches[i])
	}

	fileSources := map[string][]string{}
	for i := range patches {
		p := &patches[i]
		if p.IsBinary || len(p.Hunks) == 0 {
			continue
		}
		if lines, ok := snip.Lines(p.FilePath); ok {
			fileSources[p.FilePath] = lines
		}
	}

	s0 := seed.Extract(patches, fileSources, seed.GoRegexExtractor{}, seed.Limits{
		MaxSeedSymbols: r.cfg.Limits.MaxSeedSymbols,
		MaxSeedFiles:   r.cfg.Limits.MaxSeedFiles,
	})
	r.metrics.Record(observability.Observation{Node: "seed_extractor", Duration: time.Since(start)})
	logger.Info("seed set extracted", "symbols", len(s0.Symbols), "files", len(s0.Files), "truncated", s0.SeedTruncated)
	return s0
}

func (r *Runner) retrieveStage(ctx context.Context, req *model.PRReviewRequest, s0 model.SeedSetS0, logger *slog.Logger) *model.KGCandidateResult {
	start := time.Now()
	result := r.retriever.Retrieve(ctx, req.InternalRepoID, s0)
	errCode := ""
	if len(result.Warnings) > 0 {
		errCode = "KGDegraded"
	}
	r.metrics.Record(observability.Observation{
		Node:        "kg_retriever",
		Duration:    time.Since(start),
		OutputBytes: len(result.Candidates),
		ErrorCode:   errCode,
	})
	logger.Info("kg candidates retrieved",
		"candidates", len(result.Candidates),
		"kg_commit_sha", result.KGCommitSHA,
		"warnings", result.Warnings)
	return result
}

// prewarmSnippets loads each candidate file into the snippet cache, in
// parallel bounded by max_parallel_snippet_files. Each distinct path is
// submitted once, so no two goroutines here load the same file; the cache
// does not by itself serialize concurrent first loads of one path.
func (r *Runner) prewarmSnippets(candidates []model.KGCandidate, snip *snippet.Extractor) {
	unique := map[string]struct{}{}
	for _, c := range candidates {
		if c.RelativePath != "" && c.Text == "" {
			unique[c.RelativePath] = struct{}{}
		}
	}

	var g errgroup.Group
	limit := r.cfg.Parallelism.MaxParallelSnippetFiles
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for path := range unique {
		g.Go(func() error {
			snip.Lines(path)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) packStage(candidates *model.KGCandidateResult, parsed *diff.ParseResult, snip *snippet.Extractor, warnings []string, logger *slog.Logger) model.ContextPack {
	start := time.Now()
	r.prewarmSnippets(candidates.Candidates, snip)
	pack := contextpack.Build(candidates.Candidates, parsed.Mappings, snip, contextpack.Limits{
		MaxContextItems:    r.cfg.Limits.MaxContextItems,
		MaxTotalCharacters: r.cfg.Limits.MaxTotalCharacters,
		MaxItemCharacters:  r.cfg.Limits.MaxItemCharacters,
	}, candidates.KGCommitSHA, warnings)
	r.metrics.Record(observability.Observation{
		Node:        "context_packer",
		Duration:    time.Since(start),
		OutputBytes: pack.Stats.TotalCharacters,
	})
	logger.Info("context pack built",
		"items", len(pack.Items),
		"characters", pack.Stats.TotalCharacters,
		"dropped_oversize", pack.Stats.DroppedOversize)
	return pack
}

func (r *Runner) generateStage(ctx context.Context, req *model.PRReviewRequest, parsed *diff.ParseResult, pack *model.ContextPack, instructions []string, logger *slog.Logger) (*model.LLMReviewOutput, []string, error) {
	start := time.Now()

	system, user, err := r.prompts.BuildReviewPrompt(
		llm.ModelProvider(r.cfg.Pipeline.ModelProvider),
		req.RepoOwner+"/"+req.RepoName,
		req.PRNumber,
		req.HeadSHA,
		parsed.Patches,
		pack,
		r.cfg.Limits.MaxFindings,
		instructions,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build review prompt: %w", err)
	}
	logger.Info("prompt built", "prompt_tokens_estimate", llm.EstimatePromptTokens(system+user))

	genRes, err := r.generator.Generate(ctx, system, user)
	errCode := ""
	if err != nil {
		errCode = errorCode(err)
	}
	r.metrics.Record(observability.Observation{
		Node:       "llm_generator",
		Duration:   time.Since(start),
		InputBytes: len(system) + len(user),
		ErrorCode:  errCode,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("review generated",
		"findings", genRes.Output.TotalFindings,
		"high_confidence", genRes.Output.HighConfidenceFindings,
		"input_tokens", genRes.Usage.InputTokens,
		"output_tokens", genRes.Usage.OutputTokens)
	return &genRes.Output, genRes.Warnings, nil
}

func changeTypeFromStatus(status string) model.ChangeType {
	switch status {
	case "added":
		return model.ChangeAdded
	case "removed":
		return model.ChangeDeleted
	case "renamed":
		return model.ChangeRenamed
	default:
		return model.ChangeModified
	}
}

// isBinaryListing decides whether a file-list entry is binary: GitHub omits
// the patch for binaries, and known-binary extensions confirm it.
func isBinaryListing(f github.PRFile) bool {
	if f.Patch != "" {
		return false
	}
	if diff.IsCodeBinaryExtension(filepath.Ext(f.Filename)) {
		return true
	}
	// No patch, content changed: too large or binary, treat as binary either
	// way.
	return f.Additions+f.Deletions > 0
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var pe *pipelineerr.Error
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	return "internal"
}
