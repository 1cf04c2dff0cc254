package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghapi "github.com/google/go-github/v73/github"

	"github.com/sevigo/reviewcore/internal/config"
	"github.com/sevigo/reviewcore/internal/github"
	"github.com/sevigo/reviewcore/internal/gitutil"
	"github.com/sevigo/reviewcore/internal/kg"
	"github.com/sevigo/reviewcore/internal/llm"
	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/observability"
	"github.com/sevigo/reviewcore/internal/pipelineerr"
	"github.com/sevigo/reviewcore/internal/storage"
)

// ---- fakes ----

type fakeStore struct {
	storage.Store
	runs        map[string]*storage.ReviewRun
	finished    map[string]string // run id -> status
	findings    []storage.ReviewFinding
	published   bool
	unpublished bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]*storage.ReviewRun{}, finished: map[string]string{}}
}

func (f *fakeStore) CreateReviewRun(_ context.Context, run *storage.ReviewRun) error {
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) FinishReviewRun(_ context.Context, runID, status, _, _ string) error {
	f.finished[runID] = status
	return nil
}

func (f *fakeStore) MarkReviewRunPublished(context.Context, string, int64) error {
	f.published = true
	return nil
}

func (f *fakeStore) MarkReviewRunUnpublished(context.Context, string, string) error {
	f.unpublished = true
	return nil
}

func (f *fakeStore) SaveFindings(_ context.Context, _ string, findings []storage.ReviewFinding) error {
	f.findings = append(f.findings, findings...)
	return nil
}

type fakeGH struct {
	files   []github.PRFile
	reviews int
}

func (f *fakeGH) GetPullRequest(context.Context, string, string, int) (*ghapi.PullRequest, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGH) ListPullRequestFiles(context.Context, string, string, int) ([]github.PRFile, error) {
	return f.files, nil
}

func (f *fakeGH) CreateReview(context.Context, string, string, int, string, []github.DraftReviewComment) (int64, error) {
	f.reviews++
	return 555, nil
}

func (f *fakeGH) CreateComment(context.Context, string, string, int, string) error {
	return nil
}

type fakeClones struct {
	dir string
}

func (f *fakeClones) AcquireRunClone(context.Context, string, string, string, bool) (*gitutil.RunClone, error) {
	return gitutil.NewRunClone(f.dir, nil), nil
}

type fakeQueries struct {
	commitSHA string
	docs      []kg.DocRow
}

func (f *fakeQueries) FindSymbol(context.Context, string, string, string, string, string, string, int) ([]kg.SymbolRow, error) {
	return nil, nil
}

func (f *fakeQueries) FindSymbolBatch(context.Context, []kg.SymbolMatchRequest, int) (map[int][]kg.SymbolRow, error) {
	return nil, nil
}

func (f *fakeQueries) ExpandSymbolNeighbors(context.Context, string, string, []kg.RelType, kg.Direction, int) ([]kg.SymbolRow, error) {
	return nil, nil
}

func (f *fakeQueries) GetImportNeighborhood(context.Context, string, string, kg.Direction, int) ([]kg.FileRow, error) {
	return nil, nil
}

func (f *fakeQueries) GetTextNodes(context.Context, string, string, int) ([]kg.DocRow, error) {
	return f.docs, nil
}

func (f *fakeQueries) GetRepoCommitSHA(context.Context, string) (string, bool, error) {
	if f.commitSHA == "" {
		return "", false, nil
	}
	return f.commitSHA, true, nil
}

type cannedCompleter struct {
	content string
}

func (c *cannedCompleter) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResult, error) {
	return llm.CompletionResult{Content: c.content, Model: "test"}, nil
}

// ---- harness ----

const (
	headSHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	baseSHA = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func testConfig() *config.Config {
	return &config.Config{
		Limits: config.LimitsConfig{
			MaxChangedFiles:           50,
			MaxSeedSymbols:            40,
			MaxSeedFiles:              30,
			MaxKGSymbolMatchesPerSeed: 5,
			MaxCallersPerSeed:         8,
			MaxCalleesPerSeed:         8,
			MaxContainsPerSeed:        8,
			MaxImportFilesPerSeedFile: 10,
			MaxKGDocsTotal:            10,
			MaxContextItems:           40,
			MaxTotalCharacters:        60000,
			MaxItemCharacters:         4000,
			MaxFindings:               20,
			MaxFileSizeBytes:          2 << 20,
			MaxLineLength:             2000,
		},
		Timeouts: config.TimeoutsConfig{
			GitHubAPITimeout: 30_000_000_000,
			CloneTimeout:     30_000_000_000,
			LLMTimeout:       30_000_000_000,
		},
		Parallelism: config.ParallelismConfig{MaxParallelKGCalls: 2, MaxParallelSnippetFiles: 2},
		Pipeline: config.PipelineConfig{
			ModelProvider: "ollama",
			ModelName:     "test",
			MaxRetries:    1,
		},
	}
}

func testRunner(t *testing.T, cfg *config.Config, store *fakeStore, queries kg.QueryService, cloneDir string, llmContent string) *Runner {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	prompts, err := llm.NewPromptBuilder()
	require.NoError(t, err)
	metrics := observability.NewMetrics(nil)
	retriever := kg.NewRetriever(queries, kg.RetrieverLimits{
		MaxSymbolMatchesPerSeed:   cfg.Limits.MaxKGSymbolMatchesPerSeed,
		MaxCallersPerSeed:         cfg.Limits.MaxCallersPerSeed,
		MaxCalleesPerSeed:         cfg.Limits.MaxCalleesPerSeed,
		MaxContainsPerSeed:        cfg.Limits.MaxContainsPerSeed,
		MaxImportFilesPerSeedFile: cfg.Limits.MaxImportFilesPerSeedFile,
		MaxKGDocsTotal:            cfg.Limits.MaxKGDocsTotal,
		MaxParallelKGCalls:        cfg.Parallelism.MaxParallelKGCalls,
	}, metrics, logger)

	breaker := observability.NewBreaker("llm", 5, 0, nil)
	generator := llm.NewGenerator(&cannedCompleter{content: llmContent}, prompts, llm.GeneratorConfig{
		Provider:    "ollama",
		Model:       "test",
		MaxRetries:  cfg.Pipeline.MaxRetries,
		MaxFindings: cfg.Limits.MaxFindings,
	}, breaker, llm.NewCostTracker(nil), logger)

	return NewRunner(cfg, store, &fakeClones{dir: cloneDir}, retriever, prompts, generator, metrics, logger)
}

func writeCloneFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func pyPatchFiles() []github.PRFile {
	patch := "@@ -1,2 +1,4 @@\n def test():\n-    return False\n+    # Updated\n+    result = calculate()\n+    return result"
	return []github.PRFile{{
		Filename:  "src/test.py",
		Status:    "modified",
		Patch:     patch,
		Additions: 3,
		Deletions: 1,
		Changes:   4,
	}}
}

func llmOutputFor(hunkID string) string {
	return fmt.Sprintf(`{
		"summary": "The calculation change introduces one potential issue.",
		"findings": [{
			"finding_id": "finding_1",
			"severity": "high",
			"category": "bug",
			"title": "Unchecked result",
			"message": "calculate() result is returned without validation.",
			"suggested_fix": "Validate the result before returning it to callers.",
			"file_path": "src/test.py",
			"hunk_id": "%s",
			"line": 3,
			"confidence": 0.8
		}]
	}`, hunkID)
}

func mustRequest(t *testing.T, head, base string) *model.PRReviewRequest {
	t.Helper()
	req, err := model.NewPRReviewRequest(1, "11111111-2222-3333-4444-555555555555", 99, "owner", "repo", 42, head, base)
	require.NoError(t, err)
	return req
}

// ---- scenarios ----

func TestRun_EmptyPRShortCircuits(t *testing.T) {
	store := newFakeStore()
	runner := testRunner(t, testConfig(), store, &fakeQueries{}, t.TempDir(), "{}")

	req := mustRequest(t, headSHA, headSHA)
	res, err := runner.Run(context.Background(), req, &fakeGH{}, "https://example.com/repo.git", "token")
	require.NoError(t, err)
	assert.True(t, res.ShortCircuit)
	assert.Equal(t, storage.RunStatusCompleted, store.finished[res.RunID])
}

func TestRun_PRTooLargeIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxChangedFiles = 2

	var files []github.PRFile
	for i := 0; i < 5; i++ {
		files = append(files, github.PRFile{Filename: fmt.Sprintf("f%d.py", i), Status: "modified", Patch: "@@ -1,1 +1,1 @@\n-a\n+b", Additions: 1, Deletions: 1, Changes: 2})
	}

	store := newFakeStore()
	runner := testRunner(t, cfg, store, &fakeQueries{}, t.TempDir(), "{}")

	req := mustRequest(t, headSHA, baseSHA)
	_, err := runner.Run(context.Background(), req, &fakeGH{files: files}, "https://example.com/repo.git", "token")
	require.Error(t, err)
	assert.True(t, pipelineerr.Is(err, pipelineerr.CodePRTooLarge))

	// Exactly one run row, finished as failed.
	require.Len(t, store.finished, 1)
	for _, status := range store.finished {
		assert.Equal(t, storage.RunStatusFailed, status)
	}
}

func TestRun_OnlyBinaryFilesIsNoParseable(t *testing.T) {
	store := newFakeStore()
	runner := testRunner(t, testConfig(), store, &fakeQueries{}, t.TempDir(), "{}")

	files := []github.PRFile{{Filename: "logo.png", Status: "added", Additions: 0, Deletions: 0, Changes: 0}}
	req := mustRequest(t, headSHA, baseSHA)
	_, err := runner.Run(context.Background(), req, &fakeGH{files: files}, "https://example.com/repo.git", "token")
	require.Error(t, err)
	assert.True(t, pipelineerr.Is(err, pipelineerr.CodeNoParseableFiles))
}

func TestRun_EndToEndWithDriftWarning(t *testing.T) {
	cloneDir := t.TempDir()
	writeCloneFile(t, cloneDir, "src/test.py", "def test():\n    # Updated\n    result = calculate()\n    return result\n")

	// The hunk id is derived from (path, ordinal, old_start, new_start).
	hunkID := "src/test.py:0:1:1"

	store := newFakeStore()
	gh := &fakeGH{files: pyPatchFiles()}
	queries := &fakeQueries{commitSHA: "cccccccccccccccccccccccccccccccccccccccc"}

	runner := testRunner(t, testConfig(), store, queries, cloneDir, llmOutputFor(hunkID))

	req := mustRequest(t, headSHA, baseSHA)
	res, err := runner.Run(context.Background(), req, gh, "https://example.com/repo.git", "token")
	require.NoError(t, err)

	// KG was built from an older commit: drift is a warning, never fatal.
	assert.Contains(t, res.Warnings, "kg_drift")

	require.Len(t, res.Findings, 1)
	assert.Equal(t, 1, res.Anchored)
	assert.Equal(t, 0, res.Unanchored)
	assert.True(t, res.Published)
	assert.Equal(t, 1, gh.reviews)
	assert.Equal(t, storage.RunStatusCompleted, store.finished[res.RunID])
	require.NotEmpty(t, store.findings)
	assert.Equal(t, "HIGH", store.findings[0].Severity)
}

func TestRun_DryRunSkipsPublish(t *testing.T) {
	cloneDir := t.TempDir()
	writeCloneFile(t, cloneDir, "src/test.py", "def test():\n    # Updated\n    result = calculate()\n    return result\n")

	cfg := testConfig()
	cfg.Pipeline.DryRun = true

	store := newFakeStore()
	gh := &fakeGH{files: pyPatchFiles()}
	runner := testRunner(t, cfg, store, &fakeQueries{}, cloneDir, llmOutputFor("src/test.py:0:1:1"))

	req := mustRequest(t, headSHA, baseSHA)
	res, err := runner.Run(context.Background(), req, gh, "https://example.com/repo.git", "token")
	require.NoError(t, err)

	assert.False(t, res.Published)
	assert.Zero(t, gh.reviews)
	assert.NotEmpty(t, store.findings, "dry run still persists findings")
}
