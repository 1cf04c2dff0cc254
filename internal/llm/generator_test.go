package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/observability"
)

// scriptedCompleter returns each response in order, then repeats the last.
type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedCompleter) Complete(_ context.Context, _ CompletionRequest) (CompletionResult, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return CompletionResult{}, s.errs[i]
	}
	return CompletionResult{
		Content: s.responses[i],
		Model:   "test-model",
		Usage:   Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func newTestGenerator(t *testing.T, completer Completer, maxRetries int) *Generator {
	t.Helper()
	prompts, err := NewPromptBuilder()
	require.NoError(t, err)
	breaker := observability.NewBreaker("llm", 5, time.Second, nil)
	return NewGenerator(completer, prompts, GeneratorConfig{
		Provider:    "ollama",
		Model:       "test-model",
		MaxTokens:   1024,
		MaxRetries:  maxRetries,
		MaxFindings: 20,
	}, breaker, NewCostTracker(nil), slog.New(slog.DiscardHandler))
}

const validReviewJSON = `{
	"summary": "The change looks reasonable but has one bug worth fixing.",
	"findings": [
		{
			"finding_id": "finding_3",
			"severity": "critical",
			"category": "bugs",
			"title": "Nil map write",
			"message": "The cache map is written before initialization.",
			"suggested_fix": "Initialize the map in the constructor before first use.",
			"file_path": "internal/cache/cache.go",
			"hunk_id": "internal/cache/cache.go:h1:10:10",
			"confidence": 0.9
		},
		{
			"finding_id": "finding_7",
			"severity": "nitpick",
			"category": "style",
			"title": "Inconsistent naming",
			"message": "The receiver name differs from the rest of the file.",
			"suggested_fix": "Rename the receiver to match the existing convention.",
			"file_path": "internal/cache/cache.go",
			"confidence": 0.4
		}
	],
	"total_findings": 99,
	"high_confidence_findings": 99
}`

func TestGenerate_NormalizesOutput(t *testing.T) {
	gen := newTestGenerator(t, &scriptedCompleter{responses: []string{validReviewJSON}}, 0)

	res, err := gen.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	require.Empty(t, res.Warnings)

	out := res.Output
	require.Len(t, out.Findings, 2)

	// Non-sequential ids are renumbered preserving order.
	assert.Equal(t, "finding_1", out.Findings[0].FindingID)
	assert.Equal(t, "finding_2", out.Findings[1].FindingID)

	// Aliases coerced.
	assert.Equal(t, model.SeverityBlocker, out.Findings[0].Severity)
	assert.Equal(t, model.CategoryBug, out.Findings[0].Category)
	assert.Equal(t, model.SeverityNit, out.Findings[1].Severity)

	// Counters recomputed, never trusted.
	assert.Equal(t, 2, out.TotalFindings)
	assert.Equal(t, 1, out.HighConfidenceFindings)
}

func TestGenerate_RetriesOnSchemaFailure(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		`{"summary": "too short"}`,
		validReviewJSON,
	}}
	gen := newTestGenerator(t, completer, 2)

	res, err := gen.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, 2, completer.calls)
	assert.Empty(t, res.Warnings)
	assert.Len(t, res.Output.Findings, 2)
}

func TestGenerate_FinalFailureDegrades(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"not json at all"}}
	gen := newTestGenerator(t, completer, 1)

	res, err := gen.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "llm_schema_failure")
	assert.Empty(t, res.Output.Findings)
	assert.Equal(t, 2, completer.calls)
}

func TestGenerate_CompleterErrorRetried(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{"", validReviewJSON},
		errs:      []error{errors.New("connection refused"), nil},
	}
	gen := newTestGenerator(t, completer, 1)

	res, err := gen.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Len(t, res.Output.Findings, 2)
}

func TestGenerate_ClipsArraysToSchemaMaxima(t *testing.T) {
	out, violations := newTestGenerator(t, &scriptedCompleter{responses: []string{""}}, 0).
		parseAndNormalize(`{
			"summary": "A summary that is definitely long enough to pass validation.",
			"findings": [],
			"patterns": ["a", "b", "c", "d", "e", "f", "g"],
			"recommendations": ["1", "2", "3", "4", "5"]
		}`)
	require.Empty(t, violations)
	assert.Len(t, out.Patterns, 5)
	assert.Len(t, out.Recommendations, 3)
}

func TestNormalizeSeverity_UnknownPassesThrough(t *testing.T) {
	assert.Equal(t, model.Severity("Catastrophic"), NormalizeSeverity("Catastrophic"))
	assert.Equal(t, model.SeverityBlocker, NormalizeSeverity("BLOCKER"))
	assert.Equal(t, model.SeverityNit, NormalizeSeverity("nitpick"))
}
