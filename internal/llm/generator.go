package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/observability"
	"github.com/sevigo/reviewcore/internal/pipelineerr"
)

// GeneratorConfig carries the model selection and retry knobs for one
// generator instance.
type GeneratorConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	MaxFindings int
}

// schema maxima beyond MaxFindings.
const (
	maxPatterns        = 5
	maxRecommendations = 3
	maxCodeExamples    = 3
	maxTitleLength     = 255
	minSummaryLength   = 20
	highConfidence     = 0.7
)

// Generator drives the completion endpoint and normalizes its output to the
// internal finding schema. Calls are strictly sequential per run; schema
// failures are retried with a compact error digest appended to the prompt,
// and the final failure degrades to an empty findings list with a warning
// instead of aborting the run.
type Generator struct {
	completer Completer
	prompts   *PromptBuilder
	cfg       GeneratorConfig
	breaker   *observability.Breaker
	costs     *CostTracker
	logger    *slog.Logger
}

// NewGenerator constructs a Generator. breaker and costs may be shared across
// runs; the Generator itself is stateless between calls.
func NewGenerator(completer Completer, prompts *PromptBuilder, cfg GeneratorConfig, breaker *observability.Breaker, costs *CostTracker, logger *slog.Logger) *Generator {
	return &Generator{
		completer: completer,
		prompts:   prompts,
		cfg:       cfg,
		breaker:   breaker,
		costs:     costs,
		logger:    logger.With("component", "llm_generator"),
	}
}

// GenerateResult is what one Generate call returns: the normalized output
// plus warnings gathered along the way. Err-free even when the model never
// produced valid output — callers consult Warnings.
type GenerateResult struct {
	Output   model.LLMReviewOutput
	Warnings []string
	Usage    Usage
}

// Generate runs the review call with up to MaxRetries reprompts on schema
// failure.
func (g *Generator) Generate(ctx context.Context, system, user string) (*GenerateResult, error) {
	res := &GenerateResult{}

	prompt := user
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		completion, err := g.completer.Complete(ctx, CompletionRequest{
			Prompt:      prompt,
			System:      system,
			MaxTokens:   g.cfg.MaxTokens,
			Temperature: g.cfg.Temperature,
			Timeout:     g.cfg.Timeout,
		})
		if err != nil {
			g.breaker.Failure()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			g.logger.Warn("completion call failed", "attempt", attempt, "error", err)
			continue
		}
		g.breaker.Success()
		res.Usage.InputTokens += completion.Usage.InputTokens
		res.Usage.OutputTokens += completion.Usage.OutputTokens
		if g.costs != nil {
			g.costs.Record(completion.Model, completion.Usage)
		}

		output, violations := g.parseAndNormalize(completion.Content)
		if len(violations) == 0 {
			res.Output = *output
			return res, nil
		}

		lastErr = pipelineerr.LLMSchemaFailure(fmt.Errorf("%s", strings.Join(violations, "; ")))
		g.logger.Warn("model output failed schema validation", "attempt", attempt, "violations", violations)

		retryPrompt, perr := g.prompts.BuildRetryPrompt(ModelProvider(g.cfg.Provider), user, violations)
		if perr != nil {
			return nil, perr
		}
		prompt = retryPrompt
	}

	g.logger.Error("giving up on schema-valid model output", "error", lastErr)
	res.Output = model.LLMReviewOutput{ReviewTimestamp: time.Now().UTC()}
	res.Warnings = append(res.Warnings, "llm_schema_failure")
	return res, nil
}

// rawReviewOutput is the wire shape the model emits, before normalization.
type rawReviewOutput struct {
	Summary                string       `json:"summary"`
	Findings               []rawFinding `json:"findings"`
	Patterns               []string     `json:"patterns"`
	Recommendations        []string     `json:"recommendations"`
	TotalFindings          int          `json:"total_findings"`
	HighConfidenceFindings int          `json:"high_confidence_findings"`
}

type rawFinding struct {
	FindingID      string       `json:"finding_id"`
	Severity       string       `json:"severity"`
	Category       string       `json:"category"`
	Title          string       `json:"title"`
	Message        string       `json:"message"`
	SuggestedFix   string       `json:"suggested_fix"`
	FilePath       string       `json:"file_path"`
	HunkID         string       `json:"hunk_id"`
	Line           *int         `json:"line"`
	Confidence     float64      `json:"confidence"`
	Evidence       *rawEvidence `json:"evidence"`
	RelatedSymbols []string     `json:"related_symbols"`
	CodeExamples   []string     `json:"code_examples"`
}

type rawEvidence struct {
	ContextItemID    string `json:"context_item_id"`
	SnippetLineRange []int  `json:"snippet_line_range"`
}

// parseAndNormalize extracts JSON, coerces aliases, renumbers ids, recomputes
// counters, clips arrays, and validates. A non-empty violations slice means
// the attempt failed and should be retried.
func (g *Generator) parseAndNormalize(content string) (*model.LLMReviewOutput, []string) {
	jsonString, err := ExtractJSON(content)
	if err != nil {
		return nil, []string{err.Error()}
	}
	jsonString = RepairJSON(jsonString)

	var raw rawReviewOutput
	if err := json.Unmarshal([]byte(jsonString), &raw); err != nil {
		return nil, []string{fmt.Sprintf("invalid JSON: %v", err)}
	}

	var violations []string

	raw.Summary = strings.TrimSpace(raw.Summary)
	if len(raw.Summary) < minSummaryLength {
		violations = append(violations, fmt.Sprintf("summary must be at least %d characters", minSummaryLength))
	}

	if len(raw.Findings) > g.cfg.MaxFindings {
		raw.Findings = raw.Findings[:g.cfg.MaxFindings]
	}
	if len(raw.Patterns) > maxPatterns {
		raw.Patterns = raw.Patterns[:maxPatterns]
	}
	if len(raw.Recommendations) > maxRecommendations {
		raw.Recommendations = raw.Recommendations[:maxRecommendations]
	}

	out := &model.LLMReviewOutput{
		Summary:         raw.Summary,
		Patterns:        raw.Patterns,
		Recommendations: raw.Recommendations,
		ReviewTimestamp: time.Now().UTC(),
	}

	for i, rf := range raw.Findings {
		f, fviolations := normalizeFinding(rf, i+1)
		if len(fviolations) > 0 {
			violations = append(violations, fviolations...)
			continue
		}
		out.Findings = append(out.Findings, f)
	}

	// Renumbering already happened above; the counters are always recomputed
	// rather than trusted.
	out.TotalFindings = len(out.Findings)
	for _, f := range out.Findings {
		if f.Confidence >= highConfidence {
			out.HighConfidenceFindings++
		}
	}

	return out, violations
}

var severityAliases = map[string]model.Severity{
	"blocker":  model.SeverityBlocker,
	"critical": model.SeverityBlocker,
	"high":     model.SeverityHigh,
	"medium":   model.SeverityMedium,
	"low":      model.SeverityLow,
	"nit":      model.SeverityNit,
	"nitpick":  model.SeverityNit,
}

var categoryAliases = map[string]model.Category{
	"bug":             model.CategoryBug,
	"bugs":            model.CategoryBug,
	"correctness":     model.CategoryBug,
	"security":        model.CategorySecurity,
	"performance":     model.CategoryPerformance,
	"perf":            model.CategoryPerformance,
	"style":           model.CategoryStyle,
	"design":          model.CategoryDesign,
	"architecture":    model.CategoryDesign,
	"docs":            model.CategoryDocs,
	"documentation":   model.CategoryDocs,
	"observability":   model.CategoryObservability,
	"logging":         model.CategoryObservability,
	"maintainability": model.CategoryMaintainability,
}

// NormalizeSeverity coerces a model-emitted severity through the alias table.
// Unknown values pass through as-is; the storage layer upper-cases them.
func NormalizeSeverity(s string) model.Severity {
	if sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return sev
	}
	return model.Severity(strings.TrimSpace(s))
}

// NormalizeCategory coerces a model-emitted category through the alias table.
func NormalizeCategory(c string) model.Category {
	if cat, ok := categoryAliases[strings.ToLower(strings.TrimSpace(c))]; ok {
		return cat
	}
	return model.Category(strings.TrimSpace(c))
}

func normalizeFinding(rf rawFinding, seq int) (model.Finding, []string) {
	var violations []string

	title := strings.TrimSpace(rf.Title)
	if title == "" {
		violations = append(violations, fmt.Sprintf("finding %d: title must not be empty", seq))
	}
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	message := strings.TrimSpace(rf.Message)
	if len(message) < 10 {
		violations = append(violations, fmt.Sprintf("finding %d: message must be at least 10 characters", seq))
	}
	fix := strings.TrimSpace(rf.SuggestedFix)
	if len(fix) < 10 {
		violations = append(violations, fmt.Sprintf("finding %d: suggested_fix must be at least 10 characters", seq))
	}
	if rf.FilePath == "" {
		violations = append(violations, fmt.Sprintf("finding %d: file_path must not be empty", seq))
	}
	confidence := rf.Confidence
	if confidence < 0 || confidence > 1 {
		violations = append(violations, fmt.Sprintf("finding %d: confidence must be within [0,1]", seq))
	}
	if len(violations) > 0 {
		return model.Finding{}, violations
	}

	examples := rf.CodeExamples
	if len(examples) > maxCodeExamples {
		examples = examples[:maxCodeExamples]
	}

	f := model.Finding{
		FindingID:      fmt.Sprintf("finding_%d", seq),
		Severity:       NormalizeSeverity(rf.Severity),
		Category:       NormalizeCategory(rf.Category),
		Title:          title,
		Message:        message,
		SuggestedFix:   fix,
		FilePath:       rf.FilePath,
		HunkIDHint:     rf.HunkID,
		LineHint:       rf.Line,
		Confidence:     confidence,
		RelatedSymbols: rf.RelatedSymbols,
		CodeExamples:   examples,
	}
	if rf.Evidence != nil && rf.Evidence.ContextItemID != "" && len(rf.Evidence.SnippetLineRange) == 2 {
		f.Evidence = &model.Evidence{
			ContextItemID:    rf.Evidence.ContextItemID,
			SnippetLineRange: [2]int{rf.Evidence.SnippetLineRange[0], rf.Evidence.SnippetLineRange[1]},
		}
	}
	return f, nil
}
