package llm

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sevigo/reviewcore/internal/observability"
)

func TestCostTracker_RecordAccumulates(t *testing.T) {
	tracker := NewCostTracker(nil)

	tracker.Record("gemini-2.5-pro", Usage{InputTokens: 1_000_000, OutputTokens: 100_000})
	tracker.Record("gemini-2.5-pro", Usage{InputTokens: 500_000, OutputTokens: 0})

	in, out, cost := tracker.Totals()
	assert.Equal(t, int64(1_500_000), in)
	assert.Equal(t, int64(100_000), out)
	// 1.5M input at $1.25/M plus 0.1M output at $10/M.
	assert.InDelta(t, 1.875+1.0, cost, 1e-9)
}

func TestCostTracker_UnknownModelCostsZero(t *testing.T) {
	tracker := NewCostTracker(nil)
	tracker.Record("qwen2.5-coder:14b", Usage{InputTokens: 1000, OutputTokens: 1000})

	in, out, cost := tracker.Totals()
	assert.Equal(t, int64(1000), in)
	assert.Equal(t, int64(1000), out)
	assert.Zero(t, cost)
}

func TestCostTracker_VersionedModelFallsBackToBasePricing(t *testing.T) {
	tracker := NewCostTracker(nil)
	tracker.Record("gemini-2.0-flash-001", Usage{InputTokens: 1_000_000})

	_, _, cost := tracker.Totals()
	assert.InDelta(t, 0.10, cost, 1e-9)
}

func TestCostTracker_PushesMetrics(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	tracker := NewCostTracker(metrics)

	tracker.Record("gemini-2.5-pro", Usage{InputTokens: 2_000_000, OutputTokens: 1_000_000})

	assert.Equal(t, float64(2_000_000), testutil.ToFloat64(metrics.LLMTokensTotal.WithLabelValues("gemini-2.5-pro", "input")))
	assert.Equal(t, float64(1_000_000), testutil.ToFloat64(metrics.LLMTokensTotal.WithLabelValues("gemini-2.5-pro", "output")))
	assert.InDelta(t, 2.5+10.0, testutil.ToFloat64(metrics.LLMCostUSD.WithLabelValues("gemini-2.5-pro")), 1e-9)
}
