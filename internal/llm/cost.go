package llm

import (
	"strings"
	"sync"

	"github.com/sevigo/reviewcore/internal/observability"
)

// modelPricing is USD per one million tokens. Unknown models record usage
// with zero cost; the tracker still counts their tokens.
type modelPricing struct {
	inputPerMTok  float64
	outputPerMTok float64
}

var pricingTable = map[string]modelPricing{
	"gemini-2.0-flash": {inputPerMTok: 0.10, outputPerMTok: 0.40},
	"gemini-2.5-flash": {inputPerMTok: 0.30, outputPerMTok: 2.50},
	"gemini-2.5-pro":   {inputPerMTok: 1.25, outputPerMTok: 10.00},
	"gemini-1.5-pro":   {inputPerMTok: 1.25, outputPerMTok: 5.00},
}

// CostTracker accumulates token usage and a locally computed cost estimate
// across the lifetime of the process, and pushes every call's usage into the
// shared metrics collector. It is safe for concurrent use.
type CostTracker struct {
	metrics *observability.Metrics

	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	costUSD      float64
}

// NewCostTracker returns an empty tracker. metrics may be nil; totals are
// then only available through Totals.
func NewCostTracker(metrics *observability.Metrics) *CostTracker {
	return &CostTracker{metrics: metrics}
}

// Record adds one call's usage. Local models (ollama/*) always price at zero.
func (t *CostTracker) Record(modelName string, usage Usage) {
	price := lookupPricing(modelName)
	callCost := float64(usage.InputTokens)/1e6*price.inputPerMTok +
		float64(usage.OutputTokens)/1e6*price.outputPerMTok

	t.mu.Lock()
	t.inputTokens += int64(usage.InputTokens)
	t.outputTokens += int64(usage.OutputTokens)
	t.costUSD += callCost
	t.mu.Unlock()

	t.metrics.RecordLLMUsage(modelName, usage.InputTokens, usage.OutputTokens, callCost)
}

// Totals returns accumulated input tokens, output tokens, and estimated USD.
func (t *CostTracker) Totals() (inputTokens, outputTokens int64, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTokens, t.outputTokens, t.costUSD
}

func lookupPricing(modelName string) modelPricing {
	name := strings.ToLower(modelName)
	if price, ok := pricingTable[name]; ok {
		return price
	}
	// Versioned names like gemini-2.5-pro-preview-05-06 fall back to their
	// base model's pricing.
	for base, price := range pricingTable {
		if strings.HasPrefix(name, base) {
			return price
		}
	}
	return modelPricing{}
}
