// Package observability provides per-node metrics and a per-external-
// dependency circuit breaker. Metrics are exposed as Prometheus
// counter/gauge/histogram primitives with labelled tags.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide collector injected into every stage. It is
// explicitly constructed, never a hidden global registry.
type Metrics struct {
	NodeDuration    *prometheus.HistogramVec
	NodeInputBytes  *prometheus.HistogramVec
	NodeOutputBytes *prometheus.HistogramVec
	NodeRetries     *prometheus.CounterVec
	NodeTimeouts    *prometheus.CounterVec
	NodeErrors      *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	KGQueryDuration *prometheus.HistogramVec
	KGCapHits       *prometheus.CounterVec
	LLMTokensTotal  *prometheus.CounterVec
	LLMCostUSD      *prometheus.CounterVec

	mu      sync.Mutex
	rings   map[string]*outcomeRing
	ringCap int
}

// outcomeRing is a node's last_n ring of outcomes.
type outcomeRing struct {
	outcomes []bool
	next     int
	filled   bool
}

func newOutcomeRing(capacity int) *outcomeRing {
	if capacity <= 0 {
		capacity = 20
	}
	return &outcomeRing{outcomes: make([]bool, capacity)}
}

func (r *outcomeRing) record(success bool) {
	r.outcomes[r.next] = success
	r.next = (r.next + 1) % len(r.outcomes)
	if r.next == 0 {
		r.filled = true
	}
}

func (r *outcomeRing) successRate() float64 {
	n := len(r.outcomes)
	if !r.filled {
		n = r.next
	}
	if n == 0 {
		return 1
	}
	ok := 0
	for i := 0; i < n; i++ {
		if r.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

// NewMetrics registers every metric primitive on reg. Call once per process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reviewcore",
			Name:      "node_duration_seconds",
			Help:      "Execution time of a pipeline node.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		NodeInputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reviewcore",
			Name:      "node_input_bytes",
			Help:      "Input byte size of a pipeline node invocation.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"node"}),
		NodeOutputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reviewcore",
			Name:      "node_output_bytes",
			Help:      "Output byte size of a pipeline node invocation.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"node"}),
		NodeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewcore",
			Name:      "node_retries_total",
			Help:      "Retries performed by a pipeline node.",
		}, []string{"node"}),
		NodeTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewcore",
			Name:      "node_timeouts_total",
			Help:      "Timeout occurrences in a pipeline node.",
		}, []string{"node"}),
		NodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewcore",
			Name:      "node_errors_total",
			Help:      "Errors raised by a pipeline node, labelled by error class.",
		}, []string{"node", "code"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reviewcore",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per dependency: 0=closed, 1=open, 2=half_open.",
		}, []string{"dependency"}),
		KGQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reviewcore",
			Name:      "kg_query_duration_seconds",
			Help:      "Latency of one knowledge-graph query, labelled by query name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		KGCapHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewcore",
			Name:      "kg_cap_hits_total",
			Help:      "Times a retrieval step filled its configured cap, labelled by cap name.",
		}, []string{"cap"}),
		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewcore",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by completion calls, labelled by model and direction.",
		}, []string{"model", "direction"}),
		LLMCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewcore",
			Name:      "llm_cost_usd_total",
			Help:      "Locally estimated completion cost in USD, labelled by model.",
		}, []string{"model"}),
		rings:   map[string]*outcomeRing{},
		ringCap: 20,
	}
	if reg != nil {
		reg.MustRegister(m.NodeDuration, m.NodeInputBytes, m.NodeOutputBytes, m.NodeRetries, m.NodeTimeouts, m.NodeErrors, m.BreakerState,
			m.KGQueryDuration, m.KGCapHits, m.LLMTokensTotal, m.LLMCostUSD)
	}
	return m
}

// ObserveKGQuery records one knowledge-graph query's latency. Safe on a nil
// receiver so collaborators constructed without metrics stay cheap.
func (m *Metrics) ObserveKGQuery(query string, d time.Duration) {
	if m == nil {
		return
	}
	m.KGQueryDuration.WithLabelValues(query).Observe(d.Seconds())
}

// CapHit counts a retrieval step that filled its configured cap. Safe on a
// nil receiver.
func (m *Metrics) CapHit(capName string) {
	if m == nil {
		return
	}
	m.KGCapHits.WithLabelValues(capName).Inc()
}

// RecordLLMUsage accumulates token counts and the locally estimated cost of
// one completion call. Safe on a nil receiver.
func (m *Metrics) RecordLLMUsage(model string, inputTokens, outputTokens int, costUSD float64) {
	if m == nil {
		return
	}
	m.LLMTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.LLMTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	m.LLMCostUSD.WithLabelValues(model).Add(costUSD)
}

// Observation is one node execution's recorded outcome, passed to Record.
type Observation struct {
	Node        string
	Duration    time.Duration
	InputBytes  int
	OutputBytes int
	Retries     int
	TimedOut    bool
	ErrorCode   string // empty on success
}

// Record writes one node execution's outcome to every relevant metric and
// the node's last_n outcome ring.
func (m *Metrics) Record(obs Observation) {
	m.NodeDuration.WithLabelValues(obs.Node).Observe(obs.Duration.Seconds())
	m.NodeInputBytes.WithLabelValues(obs.Node).Observe(float64(obs.InputBytes))
	m.NodeOutputBytes.WithLabelValues(obs.Node).Observe(float64(obs.OutputBytes))
	if obs.Retries > 0 {
		m.NodeRetries.WithLabelValues(obs.Node).Add(float64(obs.Retries))
	}
	if obs.TimedOut {
		m.NodeTimeouts.WithLabelValues(obs.Node).Inc()
	}
	if obs.ErrorCode != "" {
		m.NodeErrors.WithLabelValues(obs.Node, obs.ErrorCode).Inc()
	}

	m.mu.Lock()
	ring, ok := m.rings[obs.Node]
	if !ok {
		ring = newOutcomeRing(m.ringCap)
		m.rings[obs.Node] = ring
	}
	ring.record(obs.ErrorCode == "")
	m.mu.Unlock()
}

// SuccessRate returns the success rate over node's last_n ring, defaulting
// to 1 (healthy) for a node that has never recorded an outcome.
func (m *Metrics) SuccessRate(node string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring, ok := m.rings[node]
	if !ok {
		return 1
	}
	return ring.successRate()
}
