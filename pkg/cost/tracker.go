// Package cost tracks per-tier token usage and estimated spend across model
// calls, and estimates what the same work would have cost had every call
// gone to the most expensive tier.
package cost

import (
	"strings"
	"sync"
)

// Tier names the routing class a usage event was billed under. Callers are
// free to use other tier names; Smart and Eco are the two the default
// pricing function and savings calculation assume.
type Tier string

const (
	TierSmart Tier = "smart"
	TierEco   Tier = "eco"
)

// Usage is the token count for one model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// TierMetrics accumulates usage and spend for one tier.
type TierMetrics struct {
	RequestCount uint64  `json:"request_count"`
	InputTokens  uint64  `json:"input_tokens"`
	OutputTokens uint64  `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Metrics is a point-in-time snapshot across every tier seen so far.
type Metrics struct {
	Tiers       map[Tier]TierMetrics `json:"tiers"`
	TotalCost   float64              `json:"total_cost"`
	TotalTokens uint64               `json:"total_tokens"`
}

// SavingsVsAllSmart estimates the USD saved (or overspent, if negative) by
// routing some calls to cheaper tiers instead of sending every call at the
// given Smart-tier per-1M-token prices.
func (m Metrics) SavingsVsAllSmart(smartInputPer1M, smartOutputPer1M float64) float64 {
	var inputTokens, outputTokens uint64
	for _, tm := range m.Tiers {
		inputTokens += tm.InputTokens
		outputTokens += tm.OutputTokens
	}
	allSmartCost := (float64(inputTokens)/1_000_000)*smartInputPer1M + (float64(outputTokens)/1_000_000)*smartOutputPer1M
	return allSmartCost - m.TotalCost
}

// PricingFunc looks up the per-1M-token input and output price for a model
// id. Implementations should fall back to a conservative default for
// unrecognized ids rather than erroring.
type PricingFunc func(modelID string) (inputPer1M, outputPer1M float64)

// DefaultPricing maps common model name fragments to approximate per-1M
// public list prices, in USD, falling back to a mid-range estimate for
// anything unrecognized.
func DefaultPricing(modelID string) (float64, float64) {
	lower := strings.ToLower(modelID)

	switch {
	case strings.Contains(lower, "sonnet"), strings.Contains(lower, "opus"),
		strings.Contains(lower, "gpt-4"), strings.Contains(lower, "gpt-5"),
		strings.Contains(lower, "o1"), strings.Contains(lower, "o3"):
		return 3.0, 15.0
	case strings.Contains(lower, "haiku"), strings.Contains(lower, "mini"),
		strings.Contains(lower, "flash"), strings.Contains(lower, "gpt-3.5"):
		return 0.25, 1.25
	default:
		return 1.0, 2.0
	}
}

// Tracker accumulates per-tier usage and spend across concurrent callers.
type Tracker struct {
	mu      sync.RWMutex
	tiers   map[Tier]*TierMetrics
	pricing PricingFunc
}

// New builds a Tracker using DefaultPricing.
func New() *Tracker {
	return WithPricing(DefaultPricing)
}

// WithPricing builds a Tracker using a custom pricing function.
func WithPricing(pricing PricingFunc) *Tracker {
	return &Tracker{
		tiers:   make(map[Tier]*TierMetrics),
		pricing: pricing,
	}
}

// TrackUsage records one usage event against tier, pricing it by modelID.
func (t *Tracker) TrackUsage(tier Tier, usage Usage, modelID string) {
	inputPrice, outputPrice := t.pricing(modelID)
	inputTokens := uint64(usage.PromptTokens)
	outputTokens := uint64(usage.CompletionTokens)
	eventCost := (float64(inputTokens)/1_000_000)*inputPrice + (float64(outputTokens)/1_000_000)*outputPrice

	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.tiers[tier]
	if !ok {
		m = &TierMetrics{}
		t.tiers[tier] = m
	}
	m.RequestCount++
	m.InputTokens += inputTokens
	m.OutputTokens += outputTokens
	m.Cost += eventCost
}

// Metrics returns a consistent snapshot of every tier tracked so far.
func (t *Tracker) Metrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tiers := make(map[Tier]TierMetrics, len(t.tiers))
	var totalCost float64
	var totalTokens uint64
	for tier, m := range t.tiers {
		tiers[tier] = *m
		totalCost += m.Cost
		totalTokens += m.InputTokens + m.OutputTokens
	}
	return Metrics{Tiers: tiers, TotalCost: totalCost, TotalTokens: totalTokens}
}

// Reset zeroes every tier's metrics.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiers = make(map[Tier]*TierMetrics)
}
