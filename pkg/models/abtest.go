package models

import "time"

// A/B test lifecycle states.
const (
	ABTestStatusActive   = "active"
	ABTestStatusPaused   = "paused"
	ABTestStatusComplete = "complete"
)

// Variant is one arm of an experiment with its traffic allocation weight.
// Weights are relative; they need not sum to 1.
type Variant struct {
	Name   string  `json:"name" binding:"required"`
	Weight float64 `json:"weight"`
}

// OutcomeAggregate accumulates one metric for one variant.
type OutcomeAggregate struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
}

// Mean returns the per-observation average, 0 when empty.
func (a OutcomeAggregate) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// VariantMetrics holds the collected aggregates for one variant.
type VariantMetrics struct {
	Assignments int64                       `json:"assignments"`
	Outcomes    map[string]OutcomeAggregate `json:"outcomes"`
}

// ABTest is an operator-defined experiment. Never silently deleted.
type ABTest struct {
	Name      string                     `json:"name" binding:"required"`
	Variants  []Variant                  `json:"variants" binding:"required,min=1"`
	Status    string                     `json:"status"`
	CreatedAt time.Time                  `json:"created_at"`
	Metrics   map[string]*VariantMetrics `json:"metrics,omitempty"`
}

// ABTestResults is the per-variant aggregate view returned to operators.
type ABTestResults struct {
	Name     string                     `json:"name"`
	Status   string                     `json:"status"`
	Variants map[string]*VariantMetrics `json:"variants"`
}
