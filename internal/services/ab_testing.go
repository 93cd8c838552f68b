package services

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// ABTestManager owns experiment definitions, deterministic variant
// assignment, and outcome aggregation. Assignment is a pure function of
// (session id, test name), so no assignment state survives restarts and
// none is needed.
type ABTestManager struct {
	logger *logrus.Logger

	mu    sync.RWMutex
	tests map[string]*models.ABTest
}

func NewABTestManager(logger *logrus.Logger) *ABTestManager {
	return &ABTestManager{
		logger: logger,
		tests:  make(map[string]*models.ABTest),
	}
}

// Create registers a new experiment. Allocation weights must be
// non-negative and sum to a positive total.
func (m *ABTestManager) Create(test *models.ABTest) error {
	if test.Name == "" {
		return models.NewValidationError("missing_test_name", "experiment name is required")
	}
	if len(test.Variants) == 0 {
		return models.NewValidationError("no_variants", "experiment %q has no variants", test.Name)
	}

	var total float64
	for _, v := range test.Variants {
		if v.Weight < 0 {
			return models.NewValidationError("negative_weight",
				"variant %q has negative allocation weight", v.Name).
				WithContext("variant", v.Name).
				WithContext("weight", v.Weight)
		}
		total += v.Weight
	}
	if total <= 0 {
		return models.NewValidationError("zero_allocation",
			"experiment %q allocation weights sum to zero", test.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tests[test.Name]; exists {
		return models.NewValidationError("duplicate_test",
			"experiment %q already exists", test.Name)
	}

	test.Status = models.ABTestStatusActive
	test.CreatedAt = time.Now()
	test.Metrics = make(map[string]*models.VariantMetrics, len(test.Variants))
	for _, v := range test.Variants {
		test.Metrics[v.Name] = &models.VariantMetrics{
			Outcomes: make(map[string]models.OutcomeAggregate),
		}
	}
	m.tests[test.Name] = test

	m.logger.WithFields(logrus.Fields{
		"test":     test.Name,
		"variants": len(test.Variants),
	}).Info("Experiment created")
	return nil
}

// Assign returns the session's variant for a test. The same session always
// lands on the same variant across calls and restarts: a stable hash of
// (session id, test name) modulo the cumulative allocation weights.
func (m *ABTestManager) Assign(sessionID, testName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	test, ok := m.tests[testName]
	if !ok {
		return "", models.NewValidationError("unknown_test",
			"experiment %q not found", testName)
	}
	if test.Status != models.ABTestStatusActive {
		return "", models.NewValidationError("test_not_active",
			"experiment %q is %s", testName, test.Status)
	}

	variant := variantFor(test, sessionID)
	test.Metrics[variant].Assignments++
	return variant, nil
}

// VariantFor returns the variant a session would be assigned to without
// recording the assignment, for read-only lookups such as outcome
// attribution.
func (m *ABTestManager) VariantFor(sessionID, testName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	test, ok := m.tests[testName]
	if !ok || test.Status != models.ABTestStatusActive {
		return "", false
	}
	return variantFor(test, sessionID), true
}

// variantFor maps the stable hash of (session id, test name) onto the
// cumulative allocation weights.
func variantFor(test *models.ABTest, sessionID string) string {
	var total float64
	for _, v := range test.Variants {
		total += v.Weight
	}

	h := fnv.New64a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(test.Name))
	point := float64(h.Sum64()%10000) / 10000 * total

	variant := test.Variants[len(test.Variants)-1].Name
	var cumulative float64
	for _, v := range test.Variants {
		cumulative += v.Weight
		if point < cumulative {
			variant = v.Name
			break
		}
	}
	return variant
}

// RecordOutcome folds one metric observation into a variant's aggregate.
func (m *ABTestManager) RecordOutcome(testName, variant, metric string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	test, ok := m.tests[testName]
	if !ok {
		return models.NewValidationError("unknown_test",
			"experiment %q not found", testName)
	}
	vm, ok := test.Metrics[variant]
	if !ok {
		return models.NewValidationError("unknown_variant",
			"experiment %q has no variant %q", testName, variant)
	}

	agg := vm.Outcomes[metric]
	agg.Count++
	agg.Sum += value
	vm.Outcomes[metric] = agg
	return nil
}

// Results returns the per-variant aggregates for one experiment.
func (m *ABTestManager) Results(testName string) (*models.ABTestResults, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	test, ok := m.tests[testName]
	if !ok {
		return nil, models.NewValidationError("unknown_test",
			"experiment %q not found", testName)
	}

	variants := make(map[string]*models.VariantMetrics, len(test.Metrics))
	for name, vm := range test.Metrics {
		outcomes := make(map[string]models.OutcomeAggregate, len(vm.Outcomes))
		for metric, agg := range vm.Outcomes {
			outcomes[metric] = agg
		}
		variants[name] = &models.VariantMetrics{
			Assignments: vm.Assignments,
			Outcomes:    outcomes,
		}
	}

	return &models.ABTestResults{
		Name:     test.Name,
		Status:   test.Status,
		Variants: variants,
	}, nil
}

// Tests lists all registered experiment names.
func (m *ABTestManager) Tests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.tests))
	for name := range m.tests {
		names = append(names, name)
	}
	return names
}
