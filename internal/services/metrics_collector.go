package services

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// requestRecord is one serving observation kept for operator time-range
// aggregation.
type requestRecord struct {
	timestamp time.Time
	latency   time.Duration
	algorithm string
	cacheHit  bool
}

// metricsWindow bounds the in-memory record ring for operator aggregates.
const metricsWindow = 10000

// MetricsCollector exports prometheus series for the serving and training
// paths and keeps a bounded in-memory window for the operator aggregate
// endpoint.
type MetricsCollector struct {
	recommendationsTotal  *prometheus.CounterVec
	recommendationLatency prometheus.Histogram
	interactionsTotal     *prometheus.CounterVec
	cacheLookups          *prometheus.CounterVec
	trainingJobsTotal     *prometheus.CounterVec
	modelVersion          prometheus.Gauge

	mu      sync.RWMutex
	records []requestRecord
}

func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWith(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWith registers the collector's series against a
// specific registerer, so tests can use an isolated registry.
func NewMetricsCollectorWith(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		recommendationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lodestone_recommendations_total",
			Help: "Recommendation requests served, by algorithm and outcome",
		}, []string{"algorithm", "outcome"}),
		recommendationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lodestone_recommendation_latency_seconds",
			Help:    "End-to-end recommendation latency",
			Buckets: prometheus.DefBuckets,
		}),
		interactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lodestone_interactions_total",
			Help: "Interaction events received, by type",
		}, []string{"type"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lodestone_cache_lookups_total",
			Help: "Recommendation cache lookups, by result",
		}, []string{"result"}),
		trainingJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lodestone_training_jobs_total",
			Help: "Training jobs by terminal status",
		}, []string{"status"}),
		modelVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lodestone_model_version",
			Help: "Currently published model version",
		}),
	}
}

// ObserveRecommendation records one served request.
func (m *MetricsCollector) ObserveRecommendation(algorithm string, latency time.Duration, cacheHit bool, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.recommendationsTotal.WithLabelValues(algorithm, outcome).Inc()
	m.recommendationLatency.Observe(latency.Seconds())

	if err == nil {
		result := "miss"
		if cacheHit {
			result = "hit"
		}
		m.cacheLookups.WithLabelValues(result).Inc()
	}

	m.mu.Lock()
	m.records = append(m.records, requestRecord{
		timestamp: time.Now(),
		latency:   latency,
		algorithm: algorithm,
		cacheHit:  cacheHit,
	})
	if len(m.records) > metricsWindow {
		m.records = m.records[len(m.records)-metricsWindow:]
	}
	m.mu.Unlock()
}

// ObserveInteraction records one received interaction event.
func (m *MetricsCollector) ObserveInteraction(interactionType string) {
	m.interactionsTotal.WithLabelValues(interactionType).Inc()
}

// ObserveTrainingJob records one job reaching a terminal status and the
// published model version on success.
func (m *MetricsCollector) ObserveTrainingJob(status string, modelVersion int64) {
	m.trainingJobsTotal.WithLabelValues(status).Inc()
	if modelVersion > 0 {
		m.modelVersion.Set(float64(modelVersion))
	}
}

// SetModelVersion updates the published-version gauge.
func (m *MetricsCollector) SetModelVersion(version int64) {
	m.modelVersion.Set(float64(version))
}

// AggregateStats is the operator metrics report for one time range.
type AggregateStats struct {
	From             time.Time      `json:"from"`
	To               time.Time      `json:"to"`
	Requests         int            `json:"requests"`
	AvgLatencyMillis float64        `json:"avg_latency_ms"`
	P95LatencyMillis float64        `json:"p95_latency_ms"`
	CacheHitRatio    float64        `json:"cache_hit_ratio"`
	ByAlgorithm      map[string]int `json:"by_algorithm"`
}

// Aggregate summarizes the recorded window between from and to.
func (m *MetricsCollector) Aggregate(from, to time.Time) *AggregateStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &AggregateStats{
		From:        from,
		To:          to,
		ByAlgorithm: make(map[string]int),
	}

	var latencies []time.Duration
	var hits int
	for _, r := range m.records {
		if r.timestamp.Before(from) || r.timestamp.After(to) {
			continue
		}
		stats.Requests++
		stats.ByAlgorithm[r.algorithm]++
		latencies = append(latencies, r.latency)
		if r.cacheHit {
			hits++
		}
	}

	if stats.Requests == 0 {
		return stats
	}

	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	stats.AvgLatencyMillis = float64(total.Microseconds()) / float64(stats.Requests) / 1000
	stats.CacheHitRatio = float64(hits) / float64(stats.Requests)
	stats.P95LatencyMillis = percentileMillis(latencies, 0.95)
	return stats
}

func percentileMillis(latencies []time.Duration, p float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := int(p * float64(len(sorted)-1))
	return float64(sorted[idx].Microseconds()) / 1000
}
