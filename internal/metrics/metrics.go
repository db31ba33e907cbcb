// Package metrics exports provider, job and rate-limit metrics to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/ratelimit"
)

const namespace = "imagery"

// StatsSource reports sliding-window request counts per provider.
type StatsSource interface {
	AllStats() map[string]ratelimit.Stats
}

// StateSource reports circuit breaker states per provider.
type StateSource interface {
	States() map[string]string
}

// Metrics holds the enrichment collectors.
type Metrics struct {
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerImages   *prometheus.CounterVec
	jobOutcomes      *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec

	rateWindow   *prometheus.Desc
	breakerState *prometheus.Desc

	mu       sync.RWMutex
	limiter  StatsSource
	breakers StateSource
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Provider attempts by outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Latency of provider calls that reached the network",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"provider"},
		),
		providerImages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_images_total",
				Help:      "Images returned per provider",
			},
			[]string{"provider"},
		),
		jobOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_outcomes_total",
				Help:      "Job attempts by entity type and outcome",
			},
			[]string{"entity_type", "role", "outcome"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time of a job attempt",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"entity_type"},
		),
		rateWindow: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ratelimit", "requests"),
			"Requests recorded in the trailing window",
			[]string{"provider", "window"}, nil,
		),
		breakerState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "circuit", "state"),
			"Circuit breaker state (1 for the current state)",
			[]string{"provider", "state"}, nil,
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Observe sets the sources scraped for rate-limit and breaker gauges. Either
// may be nil.
func (m *Metrics) Observe(limiter StatsSource, breakers StateSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter = limiter
	m.breakers = breakers
}

// ProviderCall records one orchestrator attempt. It matches the orchestrator
// observer signature.
func (m *Metrics) ProviderCall(provider, outcome string, images int, elapsed time.Duration) {
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	if elapsed > 0 {
		m.providerDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
	if images > 0 {
		m.providerImages.WithLabelValues(provider).Add(float64(images))
	}
}

// JobOutcome records one runner attempt. It matches the runner observer
// signature.
func (m *Metrics) JobOutcome(job model.EnrichmentJob, outcome string, elapsed time.Duration) {
	entityType := string(job.EntityType)
	if entityType == "" {
		entityType = "none"
	}
	m.jobOutcomes.WithLabelValues(entityType, string(job.JobRole), outcome).Inc()
	m.jobDuration.WithLabelValues(entityType).Observe(elapsed.Seconds())
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.providerCalls.Describe(ch)
	m.providerDuration.Describe(ch)
	m.providerImages.Describe(ch)
	m.jobOutcomes.Describe(ch)
	m.jobDuration.Describe(ch)
	ch <- m.rateWindow
	ch <- m.breakerState
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.providerCalls.Collect(ch)
	m.providerDuration.Collect(ch)
	m.providerImages.Collect(ch)
	m.jobOutcomes.Collect(ch)
	m.jobDuration.Collect(ch)

	m.mu.RLock()
	limiter, breakers := m.limiter, m.breakers
	m.mu.RUnlock()

	if limiter != nil {
		for name, s := range limiter.AllStats() {
			ch <- prometheus.MustNewConstMetric(m.rateWindow, prometheus.GaugeValue, float64(s.LastSecond), name, "second")
			ch <- prometheus.MustNewConstMetric(m.rateWindow, prometheus.GaugeValue, float64(s.LastMinute), name, "minute")
			ch <- prometheus.MustNewConstMetric(m.rateWindow, prometheus.GaugeValue, float64(s.LastHour), name, "hour")
		}
	}
	if breakers != nil {
		for name, state := range breakers.States() {
			for _, s := range []string{"closed", "open", "half-open"} {
				v := 0.0
				if s == state {
					v = 1
				}
				ch <- prometheus.MustNewConstMetric(m.breakerState, prometheus.GaugeValue, v, name, s)
			}
		}
	}
}
