// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the detector suite.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentfence/agentfence/internal/threat"
)

const maxTopEntries = 100

// Metrics collects Prometheus counters and histograms for detector checks.
type Metrics struct {
	registry *prometheus.Registry

	checksTotal   *prometheus.CounterVec
	findingsTotal *prometheus.CounterVec
	checkLatency  *prometheus.HistogramVec
	scansTotal    prometheus.Counter
	activeScans   prometheus.Gauge

	mu          sync.Mutex
	startTime   time.Time
	topRuleHits map[string]int64
	safeCount   int64
	flagCount   int64
	scanCount   int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	checksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentfence",
		Name:      "checks_total",
		Help:      "Total detector checks by detector and result.",
	}, []string{"detector", "result"})

	findingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentfence",
		Name:      "findings_total",
		Help:      "Total flagged results by detector and severity.",
	}, []string{"detector", "severity"})

	checkLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentfence",
		Name:      "check_duration_seconds",
		Help:      "Detector check latency in seconds.",
		Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"detector"})

	scansTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agentfence",
		Name:      "scans_total",
		Help:      "Total completed directory scans.",
	})

	activeScans := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentfence",
		Name:      "active_scans",
		Help:      "Current number of in-flight directory scans.",
	})

	reg.MustRegister(checksTotal, findingsTotal, checkLatency, scansTotal, activeScans)

	return &Metrics{
		registry:      reg,
		checksTotal:   checksTotal,
		findingsTotal: findingsTotal,
		checkLatency:  checkLatency,
		scansTotal:    scansTotal,
		activeScans:   activeScans,
		startTime:     time.Now(),
		topRuleHits:   make(map[string]int64),
	}
}

// RecordCheck records one detector check outcome and its latency.
func (m *Metrics) RecordCheck(res threat.Result, duration time.Duration) {
	detector := res.Detector.String()
	m.checkLatency.WithLabelValues(detector).Observe(duration.Seconds())

	if res.Safe {
		m.checksTotal.WithLabelValues(detector, "safe").Inc()
		m.mu.Lock()
		m.safeCount++
		m.mu.Unlock()
		return
	}

	m.checksTotal.WithLabelValues(detector, "flagged").Inc()
	m.findingsTotal.WithLabelValues(detector, res.Level.String()).Inc()

	m.mu.Lock()
	m.flagCount++
	// Cap the rule map so attacker-chosen custom rule floods stay bounded.
	if _, exists := m.topRuleHits[res.RuleID]; exists || len(m.topRuleHits) < maxTopEntries {
		m.topRuleHits[res.RuleID]++
	}
	m.mu.Unlock()
}

// ScanStarted increments the active scan gauge.
func (m *Metrics) ScanStarted() {
	m.activeScans.Inc()
}

// ScanFinished records a completed scan.
func (m *Metrics) ScanFinished() {
	m.activeScans.Dec()
	m.scansTotal.Inc()

	m.mu.Lock()
	m.scanCount++
	m.mu.Unlock()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.safeCount + m.flagCount
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Checks: checkStats{
				Total:   total,
				Safe:    m.safeCount,
				Flagged: m.flagCount,
			},
			Scans:    m.scanCount,
			TopRules: topN(m.topRuleHits),
		}
		if total > 0 {
			stats.Checks.FlagRate = float64(m.flagCount) / float64(total)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	Checks        checkStats    `json:"checks"`
	Scans         int64         `json:"scans"`
	TopRules      []rankedEntry `json:"top_rules"`
}

type checkStats struct {
	Total    int64   `json:"total"`
	Safe     int64   `json:"safe"`
	Flagged  int64   `json:"flagged"`
	FlagRate float64 `json:"flag_rate"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
