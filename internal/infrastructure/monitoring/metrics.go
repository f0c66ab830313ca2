package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketwire"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Call metrics
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	ResponseSize prometheus.Histogram
	Errors       *prometheus.CounterVec
	Redirects    prometheus.Counter
	Truncated    prometheus.Counter

	// Robots metrics
	RobotsFetches *prometheus.CounterVec
	RobotsBlocked prometheus.Counter

	// Pool metrics
	PoolLeased  prometheus.Gauge
	PoolOpen    prometheus.Gauge
	PoolWait    prometheus.Histogram
	PoolReaped  *prometheus.CounterVec
	PoolTimeout prometheus.Counter

	// Admin endpoint metrics
	AdminRequests *prometheus.CounterVec

	// Snapshot for the JSON admin API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON admin API
type Snapshot struct {
	TotalCalls    int64   `json:"total_calls"`
	TotalErrors   int64   `json:"total_errors"`
	TotalRedirect int64   `json:"total_redirects"`
	TotalDuration float64 `json:"total_duration_seconds"`
	BytesRead     int64   `json:"bytes_read"`
}

// NewMetrics creates a metrics collector registered on reg.
// A nil reg falls back to prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of completed calls",
			},
			[]string{"method", "class"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Call duration including redirects and body read",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		ResponseSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Decoded response body size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed calls by kind",
			},
			[]string{"kind"},
		),
		Redirects: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redirects_total",
				Help:      "Total number of redirect hops followed",
			},
		),
		Truncated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "truncated_total",
				Help:      "Total number of bodies cut at the download limit",
			},
		),
		RobotsFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "robots_fetches_total",
				Help:      "Total number of robots.txt fetches by outcome",
			},
			[]string{"outcome"},
		),
		RobotsBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "robots_blocked_total",
				Help:      "Total number of redirects refused by robot directives",
			},
		),
		PoolLeased: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_leased",
				Help:      "Number of connection slots currently leased",
			},
		),
		PoolOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_open_connections",
				Help:      "Number of open pooled connections",
			},
		),
		PoolWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_acquire_wait_seconds",
				Help:      "Time spent waiting for a connection slot",
				Buckets:   []float64{.0001, .001, .01, .1, .5, 1, 5, 10},
			},
		),
		PoolReaped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_reaped_total",
				Help:      "Total number of connections closed by the reaper",
			},
			[]string{"reason"},
		),
		PoolTimeout: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_acquire_timeouts_total",
				Help:      "Total number of acquires that timed out",
			},
		),
		AdminRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_requests_total",
				Help:      "Total number of admin endpoint requests",
			},
			[]string{"path", "status"},
		),
	}
}

// RecordCall records a completed call
func (m *Metrics) RecordCall(method string, status int, duration time.Duration, size int64) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(method, statusClass(status)).Inc()
	m.CallDuration.WithLabelValues(method).Observe(duration.Seconds())
	m.ResponseSize.Observe(float64(size))

	m.mu.Lock()
	m.snapshot.TotalCalls++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.BytesRead += size
	m.mu.Unlock()
}

// RecordError records a failed call by kind
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()

	m.mu.Lock()
	m.snapshot.TotalErrors++
	m.mu.Unlock()
}

// IncRedirects counts one followed hop
func (m *Metrics) IncRedirects() {
	if m == nil {
		return
	}
	m.Redirects.Inc()

	m.mu.Lock()
	m.snapshot.TotalRedirect++
	m.mu.Unlock()
}

// IncTruncated counts a body cut at the download limit
func (m *Metrics) IncTruncated() {
	if m == nil {
		return
	}
	m.Truncated.Inc()
}

// RecordRobotsFetch records a robots.txt fetch outcome
func (m *Metrics) RecordRobotsFetch(outcome string) {
	if m == nil {
		return
	}
	m.RobotsFetches.WithLabelValues(outcome).Inc()
}

// IncRobotsBlocked counts a redirect refused by directives
func (m *Metrics) IncRobotsBlocked() {
	if m == nil {
		return
	}
	m.RobotsBlocked.Inc()
}

// SetPool publishes pool occupancy
func (m *Metrics) SetPool(leased, open int) {
	if m == nil {
		return
	}
	m.PoolLeased.Set(float64(leased))
	m.PoolOpen.Set(float64(open))
}

// ObservePoolWait records time spent acquiring a slot
func (m *Metrics) ObservePoolWait(d time.Duration) {
	if m == nil {
		return
	}
	m.PoolWait.Observe(d.Seconds())
}

// IncPoolTimeout counts an acquire that ran out of time
func (m *Metrics) IncPoolTimeout() {
	if m == nil {
		return
	}
	m.PoolTimeout.Inc()
}

// AddPoolReaped counts connections closed by the reaper
func (m *Metrics) AddPoolReaped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PoolReaped.WithLabelValues(reason).Add(float64(n))
}

// Snapshot returns a copy of the running totals
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
