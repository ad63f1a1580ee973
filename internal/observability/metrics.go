package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"snapfeed/pkg/feed"
)

// MetricsListener records refresh activity as Prometheus metrics.
type MetricsListener struct {
	refreshTotal    *prometheus.CounterVec
	stepTotal       *prometheus.CounterVec
	currentVersion  prometheus.Gauge
	refreshDuration prometheus.Histogram

	mu      sync.Mutex
	started time.Time
}

// NewMetricsListener registers refresh metrics on reg
// (prometheus.DefaultRegisterer when nil).
func NewMetricsListener(reg prometheus.Registerer) *MetricsListener {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &MetricsListener{
		refreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snapfeed_refresh_total",
			Help: "Refresh attempts by outcome",
		}, []string{"outcome"}),
		stepTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snapfeed_transition_total",
			Help: "Applied transition steps by kind and outcome",
		}, []string{"kind", "outcome"}),
		currentVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "snapfeed_current_version",
			Help: "Version of the dataset state visible to readers",
		}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapfeed_refresh_duration_seconds",
			Help:    "Time spent per refresh cycle",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60},
		}),
	}
}

func (m *MetricsListener) RefreshStarted(current, desired feed.Version) {
	m.mu.Lock()
	m.started = time.Now()
	m.mu.Unlock()
}

func (m *MetricsListener) StepCompleted(step feed.Step) {
	m.stepTotal.WithLabelValues(string(step.Kind), "success").Inc()
}

func (m *MetricsListener) StepFailed(step feed.Step, err error) {
	m.stepTotal.WithLabelValues(string(step.Kind), "failure").Inc()
}

func (m *MetricsListener) RefreshCompleted(before, reached, desired feed.Version) {
	m.refreshTotal.WithLabelValues("success").Inc()
	m.currentVersion.Set(float64(reached))
	m.observeDuration()
}

func (m *MetricsListener) RefreshFailed(before, reached, desired feed.Version, err error) {
	m.refreshTotal.WithLabelValues("failure").Inc()
	if reached != feed.VersionNone {
		m.currentVersion.Set(float64(reached))
	}
	m.observeDuration()
}

func (m *MetricsListener) observeDuration() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started.IsZero() {
		return
	}
	m.refreshDuration.Observe(time.Since(started).Seconds())
}
