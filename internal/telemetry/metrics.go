// Package telemetry exposes sitesync's Prometheus metrics and the small HTTP
// status surface that serves them.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally and tests can pass nil.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sitesync"

// Result label values.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	ResultDuplicate = "duplicate"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	articleEvents   *prometheus.CounterVec
	pictureFiles    *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	publishDuration prometheus.Histogram
	dirty           prometheus.Gauge
	watchers        *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		articleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "articles",
			Name:      "events_total",
			Help:      "Article events applied, by operation and result",
		}, []string{"op", "result"}),
		pictureFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pictures",
			Name:      "files_total",
			Help:      "Picture files seen during directory scans, by result",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pictures",
			Name:      "uploads_total",
			Help:      "Picture uploads, by result",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "runs_total",
			Help:      "Publisher invocations, by result",
		}, []string{"result"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "Publisher invocation latency",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		dirty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "dirty",
			Help:      "1 when a publish is pending",
		}),
		watchers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchers",
			Help:      "Running folder watchers, by kind",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.articleEvents,
		m.pictureFiles,
		m.uploads,
		m.publishes,
		m.publishDuration,
		m.dirty,
		m.watchers,
	)
	return m
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ArticleEvent counts one applied article event.
func (m *Metrics) ArticleEvent(op, result string) {
	if m == nil {
		return
	}
	m.articleEvents.WithLabelValues(op, result).Inc()
}

// PictureFile counts one picture file outcome.
func (m *Metrics) PictureFile(result string) {
	if m == nil {
		return
	}
	m.pictureFiles.WithLabelValues(result).Inc()
}

// Upload counts one upload attempt.
func (m *Metrics) Upload(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(resultOf(err)).Inc()
}

// Publish records one publisher invocation.
func (m *Metrics) Publish(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(resultOf(err)).Inc()
	m.publishDuration.Observe(d.Seconds())
}

// SetDirty mirrors the publish signal.
func (m *Metrics) SetDirty(dirty bool) {
	if m == nil {
		return
	}
	if dirty {
		m.dirty.Set(1)
	} else {
		m.dirty.Set(0)
	}
}

// WatcherStarted and WatcherStopped track running watchers per kind.
func (m *Metrics) WatcherStarted(kind string) {
	if m == nil {
		return
	}
	m.watchers.WithLabelValues(kind).Inc()
}

func (m *Metrics) WatcherStopped(kind string) {
	if m == nil {
		return
	}
	m.watchers.WithLabelValues(kind).Dec()
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}
