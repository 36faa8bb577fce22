// Package metrics exposes Prometheus counters for sync operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// File results recorded by FileDone.
const (
	ResultDownloaded = "downloaded"
	ResultSkipped    = "skipped"
	ResultVerified   = "verified"
	ResultFailed     = "failed"
	ResultPruned     = "pruned"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	files          *prometheus.CounterVec
	bytes          prometheus.Counter
	mismatches     prometheus.Counter
	gateRejections *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	speed          prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gamesync_files_total", Help: "Resource files processed by operation and result"},
			[]string{"operation", "result"},
		),
		bytes:      prometheus.NewCounter(prometheus.CounterOpts{Name: "gamesync_download_bytes_total", Help: "Bytes received from CDNs"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{Name: "gamesync_hash_mismatches_total", Help: "Local files whose MD5 differed from the manifest"}),
		gateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gamesync_patch_tool_rejections_total", Help: "Patch tool copies rejected by the integrity gate"},
			[]string{"check"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gamesync_runs_total", Help: "Completed operations by final status"},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "gamesync_run_duration_seconds", Help: "Wall time per operation", Buckets: prometheus.ExponentialBuckets(1, 4, 8)},
			[]string{"operation"},
		),
		speed: prometheus.NewGauge(prometheus.GaugeOpts{Name: "gamesync_download_speed_bytes", Help: "Sliding-window transfer speed"}),
	}
	if reg != nil {
		reg.MustRegister(m.files, m.bytes, m.mismatches, m.gateRejections, m.runs, m.runDuration, m.speed)
	}
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// FileDone counts one processed file.
func (m *Metrics) FileDone(operation, result string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(operation, result).Inc()
}

// AddBytes counts received bytes.
func (m *Metrics) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}

// Mismatch counts a hash mismatch.
func (m *Metrics) Mismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}

// GateRejected counts a patch tool rejection by the failed check.
func (m *Metrics) GateRejected(check string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(check).Inc()
}

// SetSpeed records the current transfer speed.
func (m *Metrics) SetSpeed(bps float64) {
	if m == nil {
		return
	}
	m.speed.Set(bps)
}

// RunFinished records the final status and duration of an operation.
func (m *Metrics) RunFinished(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
