package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds application metrics. Each Server owns its own registry so
// tests can build servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	uploadsTotal      prometheus.Counter
	uploadBytesTotal  prometheus.Counter
	uploadErrorsTotal *prometheus.CounterVec

	downloadsTotal      prometheus.Counter
	downloadBytesTotal  prometheus.Counter
	downloadErrorsTotal *prometheus.CounterVec

	buildInfo *prometheus.GaugeVec
}

// NewMetrics registers the filedrop collectors plus the Go runtime and
// process collectors on a fresh registry.
func NewMetrics(build BuildInfo) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filedrop_http_requests_total",
			Help: "Total number of HTTP requests by status code.",
		}, []string{"code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filedrop_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		uploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filedrop_uploads_total",
			Help: "Total number of files stored.",
		}),
		uploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filedrop_upload_bytes_total",
			Help: "Total bytes written to the storage root.",
		}),
		uploadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filedrop_upload_errors_total",
			Help: "Failed uploads by error kind.",
		}, []string{"kind"}),

		downloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filedrop_downloads_total",
			Help: "Total number of files served.",
		}),
		downloadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filedrop_download_bytes_total",
			Help: "Total bytes streamed to clients.",
		}),
		downloadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filedrop_download_errors_total",
			Help: "Failed downloads by error kind.",
		}, []string{"kind"}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filedrop_build_info",
			Help: "Build version and commit.",
		}, []string{"version", "commit"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.uploadsTotal,
		m.uploadBytesTotal,
		m.uploadErrorsTotal,
		m.downloadsTotal,
		m.downloadBytesTotal,
		m.downloadErrorsTotal,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.buildInfo.WithLabelValues(build.Version, build.Commit).Set(1)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, code string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordUpload records a successfully stored file.
func (m *Metrics) RecordUpload(bytes int64) {
	m.uploadsTotal.Inc()
	m.uploadBytesTotal.Add(float64(bytes))
}

// RecordUploadError records a failed upload.
func (m *Metrics) RecordUploadError(kind string) {
	m.uploadErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordDownload records a file streamed to a client.
func (m *Metrics) RecordDownload(bytes int64) {
	m.downloadsTotal.Inc()
	m.downloadBytesTotal.Add(float64(bytes))
}

// RecordDownloadError records a failed download.
func (m *Metrics) RecordDownloadError(kind string) {
	m.downloadErrorsTotal.WithLabelValues(kind).Inc()
}
