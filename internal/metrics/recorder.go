// Package metrics provides operation counters for the artifact server.
// Components receive a Recorder through dependency injection; the default
// NoopRecorder keeps metrics-free configurations at zero overhead.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts artifact operations and digest-cache effectiveness.
type Recorder interface {
	ArtifactUploaded(storageID, repositoryID string)
	ArtifactDownloaded(storageID, repositoryID string)
	ArtifactDeleted(storageID, repositoryID string)
	ArtifactCopied(srcStorageID, dstStorageID string)
	ChecksumCacheHit()
	ChecksumCacheMiss()
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) ArtifactUploaded(string, string)   {}
func (NoopRecorder) ArtifactDownloaded(string, string) {}
func (NoopRecorder) ArtifactDeleted(string, string)    {}
func (NoopRecorder) ArtifactCopied(string, string)     {}
func (NoopRecorder) ChecksumCacheHit()                 {}
func (NoopRecorder) ChecksumCacheMiss()                {}

// PrometheusRecorder implements Recorder on a prometheus registry.
type PrometheusRecorder struct {
	registry  *prometheus.Registry
	uploads   *prometheus.CounterVec
	downloads *prometheus.CounterVec
	deletes   *prometheus.CounterVec
	copies    *prometheus.CounterVec
	cacheHits prometheus.Counter
	cacheMiss prometheus.Counter
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artifactd_uploads_total",
			Help: "Artifacts stored, by storage and repository.",
		}, []string{"storage", "repository"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artifactd_downloads_total",
			Help: "Artifacts resolved, by storage and repository.",
		}, []string{"storage", "repository"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artifactd_deletes_total",
			Help: "Artifacts deleted, by storage and repository.",
		}, []string{"storage", "repository"}),
		copies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artifactd_copies_total",
			Help: "Server-side copies, by source and destination storage.",
		}, []string{"src_storage", "dst_storage"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifactd_checksum_cache_hits_total",
			Help: "Digest cache hits.",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifactd_checksum_cache_misses_total",
			Help: "Digest cache misses.",
		}),
	}
	r.registry.MustRegister(r.uploads, r.downloads, r.deletes, r.copies, r.cacheHits, r.cacheMiss)
	return r
}

func (r *PrometheusRecorder) ArtifactUploaded(storageID, repositoryID string) {
	r.uploads.WithLabelValues(storageID, repositoryID).Inc()
}

func (r *PrometheusRecorder) ArtifactDownloaded(storageID, repositoryID string) {
	r.downloads.WithLabelValues(storageID, repositoryID).Inc()
}

func (r *PrometheusRecorder) ArtifactDeleted(storageID, repositoryID string) {
	r.deletes.WithLabelValues(storageID, repositoryID).Inc()
}

func (r *PrometheusRecorder) ArtifactCopied(srcStorageID, dstStorageID string) {
	r.copies.WithLabelValues(srcStorageID, dstStorageID).Inc()
}

func (r *PrometheusRecorder) ChecksumCacheHit()  { r.cacheHits.Inc() }
func (r *PrometheusRecorder) ChecksumCacheMiss() { r.cacheMiss.Inc() }

// HTTPHandler serves the exposition endpoint for the recorder's registry.
func (r *PrometheusRecorder) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
