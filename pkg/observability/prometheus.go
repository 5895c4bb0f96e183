package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements every hook interface with Prometheus collectors.
type Prometheus struct {
	resolveTotal    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	transitiveTotal *prometheus.CounterVec
	transitiveDeps  prometheus.Histogram
	unverified      prometheus.Counter
	cacheEvents     *prometheus.CounterVec
	cacheBytes      prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpErrors      *prometheus.CounterVec
}

// NewPrometheus registers libby's collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		resolveTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libby_resolve_total",
			Help: "Artifact resolutions by source and result",
		}, []string{"source", "result"}),
		resolveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "libby_resolve_duration_seconds",
			Help:    "Artifact resolution latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"source"}),
		transitiveTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libby_transitive_total",
			Help: "Transitive expansions by result",
		}, []string{"result"}),
		transitiveDeps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "libby_transitive_dependencies",
			Help:    "Dependencies produced per transitive expansion",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		unverified: f.NewCounter(prometheus.CounterOpts{
			Name: "libby_checksum_skipped_total",
			Help: "Artifacts accepted without a declared checksum",
		}),
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libby_cache_events_total",
			Help: "Cache events by kind and event",
		}, []string{"kind", "event"}),
		cacheBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "libby_cache_written_bytes_total",
			Help: "Bytes written to the cache",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libby_http_requests_total",
			Help: "Repository HTTP responses by host and status",
		}, []string{"host", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "libby_http_request_duration_seconds",
			Help:    "Repository HTTP latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		httpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libby_http_errors_total",
			Help: "Repository HTTP requests that got no response",
		}, []string{"host"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *Prometheus) OnResolveStart(context.Context, string) {}

func (p *Prometheus) OnResolveComplete(_ context.Context, _ string, source Source, d time.Duration, err error) {
	p.resolveTotal.WithLabelValues(string(source), result(err)).Inc()
	p.resolveDuration.WithLabelValues(string(source)).Observe(d.Seconds())
}

func (p *Prometheus) OnTransitive(_ context.Context, _ string, count int, _ time.Duration, err error) {
	p.transitiveTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		p.transitiveDeps.Observe(float64(count))
	}
}

func (p *Prometheus) OnChecksumSkipped(context.Context, string) { p.unverified.Inc() }

func (p *Prometheus) OnCacheHit(_ context.Context, kind string) {
	p.cacheEvents.WithLabelValues(kind, "hit").Inc()
}

func (p *Prometheus) OnCacheMiss(_ context.Context, kind string) {
	p.cacheEvents.WithLabelValues(kind, "miss").Inc()
}

func (p *Prometheus) OnCacheSet(_ context.Context, kind string, size int) {
	p.cacheEvents.WithLabelValues(kind, "set").Inc()
	p.cacheBytes.Add(float64(size))
}

func (p *Prometheus) OnCacheCorrupt(_ context.Context, kind string) {
	p.cacheEvents.WithLabelValues(kind, "corrupt").Inc()
}

func (p *Prometheus) OnRequest(context.Context, string, string, string) {}

func (p *Prometheus) OnResponse(_ context.Context, _, host, _ string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(host, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(host).Observe(d.Seconds())
}

func (p *Prometheus) OnError(_ context.Context, _, host, _ string, _ error) {
	p.httpErrors.WithLabelValues(host).Inc()
}
