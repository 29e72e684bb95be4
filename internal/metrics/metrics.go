// Package metrics exports refresh, cache and upstream request metrics to
// Prometheus by implementing the observability hooks.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/composerbridge/pkg/observability"
)

// Collector records metrics. It implements [observability.RefreshHooks],
// [observability.CacheHooks] and [observability.HTTPHooks].
type Collector struct {
	refreshes       *prometheus.CounterVec
	refreshSkipped  prometheus.Counter
	refreshDuration prometheus.Histogram
	packages        prometheus.Gauge
	versions        prometheus.Gauge
	lastSuccess     prometheus.Gauge

	cacheLookups *prometheus.CounterVec
	cacheBytes   prometheus.Counter

	upstreamStatus  *prometheus.CounterVec
	upstreamErrors  *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

var (
	_ observability.RefreshHooks = (*Collector)(nil)
	_ observability.CacheHooks   = (*Collector)(nil)
	_ observability.HTTPHooks    = (*Collector)(nil)
)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composerbridge_rebuilds_total",
			Help: "packages.json rebuilds by outcome.",
		}, []string{"result"}),
		refreshSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "composerbridge_refresh_skipped_total",
			Help: "Refreshes that found packages.json up to date.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "composerbridge_rebuild_duration_seconds",
			Help:    "Duration of packages.json rebuilds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		packages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "composerbridge_packages",
			Help: "Packages in the last written document.",
		}),
		versions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "composerbridge_versions",
			Help: "Versions in the last written document.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "composerbridge_last_rebuild_timestamp_seconds",
			Help: "Unix time of the last successful rebuild.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composerbridge_cache_lookups_total",
			Help: "Project cache lookups by result.",
		}, []string{"result"}),
		cacheBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "composerbridge_cache_written_bytes_total",
			Help: "Bytes written to project cache records.",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composerbridge_upstream_responses_total",
			Help: "Upstream API responses by endpoint and status code.",
		}, []string{"endpoint", "status_code"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composerbridge_upstream_errors_total",
			Help: "Upstream API requests that failed without a response.",
		}, []string{"endpoint"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "composerbridge_upstream_latency_seconds",
			Help:    "Upstream API latency by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		c.refreshes,
		c.refreshSkipped,
		c.refreshDuration,
		c.packages,
		c.versions,
		c.lastSuccess,
		c.cacheLookups,
		c.cacheBytes,
		c.upstreamStatus,
		c.upstreamErrors,
		c.upstreamLatency,
	)
	return c
}

// Install makes c the active set of observability hooks.
func (c *Collector) Install() {
	observability.SetRefreshHooks(c)
	observability.SetCacheHooks(c)
	observability.SetHTTPHooks(c)
}

func (c *Collector) OnRefreshStart(context.Context, string, string) {}

func (c *Collector) OnRefreshComplete(_ context.Context, _ string, stats observability.RefreshStats, d time.Duration, err error) {
	c.refreshDuration.Observe(d.Seconds())
	if err != nil {
		c.refreshes.WithLabelValues("error").Inc()
		return
	}
	c.refreshes.WithLabelValues("ok").Inc()
	c.packages.Set(float64(stats.Packages))
	c.versions.Set(float64(stats.Versions))
	c.lastSuccess.SetToCurrentTime()
}

func (c *Collector) OnRefreshSkipped(context.Context) { c.refreshSkipped.Inc() }

func (c *Collector) OnCacheHit(context.Context, string) {
	c.cacheLookups.WithLabelValues("hit").Inc()
}

func (c *Collector) OnCacheMiss(context.Context, string) {
	c.cacheLookups.WithLabelValues("miss").Inc()
}

func (c *Collector) OnCacheSet(_ context.Context, _ string, size int) {
	c.cacheBytes.Add(float64(size))
}

func (c *Collector) OnRequest(context.Context, string, string, string) {}

func (c *Collector) OnResponse(_ context.Context, _, _, path string, code int, d time.Duration) {
	ep := Endpoint(path)
	c.upstreamStatus.WithLabelValues(ep, strconv.Itoa(code)).Inc()
	c.upstreamLatency.WithLabelValues(ep).Observe(d.Seconds())
}

func (c *Collector) OnError(_ context.Context, _, _, path string, _ error) {
	c.upstreamErrors.WithLabelValues(Endpoint(path)).Inc()
}

// Endpoint maps an upstream request path to a bounded label value, so
// project ids and file names do not become label values.
func Endpoint(path string) string {
	switch {
	case strings.HasSuffix(path, "/user"):
		return "user"
	case strings.HasSuffix(path, "/projects"):
		return "projects"
	case strings.Contains(path, "/repository/files/"):
		return "files"
	case strings.HasSuffix(path, "/repository/branches"):
		return "branches"
	case strings.HasSuffix(path, "/repository/tags"):
		return "tags"
	default:
		return "other"
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
