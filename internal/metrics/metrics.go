// Package metrics owns the process prometheus registry and the typed
// recording methods the loader, cache, transport and watchers call.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-assets/internal/version"
)

type LoaderMetrics struct {
	reg       *prometheus.Registry
	handler   http.Handler
	buildInfo *prometheus.GaugeVec

	// load pipeline
	loadsTotal      *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	decodesTotal    *prometheus.CounterVec
	decodeDuration  *prometheus.HistogramVec
	coalescedTotal  prometheus.Counter
	refreshesTotal  prometheus.Counter
	loadsInflight   prometheus.Gauge
	aggregatesTotal *prometheus.CounterVec

	// cache
	cacheEntries   prometheus.Gauge
	evictionsTotal prometheus.Counter
	sweepsTotal    prometheus.Counter

	// sources
	fetchDuration  *prometheus.HistogramVec
	fetchThrottled prometheus.Counter
	archiveMounts  prometheus.Gauge
	remapSwaps     prometheus.Counter
	remapErrors    prometheus.Counter

	// ops http
	opsInflight prometheus.Gauge
	opsReqTotal *prometheus.CounterVec
	opsReqDur   *prometheus.HistogramVec
	opsPanics   prometheus.Counter

	profilingActive prometheus.Gauge
}

// New returns a fresh registry with the standard Go and process collectors
// and every loader metric registered. Label values are drawn from small
// fixed sets (kind, result, transport); identifiers never become labels.
func New() *LoaderMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &LoaderMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_loads_total",
			Help: "Load requests by outcome (hit, loaded, coalesced, failed)",
		}, []string{"result"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_load_failures_total",
			Help: "Failed loads by failure kind (transport, classification, decode)",
		}, []string{"kind"}),
		decodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_decodes_total",
			Help: "Decodes executed by content kind and result",
		}, []string{"kind", "result"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asset_decode_duration_seconds",
			Help:    "Worker-side decode time by content kind",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		coalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_coalesced_waiters_total",
			Help: "Requests that waited on an in-flight load instead of decoding",
		}),
		refreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_refreshes_total",
			Help: "Redecodes of identifiers that were already cached",
		}),
		loadsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_loads_inflight",
			Help: "Identifiers with a load in flight",
		}),
		aggregatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_aggregate_loads_total",
			Help: "Aggregate tree loads by result",
		}, []string{"result"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_cache_entries",
			Help: "Entries currently held by the content cache",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_cache_evictions_total",
			Help: "Cache entries evicted by sweeps",
		}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_cache_sweeps_total",
			Help: "Cache sweep passes",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asset_fetch_duration_seconds",
			Help:    "Transport fetch latency by transport and result",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"transport", "result"}),
		fetchThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_fetch_throttled_total",
			Help: "HTTP fetches that waited on the per-host rate limiter",
		}),
		archiveMounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_archive_mounts",
			Help: "Archive mounts currently registered",
		}),
		remapSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_remap_swaps_total",
			Help: "Alias table swaps applied by the remap watcher",
		}),
		remapErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_remap_errors_total",
			Help: "Remap watcher poll or parse errors",
		}),
		opsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ops_http_inflight_requests",
			Help: "Current number of in-flight ops HTTP requests",
		}),
		opsReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_http_requests_total",
			Help: "Ops HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		opsReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ops_http_request_duration_seconds",
			Help:    "Ops HTTP latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
		opsPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ops_http_panics_total",
			Help: "Ops handler panics recovered by middleware",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.loadsTotal,
		m.failuresTotal,
		m.decodesTotal,
		m.decodeDuration,
		m.coalescedTotal,
		m.refreshesTotal,
		m.loadsInflight,
		m.aggregatesTotal,
		m.cacheEntries,
		m.evictionsTotal,
		m.sweepsTotal,
		m.fetchDuration,
		m.fetchThrottled,
		m.archiveMounts,
		m.remapSwaps,
		m.remapErrors,
		m.opsInflight,
		m.opsReqTotal,
		m.opsReqDur,
		m.opsPanics,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *LoaderMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *LoaderMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *LoaderMetrics) IncLoad(result string) {
	m.loadsTotal.WithLabelValues(result).Inc()
}

func (m *LoaderMetrics) IncFailure(kind string) {
	m.failuresTotal.WithLabelValues(kind).Inc()
}

func (m *LoaderMetrics) ObserveDecode(kind, result string, seconds float64) {
	m.decodesTotal.WithLabelValues(kind, result).Inc()
	m.decodeDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *LoaderMetrics) IncCoalesced() {
	m.coalescedTotal.Inc()
}

func (m *LoaderMetrics) IncRefresh() {
	m.refreshesTotal.Inc()
}

func (m *LoaderMetrics) SetInflight(n int) {
	m.loadsInflight.Set(float64(n))
}

func (m *LoaderMetrics) IncAggregateLoad(result string) {
	m.aggregatesTotal.WithLabelValues(result).Inc()
}

func (m *LoaderMetrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// ObserveSweep records one sweep pass and the entries it evicted.
func (m *LoaderMetrics) ObserveSweep(evicted int) {
	m.sweepsTotal.Inc()
	m.evictionsTotal.Add(float64(evicted))
}

func (m *LoaderMetrics) ObserveFetch(transport, result string, seconds float64) {
	m.fetchDuration.WithLabelValues(transport, result).Observe(seconds)
}

func (m *LoaderMetrics) IncFetchThrottled() {
	m.fetchThrottled.Inc()
}

func (m *LoaderMetrics) SetArchiveMounts(n int) {
	m.archiveMounts.Set(float64(n))
}

func (m *LoaderMetrics) IncRemapSwaps() {
	m.remapSwaps.Inc()
}

func (m *LoaderMetrics) IncRemapErrors() {
	m.remapErrors.Inc()
}

func (m *LoaderMetrics) IncOpsPanic() {
	m.opsPanics.Inc()
}

func (m *LoaderMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
