package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var msBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 3000, 10000}

var (
	ResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crsapi_resolve_total",
		Help: "Total number of CRS resolutions by outcome (matched, no_match, no_entry)",
	}, []string{"outcome"})
	ResolveDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crsapi_resolve_duration_ms",
		Help:    "Resolve request duration in milliseconds, sourcetable fetch included",
		Buckets: msBuckets,
	})
	DiagnosticsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crsapi_diagnostics_total",
		Help: "Soft-failure diagnostics emitted during resolution",
	}, []string{"code"})
	SourcetableFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crsapi_sourcetable_fetch_total",
		Help: "Sourcetable fetch attempts by status (ok, fail)",
	}, []string{"status"})
	SourcetableFetchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crsapi_sourcetable_fetch_duration_ms",
		Help:    "Sourcetable HTTP fetch duration in milliseconds",
		Buckets: msBuckets,
	})
	SourcetableCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crsapi_sourcetable_cache_total",
		Help: "Sourcetable session lookups by layer and result",
	}, []string{"layer", "result"})
)

func init() {
	prometheus.MustRegister(ResolveTotal)
	prometheus.MustRegister(ResolveDurationMs)
	prometheus.MustRegister(DiagnosticsTotal)
	prometheus.MustRegister(SourcetableFetchTotal)
	prometheus.MustRegister(SourcetableFetchDurationMs)
	prometheus.MustRegister(SourcetableCacheTotal)
}

// Handler：Prometheus 抓取端点，在主入口挂载到 API_BASE/metrics
func Handler() http.Handler { return promhttp.Handler() }
