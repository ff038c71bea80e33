package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the kill pipeline.
type PipelineMetrics struct {
	FeedMessagesTotal      *prometheus.CounterVec
	FeedReconnectsTotal    *prometheus.CounterVec
	FeedConnected          *prometheus.GaugeVec
	NormalizedTotal        *prometheus.CounterVec
	CorrelatedTotal        *prometheus.CounterVec
	EnrichmentFailures     *prometheus.CounterVec
	EnrichmentDuration     prometheus.Histogram
	EventsInFlight         prometheus.Gauge
	LedgerSize             prometheus.Gauge
	IdentityCacheHits      prometheus.Counter
	IdentityCacheMisses    prometheus.Counter
	SummariesBufferedTotal *prometheus.CounterVec
}

// NewPipelineMetrics initializes the metrics and registers them with reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		FeedMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of raw messages received per provider.",
		}, []string{"provider"}),
		FeedReconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of connection attempts after the first, per provider.",
		}, []string{"provider"}),
		FeedConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "killwatch",
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the provider connection is up, 0 otherwise.",
		}, []string{"provider"}),
		NormalizedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "normalize",
			Name:      "events_total",
			Help:      "Total number of normalization outcomes by provider and status.",
		}, []string{"provider", "status"}), // status: accepted, malformed, incomplete
		CorrelatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "correlate",
			Name:      "events_total",
			Help:      "Total number of correlation outcomes by status.",
		}, []string{"status"}), // status: delivered, duplicate, unresolved_system
		EnrichmentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "correlate",
			Name:      "lookup_failures_total",
			Help:      "Total number of identity lookups that returned nothing, by lookup kind.",
		}, []string{"lookup"}),
		EnrichmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "killwatch",
			Subsystem: "correlate",
			Name:      "enrichment_duration_seconds",
			Help:      "Time spent waiting for all lookups of one event.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		EventsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "killwatch",
			Subsystem: "correlate",
			Name:      "events_in_flight",
			Help:      "Number of submitted events still being processed.",
		}),
		LedgerSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "killwatch",
			Subsystem: "correlate",
			Name:      "ledger_size",
			Help:      "Number of event ids currently held by the dedup ledger.",
		}),
		IdentityCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "identity",
			Name:      "cache_hits_total",
			Help:      "Total number of identity cache hits.",
		}),
		IdentityCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "identity",
			Name:      "cache_misses_total",
			Help:      "Total number of identity cache misses.",
		}),
		SummariesBufferedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "killwatch",
			Subsystem: "sink",
			Name:      "summaries_total",
			Help:      "Total number of summaries handled by buffering sinks, by sink and status.",
		}, []string{"sink", "status"}), // status: written, dropped, error
	}
}
