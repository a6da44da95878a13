package observability

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var componentLabel atomic.Value

func init() {
	componentLabel.Store("atlas")
	for _, c := range collectors() {
		_ = register(prometheus.DefaultRegisterer, c)
	}
}

// SetComponent sets the component label attached to http and upstream metrics.
func SetComponent(s string) {
	if s == "" {
		s = "atlas"
	}
	componentLabel.Store(s)
}

func getComponent() string {
	if v := componentLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "atlas"
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "component"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "component"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "component"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	layerFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_fetch_total",
			Help: "Layer retrievals by outcome.",
		},
		[]string{"layer", "outcome"},
	)

	fetchRoundDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_round_duration_seconds",
			Help:    "Wall time of one fetch-merge round.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	fetchRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_rounds_total",
			Help: "Fetch-merge rounds by outcome (published, discarded).",
		},
		[]string{"outcome"},
	)

	mergedFeatures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merged_features",
			Help: "Feature count of the last published merged collection.",
		},
	)

	selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selections_total",
			Help: "Feature selections by layer kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	photoLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_lookups_total",
			Help: "Photo resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	redisOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Layer cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Layer invalidation events by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	selectionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selection_events_total",
			Help: "Selection events by outcome (queued, dropped, error).",
		},
		[]string{"outcome"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds, buildInfo,
		layerFetchTotal, fetchRoundDurationSeconds, fetchRoundsTotal, mergedFeatures,
		selectionsTotal, photoLookupsTotal,
		cacheOpTotal, redisOpDurationSeconds, cacheResults,
		invalidationsTotal, kafkaConsumerErrors, selectionEventsTotal,
	}
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Init registers every collector with reg in addition to the default registry.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		_ = register(reg, c)
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := getComponent()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, c).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, c).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getComponent()).Observe(durationSeconds)
}

func ObserveLayerFetch(layer string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	layerFetchTotal.WithLabelValues(layer, outcome).Inc()
}

func ObserveFetchRound(d time.Duration, published bool, features int) {
	fetchRoundDurationSeconds.Observe(d.Seconds())
	if !published {
		fetchRoundsTotal.WithLabelValues("discarded").Inc()
		return
	}
	fetchRoundsTotal.WithLabelValues("published").Inc()
	mergedFeatures.Set(float64(features))
}

func IncSelection(kind, outcome string) {
	selectionsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncPhotoLookup(outcome string) {
	photoLookupsTotal.WithLabelValues(outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpTotal.WithLabelValues(op, outcome).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss").Add(float64(n))
	}
}

func ObserveInvalidation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invalidationsTotal.WithLabelValues(op, outcome).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func IncSelectionEvent(outcome string) {
	selectionEventsTotal.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
