package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aibot"

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// Pipeline metrics
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of EMR analyses by source",
		},
		[]string{"source", "confidence"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Normalization plus report generation time in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	riskFlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_flags_total",
			Help:      "Total number of derived risk flags",
		},
		[]string{"flag"},
	)

	forbiddenTermsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forbidden_terms_total",
			Help:      "Total number of forbidden terms found in input",
		},
		[]string{"term"},
	)

	auditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Total number of audit entries produced by normalization",
		},
		[]string{"kind"},
	)

	cacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of response cache lookups",
		},
		[]string{"result"},
	)

	archiveOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_operations_total",
			Help:      "Total number of archive operations",
		},
		[]string{"operation", "status"},
	)

	summarizerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizer_requests_total",
			Help:      "Total number of summarizer requests",
		},
		[]string{"provider", "status"},
	)

	summarizerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summarizer_request_duration_seconds",
			Help:      "Summarizer request duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_active",
			Help:      "Number of acquired database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts, durations and in-flight requests. The
// route label is the matched route template, so path parameters do not
// multiply series.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusOf(c, err))).Inc()
			httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// statusOf resolves the status the error handler will write when the
// handler returned an error without committing a response.
func statusOf(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// --- Pipeline metric helpers ---

// RecordAnalysis records one completed analysis. source is "computed" or
// "cache".
func RecordAnalysis(source, confidence string, duration time.Duration) {
	analysesTotal.WithLabelValues(source, confidence).Inc()
	if source != "cache" {
		analysisDuration.Observe(duration.Seconds())
	}
}

// RecordRiskFlags counts each derived risk flag.
func RecordRiskFlags(flags []string) {
	for _, f := range flags {
		riskFlagsTotal.WithLabelValues(f).Inc()
	}
}

// RecordForbiddenTerms counts each forbidden term detected in input.
func RecordForbiddenTerms(terms []string) {
	for _, t := range terms {
		forbiddenTermsTotal.WithLabelValues(t).Inc()
	}
}

// RecordAudit adds the audit trail sizes of one normalization.
func RecordAudit(discarded, warnings int) {
	auditEntriesTotal.WithLabelValues("discarded").Add(float64(discarded))
	auditEntriesTotal.WithLabelValues("warnings").Add(float64(warnings))
}

// RecordCache records a cache lookup: "hit", "miss" or "error".
func RecordCache(result string) {
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordArchive records an archive operation outcome.
func RecordArchive(operation string, err error) {
	archiveOperationsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

// RecordSummarizer records a summarizer call.
func RecordSummarizer(provider string, err error, duration time.Duration) {
	summarizerRequestsTotal.WithLabelValues(provider, outcome(err)).Inc()
	summarizerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordDBConnections records acquired database connections.
func RecordDBConnections(count int32) {
	dbConnectionsActive.Set(float64(count))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
