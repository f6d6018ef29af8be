package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openweather_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openweather_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	passesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openweather_passes_detected_total",
			Help: "Total passes emitted by the detector across all cycles.",
		},
	)

	detectionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openweather_detection_errors_total",
			Help: "Per-satellite detection failures by reason.",
		},
		[]string{"reason"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "openweather_cycle_duration_seconds",
			Help:    "Prediction cycle duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	schedulePasses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openweather_schedule_passes",
			Help: "Number of passes in the persisted schedule after the last save.",
		},
	)

	scheduleSaveFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openweather_schedule_save_failures_total",
			Help: "Failed atomic saves of the schedule file.",
		},
	)

	recordingsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openweather_recordings_started_total",
			Help: "Recording activations started.",
		},
	)

	recordingsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openweather_recordings_skipped_total",
			Help: "Recording fires skipped, by reason (conflict, past).",
		},
		[]string{"reason"},
	)

	elementsDatasetCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openweather_elements_dataset_count",
			Help: "Number of element sets in the current dataset.",
		},
	)

	elementsDatasetAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openweather_elements_dataset_age_seconds",
			Help: "Age of the current element dataset in seconds.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		passesDetectedTotal,
		detectionErrorsTotal,
		cycleDurationSeconds,
		schedulePasses,
		scheduleSaveFailuresTotal,
		recordingsStartedTotal,
		recordingsSkippedTotal,
		elementsDatasetCount,
		elementsDatasetAge,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AddPassesDetected adds n to the detected-pass counter.
func AddPassesDetected(n int) {
	passesDetectedTotal.Add(float64(n))
}

// IncDetectionError counts a per-satellite detection failure.
func IncDetectionError(reason string) {
	detectionErrorsTotal.WithLabelValues(reason).Inc()
}

// ObserveCycleDuration records the duration of a prediction cycle.
func ObserveCycleDuration(d time.Duration) {
	cycleDurationSeconds.Observe(d.Seconds())
}

// SetSchedulePasses sets the persisted schedule size gauge.
func SetSchedulePasses(n int) {
	schedulePasses.Set(float64(n))
}

// IncScheduleSaveFailures counts a failed atomic save.
func IncScheduleSaveFailures() {
	scheduleSaveFailuresTotal.Inc()
}

// IncRecordingsStarted counts a started recording activation.
func IncRecordingsStarted() {
	recordingsStartedTotal.Inc()
}

// IncRecordingSkipped counts a skipped fire by reason.
func IncRecordingSkipped(reason string) {
	recordingsSkippedTotal.WithLabelValues(reason).Inc()
}

// SetElementsDatasetCount sets the element dataset size gauge.
func SetElementsDatasetCount(n int) {
	elementsDatasetCount.Set(float64(n))
}

// SetElementsDatasetAge sets the element dataset age gauge.
func SetElementsDatasetAge(seconds float64) {
	elementsDatasetAge.Set(seconds)
}

// knownRoutes are the exact paths this service serves. Anything else is
// collapsed to "other" so scanner traffic cannot blow up label cardinality.
var knownRoutes = map[string]bool{
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/api/v1/passes": true,
	"/api/v1/status": true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
