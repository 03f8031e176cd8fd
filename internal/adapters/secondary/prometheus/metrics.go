package prometheus

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

const namespace = "model_gateway"

// Recorder implements ports.Metrics and carries the HTTP collectors used by
// the gin middleware.
type Recorder struct {
	registrations   *prom.CounterVec
	loads           *prom.CounterVec
	loadDuration    *prom.HistogramVec
	predictions     *prom.CounterVec
	predictDuration *prom.HistogramVec
	cacheLookups    *prom.CounterVec

	httpRequests *prom.CounterVec
	httpDuration *prom.HistogramVec
	httpInflight *prom.GaugeVec
}

var _ ports.Metrics = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prom.Registerer) *Recorder {
	r := &Recorder{
		registrations: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "registrations_total",
				Help:      "Model version registrations by framework and outcome",
			},
			[]string{"framework", "outcome"},
		),
		loads: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "loads_total",
				Help:      "Model loads by framework and outcome",
			},
			[]string{"framework", "outcome"},
		),
		loadDuration: prom.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "load_duration_seconds",
				Help:      "Duration of model loads in seconds",
				Buckets:   prom.DefBuckets,
			},
			[]string{"framework"},
		),
		predictions: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "predictions_total",
				Help:      "Predictions by framework and outcome",
			},
			[]string{"framework", "outcome"},
		),
		predictDuration: prom.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "predict_duration_seconds",
				Help:      "Duration of predictions in seconds",
				Buckets:   prom.DefBuckets,
			},
			[]string{"framework"},
		),
		cacheLookups: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "handle_cache_lookups_total",
				Help:      "Handle cache lookups by result",
			},
			[]string{"result"},
		),
		httpRequests: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpDuration: prom.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prom.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
		httpInflight: prom.NewGaugeVec(
			prom.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "In-flight HTTP requests",
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(
		r.registrations, r.loads, r.loadDuration, r.predictions, r.predictDuration, r.cacheLookups,
		r.httpRequests, r.httpDuration, r.httpInflight,
	)
	return r
}

// outcome labels an error by its stable kind.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.KindOf(err))
}

func (r *Recorder) ObserveRegistration(fw domain.Framework, err error) {
	r.registrations.WithLabelValues(frameworkLabel(fw), outcome(err)).Inc()
}

func (r *Recorder) ObserveLoad(fw domain.Framework, d time.Duration, err error) {
	r.loads.WithLabelValues(frameworkLabel(fw), outcome(err)).Inc()
	r.loadDuration.WithLabelValues(frameworkLabel(fw)).Observe(d.Seconds())
}

func (r *Recorder) ObservePredict(fw domain.Framework, d time.Duration, err error) {
	r.predictions.WithLabelValues(frameworkLabel(fw), outcome(err)).Inc()
	r.predictDuration.WithLabelValues(frameworkLabel(fw)).Observe(d.Seconds())
}

func (r *Recorder) ObserveHandleCache(hit bool) {
	if hit {
		r.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.cacheLookups.WithLabelValues("miss").Inc()
}

// TrackInflight increments the in-flight gauge for path and returns the
// matching decrement.
func (r *Recorder) TrackInflight(path string) func() {
	g := r.httpInflight.WithLabelValues(path)
	g.Inc()
	return g.Dec
}

func (r *Recorder) ObserveHTTP(path, method string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(path, method, code).Inc()
	r.httpDuration.WithLabelValues(path, method, code).Observe(d.Seconds())
}

// frameworkLabel keeps label cardinality bounded when a caller sends an
// arbitrary framework string.
func frameworkLabel(fw domain.Framework) string {
	if fw.IsValid() {
		return string(fw)
	}
	return "other"
}
