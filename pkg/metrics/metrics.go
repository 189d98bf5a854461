package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raterudder/pvforecast/pkg/types"
)

const namespace = "pvforecast"

// Collector exposes Prometheus metrics for requests, forecasts and errors.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	forecastKWH        *prometheus.GaugeVec
	forecastConfidence prometheus.Gauge
	forecastMethod     *prometheus.GaugeVec
	modelAccuracy      prometheus.Gauge
	nextHourKWH        prometheus.Gauge
	trainingSamples    prometheus.Gauge
	trainingDuration   prometheus.Histogram
	errorsTotal        *prometheus.CounterVec
}

// NewCollector constructs a collector on its own registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		forecastKWH: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "kwh",
			Help:      "Latest blended forecast in kWh.",
		}, []string{"day"}),
		forecastConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "confidence_percent",
			Help:      "Confidence of the latest forecast.",
		}),
		forecastMethod: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "method_info",
			Help:      "Method of the latest forecast (1 for the current method).",
		}, []string{"method"}),
		modelAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "accuracy_ratio",
			Help:      "Validation accuracy of the model.",
		}),
		nextHourKWH: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "next_hour_kwh",
			Help:      "Latest next hour estimate in kWh.",
		}),
		trainingSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "training_samples",
			Help:      "Samples used by the last training run.",
		}),
		trainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "training_duration_seconds",
			Help:      "Duration of training runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Handled errors by category and severity.",
		}, []string{"category", "severity"}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration,
		c.requestTotal,
		c.forecastKWH,
		c.forecastConfidence,
		c.forecastMethod,
		c.modelAccuracy,
		c.nextHourKWH,
		c.trainingSamples,
		c.trainingDuration,
		c.errorsTotal,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveForecast records the latest blended forecast. The Observe methods
// are no-ops on a nil Collector.
func (c *Collector) ObserveForecast(f types.Forecast) {
	if c == nil {
		return
	}
	c.forecastKWH.WithLabelValues("today").Set(f.Today)
	c.forecastKWH.WithLabelValues("tomorrow").Set(f.Tomorrow)
	c.forecastConfidence.Set(f.Confidence)
	c.forecastMethod.Reset()
	c.forecastMethod.WithLabelValues(f.Method).Set(1)
	if f.ModelAccuracy != nil {
		c.modelAccuracy.Set(*f.ModelAccuracy)
	}
}

// ObserveNextHour records the latest next hour estimate.
func (c *Collector) ObserveNextHour(kwh float64) {
	if c == nil {
		return
	}
	c.nextHourKWH.Set(kwh)
}

// ObserveTraining records a successful training run.
func (c *Collector) ObserveTraining(res types.TrainingResult) {
	if c == nil {
		return
	}
	c.trainingSamples.Set(float64(res.SamplesUsed))
	c.trainingDuration.Observe(res.Duration.Seconds())
	c.modelAccuracy.Set(res.Accuracy)
}

// ObserveError counts a handled error.
func (c *Collector) ObserveError(category, severity string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(category, severity).Inc()
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
