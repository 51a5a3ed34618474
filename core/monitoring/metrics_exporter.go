package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orchestrator"

// Metrics exports orchestration metrics for Prometheus on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	statusPolls    *prometheus.CounterVec
	callbacksTotal *prometheus.CounterVec
	jobRetries     prometheus.Counter
	jobsInFlight   prometheus.Gauge
	hourlyPrice    *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of job attempts by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of one job attempt in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
			},
			[]string{"action"},
		),
		statusPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_polls_total",
				Help:      "Instance status observations by wait phase and observed status",
			},
			[]string{"phase", "status"},
		),
		callbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callbacks_total",
				Help:      "Callback deliveries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Job attempts scheduled for retry",
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed",
		}),
		hourlyPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instance_hourly_price_usd",
				Help:      "Last looked-up on-demand hourly price by region and instance type",
			},
			[]string{"region", "instance_type"},
		),
	}

	m.registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.statusPolls,
		m.callbacksTotal,
		m.jobRetries,
		m.jobsInFlight,
		m.hourlyPrice,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobStarted marks a job attempt as in flight
func (m *Metrics) JobStarted() {
	m.jobsInFlight.Inc()
}

// JobFinished records the outcome of one job attempt
func (m *Metrics) JobFinished(action, outcome string, took time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(action, outcome).Inc()
	m.jobDuration.WithLabelValues(action).Observe(took.Seconds())
}

// JobRetried counts an attempt scheduled for retry
func (m *Metrics) JobRetried() {
	m.jobRetries.Inc()
}

// StatusObserved counts one status poll
func (m *Metrics) StatusObserved(phase, status string) {
	m.statusPolls.WithLabelValues(phase, status).Inc()
}

// CallbackDelivered records a callback delivery attempt
func (m *Metrics) CallbackDelivered(kind string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.callbacksTotal.WithLabelValues(kind, outcome).Inc()
}

// PriceObserved records an on-demand price lookup
func (m *Metrics) PriceObserved(region, instanceType string, usdPerHour float64) {
	m.hourlyPrice.WithLabelValues(region, instanceType).Set(usdPerHour)
}
