package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixtools_api_request_latency_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status_code"},
	)

	JobStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixtools_job_status_total",
			Help: "Total jobs observed by final status",
		},
		[]string{"status"},
	)

	TaskRetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixtools_task_retry_total",
			Help: "Total task retries",
		},
		[]string{"task_name"},
	)
	TaskFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixtools_task_failure_total",
			Help: "Total task failures",
		},
		[]string{"task_name"},
	)
	WorkerTaskProcessingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixtools_worker_task_processing_seconds",
			Help:    "Worker task processing time in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"task_name"},
	)
	JobQueueWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixtools_job_queue_wait_seconds",
			Help:    "Queue wait time from enqueue to worker start",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"task_name"},
	)
	JobEndToEndSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pixtools_job_end_to_end_seconds",
			Help:    "End-to-end job duration from enqueue to finalize",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	WebhookCircuitTransitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixtools_webhook_circuit_transition_total",
			Help: "Circuit breaker transition count",
		},
		[]string{"old_state", "new_state"},
	)
	WebhookDeliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixtools_webhook_delivery_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"result"},
	)

	RabbitMQQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pixtools_rabbitmq_queue_depth",
			Help: "RabbitMQ queue depth",
		},
		[]string{"queue"},
	)
	RabbitMQQueueConsumers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pixtools_rabbitmq_queue_consumers",
			Help: "RabbitMQ queue consumers",
		},
		[]string{"queue"},
	)
	RabbitMQUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixtools_rabbitmq_up",
			Help: "RabbitMQ broker connectivity (1=up, 0=down)",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(APIRequestLatency)
	prometheus.MustRegister(JobStatusTotal)
	prometheus.MustRegister(TaskRetryTotal)
	prometheus.MustRegister(TaskFailureTotal)
	prometheus.MustRegister(WorkerTaskProcessingSeconds)
	prometheus.MustRegister(JobQueueWaitSeconds)
	prometheus.MustRegister(JobEndToEndSeconds)
	prometheus.MustRegister(WebhookCircuitTransitionTotal)
	prometheus.MustRegister(WebhookDeliveryTotal)
	prometheus.MustRegister(RabbitMQQueueDepth)
	prometheus.MustRegister(RabbitMQQueueConsumers)
	prometheus.MustRegister(RabbitMQUp)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern keeps path-parameter labels bounded; fall back to the
		// raw path outside the chi router.
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		APIRequestLatency.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Observe(dur)
	})
}

// ObserveJobStatus records a job reaching a final status.
func ObserveJobStatus(status string) {
	JobStatusTotal.WithLabelValues(status).Inc()
}

// ObserveTaskRetry records a task being re-published for retry.
func ObserveTaskRetry(taskName string) {
	TaskRetryTotal.WithLabelValues(taskName).Inc()
}

// ObserveTaskFailure records a task exhausting retries or failing fatally.
func ObserveTaskFailure(taskName string) {
	TaskFailureTotal.WithLabelValues(taskName).Inc()
}

// ObserveTaskProcessing records handler wall time for a task.
func ObserveTaskProcessing(taskName string, d time.Duration) {
	WorkerTaskProcessingSeconds.WithLabelValues(taskName).Observe(d.Seconds())
}

// ObserveQueueWait records the gap between enqueue and worker start.
func ObserveQueueWait(taskName string, d time.Duration) {
	JobQueueWaitSeconds.WithLabelValues(taskName).Observe(d.Seconds())
}

// ObserveJobEndToEnd records the full enqueue-to-finalize duration.
func ObserveJobEndToEnd(d time.Duration) {
	JobEndToEndSeconds.Observe(d.Seconds())
}

// ObserveWebhookDelivery records one delivery attempt outcome
// (success, error, circuit_open, no_webhook).
func ObserveWebhookDelivery(result string) {
	WebhookDeliveryTotal.WithLabelValues(result).Inc()
}

// ObserveCircuitTransition records a breaker state change.
func ObserveCircuitTransition(oldState, newState string) {
	WebhookCircuitTransitionTotal.WithLabelValues(oldState, newState).Inc()
}
