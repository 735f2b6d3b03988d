package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	processName = "process_name"
	tenantID    = "tenant_id"
)

var (
	// ProcessStates reflects the states of the engine's background processes
	// for this instance.
	ProcessStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autoflow_process_states",
		Help: "The current states of all the processes",
	}, []string{processName})

	// ProcessErrors is the number of errors from the engine's background
	// processes.
	ProcessErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoflow_process_error_count",
		Help: "Number of errors encountered by background processes",
	}, []string{processName})

	// TaskLatency is how long a due task takes to execute its step.
	TaskLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoflow_task_latency_seconds",
		Help:    "Step execution latency in seconds",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 60, 300},
	}, []string{tenantID})

	// TasksProcessed is the number of due tasks the poller has processed,
	// including ones that ended in a retry.
	TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoflow_tasks_processed_count",
		Help: "Number of due tasks processed",
	}, []string{tenantID})

	// OutboxEventsPublished is the number of buffered enrollment events the
	// purger has published to the event streamer.
	OutboxEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoflow_outbox_published_count",
		Help: "Number of outbox events published to the event streamer",
	}, []string{tenantID})
)

func init() {
	prometheus.MustRegister(
		ProcessStates,
		ProcessErrors,
		TaskLatency,
		TasksProcessed,
		OutboxEventsPublished,
	)
}

func Reset() {
	ProcessStates.Reset()
	ProcessErrors.Reset()
	TaskLatency.Reset()
	TasksProcessed.Reset()
	OutboxEventsPublished.Reset()
}
