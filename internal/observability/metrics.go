package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jarvis"

type moduleMetrics struct {
	turnTotal     *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	turnCalls     prometheus.Histogram
	turnErrors    prometheus.Histogram
	commandsTotal *prometheus.CounterVec

	agentCallTotal    *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	delegationTotal *prometheus.CounterVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	storeReloadTotal *prometheus.CounterVec
	storeBackupTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turn_total",
					Help:      "Total turns by terminal state.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Turn duration in seconds.",
					Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
				},
			),
			turnCalls: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_primary_calls",
					Help:      "Primary agent calls consumed per turn.",
					Buckets:   prometheus.LinearBuckets(0, 1, 11),
				},
			),
			turnErrors: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_recorded_errors",
					Help:      "Errors recorded per turn.",
					Buckets:   prometheus.LinearBuckets(0, 1, 6),
				},
			),
			commandsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "command_total",
					Help:      "Total slash commands handled by command name.",
				},
				[]string{"command"},
			),
			agentCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_call_total",
					Help:      "Total agent invocations by agent, provider and status.",
				},
				[]string{"agent", "provider", "status"},
			),
			agentCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_call_duration_seconds",
					Help:      "Agent invocation duration in seconds by agent and provider.",
					Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
				},
				[]string{"agent", "provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			delegationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "delegation_total",
					Help:      "Total delegations to the sub-agent by status.",
				},
				[]string{"status"},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total completions by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Queued task duration in seconds by lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			storeReloadTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_store_reload_total",
					Help:      "Model store reloads triggered by file changes, by status.",
				},
				[]string{"status"},
			),
			storeBackupTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_store_backup_total",
					Help:      "Model store backups by trigger and status.",
				},
				[]string{"trigger", "status"},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.turnCalls,
			m.turnErrors,
			m.commandsTotal,
			m.agentCallTotal,
			m.agentCallDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.delegationTotal,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.storeReloadTotal,
			m.storeBackupTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(outcome string, duration time.Duration, calls, errors int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.turnCalls.Observe(float64(calls))
	m.turnErrors.Observe(float64(errors))
}

func RecordCommand(command string) {
	getMetrics().commandsTotal.WithLabelValues(command).Inc()
}

func RecordAgentCall(agent, provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentCallTotal.WithLabelValues(agent, provider, status(success)).Inc()
	m.agentCallDuration.WithLabelValues(agent, provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordDelegation(success bool) {
	getMetrics().delegationTotal.WithLabelValues(status(success)).Inc()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordStoreReload(success bool) {
	getMetrics().storeReloadTotal.WithLabelValues(status(success)).Inc()
}

func RecordStoreBackup(trigger string, success bool) {
	getMetrics().storeBackupTotal.WithLabelValues(trigger, status(success)).Inc()
}
