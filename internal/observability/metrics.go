package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting orchestrator
// metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn throughput and latency through the Conversation Orchestrator
//   - Agent Runtime LLM request performance and tool execution patterns
//   - Negotiation round counts and convergence outcomes
//   - Active Push Fabric subscriptions for capacity planning
//   - Background Task Runner run counts and outcomes
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.TurnDuration.Observe(time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts completed Turns by outcome.
	// Labels: outcome (success|partial_failure|cancelled|turn_budget_exceeded)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end run_turn latency in seconds.
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	TurnDuration prometheus.Histogram

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component, error_kind
	ErrorCounter *prometheus.CounterVec

	// ActiveSubscriptions is a gauge of currently connected Push Fabric
	// subscriptions.
	ActiveSubscriptions prometheus.Gauge

	// NegotiationRounds counts negotiation rounds run, by converged status.
	// Labels: converged ("true"|"false")
	NegotiationRounds *prometheus.CounterVec

	// GoalStepCounter counts Goal Step completions by outcome.
	// Labels: outcome (completed|skipped|failed)
	GoalStepCounter *prometheus.CounterVec

	// TaskRunCounter counts Background Task Runner runs by task type and
	// outcome.
	// Labels: task_type, outcome (completed|failed|cancelled)
	TaskRunCounter *prometheus.CounterVec

	// TaskRunDuration measures task run latency in seconds.
	// Labels: task_type
	TaskRunDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_turns_total",
				Help: "Total number of Turns completed, by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_turn_duration_seconds",
				Help:    "Duration of run_turn calls in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		ActiveSubscriptions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_subscriptions",
				Help: "Current number of connected Push Fabric subscriptions",
			},
		),

		NegotiationRounds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_negotiation_rounds_total",
				Help: "Total number of negotiation rounds run, by whether the round converged",
			},
			[]string{"converged"},
		),

		GoalStepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_goal_steps_total",
				Help: "Total number of Goal Steps completed, by outcome",
			},
			[]string{"outcome"},
		),

		TaskRunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_task_runs_total",
				Help: "Total number of background task runs, by task type and outcome",
			},
			[]string{"task_type", "outcome"},
		),

		TaskRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_task_run_duration_seconds",
				Help:    "Duration of background task runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"task_type"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordTurn records a completed Turn's outcome and latency.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error
// kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// SubscriptionOpened increments the active subscriptions gauge.
func (m *Metrics) SubscriptionOpened() {
	m.ActiveSubscriptions.Inc()
}

// SubscriptionClosed decrements the active subscriptions gauge.
func (m *Metrics) SubscriptionClosed() {
	m.ActiveSubscriptions.Dec()
}

// RecordNegotiationRound records one negotiation round's convergence outcome.
func (m *Metrics) RecordNegotiationRound(converged bool) {
	label := "false"
	if converged {
		label = "true"
	}
	m.NegotiationRounds.WithLabelValues(label).Inc()
}

// RecordGoalStep records a Goal Step reaching a terminal outcome.
func (m *Metrics) RecordGoalStep(outcome string) {
	m.GoalStepCounter.WithLabelValues(outcome).Inc()
}

// RecordTaskRun records a background task run's outcome and duration.
func (m *Metrics) RecordTaskRun(taskType, outcome string, durationSeconds float64) {
	m.TaskRunCounter.WithLabelValues(taskType, outcome).Inc()
	m.TaskRunDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
