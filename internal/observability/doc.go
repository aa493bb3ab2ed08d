// Package observability provides monitoring and debugging capabilities for
// the orchestration runtime through metrics, structured logging, and
// distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Turn throughput and latency through the Conversation Orchestrator
//   - LLM API request latency and token usage
//   - Tool execution performance
//   - Error rates by component and error kind
//   - Active Push Fabric subscription counts
//   - Negotiation round and Goal Step outcomes
//   - Background Task Runner run counts and durations
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... run a Turn ...
//	metrics.RecordTurn("success", time.Since(start).Seconds())
//
//	start = time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("search_jobs", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx = observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddUserID(ctx, userID)
//
//	logger.Info(ctx, "turn started",
//	    "conversation_id", conversationID,
//	    "input_length", len(input),
//	)
//
//	logger.Error(ctx, "llm request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a Turn across components:
//   - One span per Turn, Step, and agent execution
//   - Performance bottleneck identification
//   - Error correlation across agent runs
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "orchestrator",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceTurn(ctx, conversationID, userID)
//	defer span.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
//	defer llmSpan.End()
//
// # Context Propagation
//
// All three components integrate with Go's context for correlation:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddUserID(ctx, "user-789")
//	ctx = observability.AddConversationID(ctx, "conv-456")
//
//	logger.Info(ctx, "processing turn") // includes request_id, user_id, etc.
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Turn throughput
//	rate(orchestrator_turns_total[5m])
//
//	# Turn latency (95th percentile)
//	histogram_quantile(0.95, rate(orchestrator_turn_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(orchestrator_errors_total[5m])
//
//	# Active subscriptions
//	orchestrator_active_subscriptions
//
//	# Tool execution time
//	rate(orchestrator_tool_execution_duration_seconds_sum[5m]) /
//	rate(orchestrator_tool_execution_duration_seconds_count[5m])
//
// # Alerting
//
// Recommended alerts based on metrics:
//   - High error rate: orchestrator_errors_total > threshold
//   - High LLM latency: p95 latency > 10s
//   - Turn budget exhaustion climbing: orchestrator_turns_total{outcome="turn_budget_exceeded"}
//   - Subscription accumulation: orchestrator_active_subscriptions growing unbounded
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
