// Package config loads the orchestrator's YAML configuration into a single
// Config tree, applying defaults and validating before any component starts.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Version      int                `yaml:"version"`
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Evaluator    EvaluatorConfig    `yaml:"evaluator"`
	Negotiator   NegotiatorConfig   `yaml:"negotiator"`
	Push         PushConfig         `yaml:"push"`
	Tasks        TasksConfig        `yaml:"tasks"`
	Goals        GoalsConfig        `yaml:"goals"`
	Auth         AuthConfig         `yaml:"auth"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
	Router       RouterConfig       `yaml:"router"`
	LLM          LLMConfig          `yaml:"llm"`
	Agents       AgentsConfig       `yaml:"agents"`
}

// AgentsConfig locates the Agent Registry's roster.
type AgentsConfig struct {
	// RegistryFile points at the YAML agent roster. Empty uses the built-in
	// default registry.
	RegistryFile string `yaml:"registry_file"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// OrchestratorConfig configures the Conversation Orchestrator's Turn
// execution.
type OrchestratorConfig struct {
	// TurnBudget bounds a single run_turn call; exceeding it surfaces
	// turn_budget_exceeded and terminates the Turn.
	TurnBudget time.Duration `yaml:"turn_budget"`
	// PartialFailureThreshold is the fraction of failed agent reports (0-1)
	// at or above which the orchestrator synthesizes an apologetic response
	// instead of proceeding with partial results.
	PartialFailureThreshold float64 `yaml:"partial_failure_threshold"`
}

// EvaluatorConfig bounds the Evaluator's decision loop.
type EvaluatorConfig struct {
	// MaxLoopBacksPerTarget caps how many times any one agent may be looped
	// back to within a single Turn (P5).
	MaxLoopBacksPerTarget int `yaml:"max_loop_backs_per_target"`
}

// NegotiatorConfig tunes divergence detection and convergence.
type NegotiatorConfig struct {
	MaxRounds                int     `yaml:"max_rounds"`
	ConfidenceSpreadTrigger  float64 `yaml:"confidence_spread_trigger"`
	ConvergenceConfidenceMin float64 `yaml:"convergence_confidence_min"`
}

// PushConfig tunes the Push Fabric's WebSocket transport.
type PushConfig struct {
	SubscriptionQueueSize int           `yaml:"subscription_queue_size"`
	AuthGracePeriod       time.Duration `yaml:"auth_grace_period"`
	PingInterval          time.Duration `yaml:"ping_interval"`
	PongWait              time.Duration `yaml:"pong_wait"`
}

// TasksConfig tunes the Background Task Runner.
type TasksConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	ExecutionLockTTL   time.Duration `yaml:"execution_lock_ttl"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
}

// GoalsConfig tunes the Goal Planner/Executor.
type GoalsConfig struct {
	// RetryBudget is how many times a failed Step is retried before the Goal
	// is paused for user input, in autonomous execution.
	RetryBudget int `yaml:"retry_budget"`
}

// AuthConfig configures auth_proof token signing for Push Fabric
// subscriptions.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	// Dialect is "sqlite" (default, pure-Go) or "postgres".
	Dialect         string        `yaml:"dialect"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// RouterConfig tunes the Intent Router's classifier.
type RouterConfig struct {
	// K bounds how many recent messages feed the classifier.
	K int `yaml:"k"`
	// ConfidenceThreshold below which routing falls back to direct_response.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// TableFile points at the YAML intent->agent-sequence table. Empty uses
	// the built-in default table.
	TableFile string `yaml:"table_file"`
}

// LLMConfig configures the default LLMProvider.
type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	APIKey        string        `yaml:"api_key"`
	DefaultModel  string        `yaml:"default_model"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
}

// applyDefaults fills every zero-valued field with the numeric defaults
// the orchestrator process uses.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Orchestrator.TurnBudget == 0 {
		cfg.Orchestrator.TurnBudget = 120 * time.Second
	}
	if cfg.Orchestrator.PartialFailureThreshold == 0 {
		cfg.Orchestrator.PartialFailureThreshold = 0.5
	}

	if cfg.Evaluator.MaxLoopBacksPerTarget == 0 {
		cfg.Evaluator.MaxLoopBacksPerTarget = 2
	}

	if cfg.Negotiator.MaxRounds == 0 {
		cfg.Negotiator.MaxRounds = 3
	}
	if cfg.Negotiator.ConfidenceSpreadTrigger == 0 {
		cfg.Negotiator.ConfidenceSpreadTrigger = 0.3
	}
	if cfg.Negotiator.ConvergenceConfidenceMin == 0 {
		cfg.Negotiator.ConvergenceConfidenceMin = 0.7
	}

	if cfg.Push.SubscriptionQueueSize == 0 {
		cfg.Push.SubscriptionQueueSize = 256
	}
	if cfg.Push.AuthGracePeriod == 0 {
		cfg.Push.AuthGracePeriod = 10 * time.Second
	}
	if cfg.Push.PingInterval == 0 {
		cfg.Push.PingInterval = 30 * time.Second
	}
	if cfg.Push.PongWait == 0 {
		cfg.Push.PongWait = 60 * time.Second
	}

	if cfg.Tasks.PollInterval == 0 {
		cfg.Tasks.PollInterval = 30 * time.Second
	}
	if cfg.Tasks.ExecutionLockTTL == 0 {
		cfg.Tasks.ExecutionLockTTL = 5 * time.Minute
	}
	if cfg.Tasks.MaxConcurrentTasks == 0 {
		cfg.Tasks.MaxConcurrentTasks = 4
	}

	if cfg.Goals.RetryBudget == 0 {
		cfg.Goals.RetryBudget = 1
	}

	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}

	if cfg.Database.Dialect == "" {
		cfg.Database.Dialect = "sqlite"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Router.K == 0 {
		cfg.Router.K = 6
	}
	if cfg.Router.ConfidenceThreshold == 0 {
		cfg.Router.ConfidenceThreshold = 0.5
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.LLM.MaxToolRounds == 0 {
		cfg.LLM.MaxToolRounds = 3
	}
	if cfg.LLM.ToolTimeout == 0 {
		cfg.LLM.ToolTimeout = 30 * time.Second
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Dialect != "sqlite" && cfg.Database.Dialect != "postgres" {
		return fmt.Errorf("database.dialect must be sqlite or postgres, got %q", cfg.Database.Dialect)
	}
	if cfg.Orchestrator.PartialFailureThreshold <= 0 || cfg.Orchestrator.PartialFailureThreshold > 1 {
		return fmt.Errorf("orchestrator.partial_failure_threshold must be in (0, 1]")
	}
	if cfg.Negotiator.MaxRounds < 0 {
		return fmt.Errorf("negotiator.max_rounds must be >= 0")
	}
	return nil
}
