// Package config loads and validates the service configuration via viper:
// defaults, then an optional config file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/reviewcore/internal/logger"
)

const providerGemini = "gemini"

// Config represents the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Database    DBConfig          `mapstructure:"database"`
	Logging     logger.Config     `mapstructure:"logging"`
	KG          KGConfig          `mapstructure:"kg"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts"`
	Parallelism ParallelismConfig `mapstructure:"parallelism"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
}

// KGConfig describes the bolt connection to the read-only code knowledge
// graph consumed by the candidate retriever.
type KGConfig struct {
	BoltURL               string        `mapstructure:"bolt_url"`
	Username              string        `mapstructure:"username"`
	Password              string        `mapstructure:"password"`
	Database              string        `mapstructure:"database"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size"`
	MaxConnectionLifetime time.Duration `mapstructure:"max_connection_lifetime"`
}

// LimitsConfig enumerates every bounded cap the pipeline enforces.
type LimitsConfig struct {
	MaxChangedFiles           int   `mapstructure:"max_changed_files"`
	MaxSeedSymbols            int   `mapstructure:"max_seed_symbols"`
	MaxSeedFiles              int   `mapstructure:"max_seed_files"`
	MaxKGSymbolMatchesPerSeed int   `mapstructure:"max_kg_symbol_matches_per_seed"`
	MaxCallersPerSeed         int   `mapstructure:"max_callers_per_seed"`
	MaxCalleesPerSeed         int   `mapstructure:"max_callees_per_seed"`
	MaxContainsPerSeed        int   `mapstructure:"max_contains_per_seed"`
	MaxImportFilesPerSeedFile int   `mapstructure:"max_import_files_per_seed_file"`
	MaxKGDocsTotal            int   `mapstructure:"max_kg_docs_total"`
	MaxContextItems           int   `mapstructure:"max_context_items"`
	MaxTotalCharacters        int   `mapstructure:"max_total_characters"`
	MaxItemCharacters         int   `mapstructure:"max_item_characters"`
	MaxFindings               int   `mapstructure:"max_findings"`
	MaxFileSizeBytes          int64 `mapstructure:"max_file_size_bytes"`
	MaxLineLength             int   `mapstructure:"max_line_length"`
}

// TimeoutsConfig carries the per-call timeouts.
type TimeoutsConfig struct {
	GitHubAPITimeout    time.Duration `mapstructure:"github_api_timeout"`
	KGConnectionTimeout time.Duration `mapstructure:"kg_connection_timeout"`
	KGQueryTimeout      time.Duration `mapstructure:"kg_query_timeout"`
	LLMTimeout          time.Duration `mapstructure:"llm_timeout"`
	CloneTimeout        time.Duration `mapstructure:"clone_timeout"`
}

// ParallelismConfig bounds the fan-out width of the KG and snippet stages.
type ParallelismConfig struct {
	MaxParallelKGCalls      int `mapstructure:"max_parallel_kg_calls"`
	MaxParallelSnippetFiles int `mapstructure:"max_parallel_snippet_files"`
}

// BreakerConfig parameterizes the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CoolDownMs       int `mapstructure:"cool_down_ms"`
}

// PipelineConfig holds model selection and operational toggles.
type PipelineConfig struct {
	ModelProvider  string  `mapstructure:"model_provider"`
	ModelName      string  `mapstructure:"model_name"`
	OllamaHost     string  `mapstructure:"ollama_host"`
	GeminiAPIKey   string  `mapstructure:"gemini_api_key"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxRetries     int     `mapstructure:"max_retries"`
	DryRun         bool    `mapstructure:"dry_run"`
	KeepCloneAfter bool    `mapstructure:"keep_clone_after"`
}

type ServerConfig struct {
	Port       string `mapstructure:"port"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type GitHubConfig struct {
	AppID          int64  `mapstructure:"app_id"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	Token          string `mapstructure:"token"` // for CLI runs
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// LoadConfig loads the configuration using viper with the hierarchy:
// Env Vars > Config File > Defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.reviewcore")

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Info("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Loaded configuration", "file", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_workers", 5)

	// GitHub
	v.SetDefault("github.private_key_path", "keys/reviewcore-app.private-key.pem")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	// Database
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "reviewcore")
	v.SetDefault("database.username", "postgres")
	// Password has no default
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	// KG
	v.SetDefault("kg.bolt_url", "bolt://localhost:7687")
	v.SetDefault("kg.database", "neo4j")
	v.SetDefault("kg.max_connection_pool_size", 50)
	v.SetDefault("kg.max_connection_lifetime", "1h")

	// Limits
	v.SetDefault("limits.max_changed_files", 50)
	v.SetDefault("limits.max_seed_symbols", 40)
	v.SetDefault("limits.max_seed_files", 30)
	v.SetDefault("limits.max_kg_symbol_matches_per_seed", 5)
	v.SetDefault("limits.max_callers_per_seed", 8)
	v.SetDefault("limits.max_callees_per_seed", 8)
	v.SetDefault("limits.max_contains_per_seed", 8)
	v.SetDefault("limits.max_import_files_per_seed_file", 10)
	v.SetDefault("limits.max_kg_docs_total", 10)
	v.SetDefault("limits.max_context_items", 40)
	v.SetDefault("limits.max_total_characters", 60000)
	v.SetDefault("limits.max_item_characters", 4000)
	v.SetDefault("limits.max_findings", 20)
	v.SetDefault("limits.max_file_size_bytes", 2<<20)
	v.SetDefault("limits.max_line_length", 2000)

	// Timeouts
	v.SetDefault("timeouts.github_api_timeout", "30s")
	v.SetDefault("timeouts.kg_connection_timeout", "10s")
	v.SetDefault("timeouts.kg_query_timeout", "15s")
	v.SetDefault("timeouts.llm_timeout", "90s")
	v.SetDefault("timeouts.clone_timeout", "2m")

	// Parallelism
	v.SetDefault("parallelism.max_parallel_kg_calls", 8)
	v.SetDefault("parallelism.max_parallel_snippet_files", 8)

	// Breaker
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cool_down_ms", 30000)

	// Pipeline
	v.SetDefault("pipeline.model_provider", "ollama")
	v.SetDefault("pipeline.model_name", "qwen2.5-coder:14b")
	v.SetDefault("pipeline.ollama_host", "http://localhost:11434")
	v.SetDefault("pipeline.max_tokens", 4096)
	v.SetDefault("pipeline.temperature", 0.2)
	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.dry_run", false)
	v.SetDefault("pipeline.keep_clone_after", false)
}

// ValidateForServer checks the fields the webhook server cannot run without.
func (c *Config) ValidateForServer() error {
	if c.GitHub.AppID == 0 {
		return errors.New("github.app_id is required")
	}
	if c.GitHub.WebhookSecret == "" {
		return errors.New("github.webhook_secret is required")
	}
	if _, err := os.Stat(c.GitHub.PrivateKeyPath); os.IsNotExist(err) {
		return fmt.Errorf("github private key not found at path: %s", c.GitHub.PrivateKeyPath)
	}
	return c.validatePipeline()
}

// ValidateForCLI checks the fields a token-authenticated CLI run needs.
func (c *Config) ValidateForCLI() error {
	if c.GitHub.Token == "" {
		return errors.New("github.token is required for CLI runs")
	}
	return c.validatePipeline()
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.ModelProvider == providerGemini && c.Pipeline.GeminiAPIKey == "" {
		return errors.New("pipeline.gemini_api_key is required for the gemini provider")
	}
	if c.Limits.MaxFindings > 20 {
		return fmt.Errorf("limits.max_findings cannot exceed 20 (got %d)", c.Limits.MaxFindings)
	}
	if c.Limits.MaxChangedFiles <= 0 {
		return errors.New("limits.max_changed_files must be positive")
	}
	return nil
}

// GetDSN renders the postgres connection string.
func (db *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host,
		db.Port,
		db.Username,
		db.Password,
		db.Database,
		db.SSLMode,
	)
}
