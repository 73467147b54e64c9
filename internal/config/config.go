// Package config provides explicit, validated configuration for the
// governance pipeline. Values come from defaults, an optional YAML
// file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"constitutional-gov/pkg/types"
)

// Config represents the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Detection  DetectionConfig  `yaml:"detection" json:"detection"`
	Scoring    ScoringConfig    `yaml:"scoring" json:"scoring"`
	Resolution ResolutionConfig `yaml:"resolution" json:"resolution"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Processor  ProcessorConfig  `yaml:"processor" json:"processor"`
	Escalation EscalationConfig `yaml:"escalation" json:"escalation"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Oracle     OracleConfig     `yaml:"oracle" json:"oracle"`
	Notify     NotifyConfig     `yaml:"notify" json:"notify"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout_seconds" json:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`
}

// DetectionConfig tunes the conflict detection passes.
type DetectionConfig struct {
	ContradictionThreshold float64 `yaml:"contradiction_threshold" json:"contradiction_threshold"`
	EnforcementThreshold   float64 `yaml:"enforcement_threshold" json:"enforcement_threshold"`
	MinConfidence          float64 `yaml:"min_confidence" json:"min_confidence"`
}

// ScoringConfig holds the complexity scorer weights and threshold.
// Weights must sum to 1.0.
type ScoringConfig struct {
	EscalationThreshold float64 `yaml:"escalation_threshold" json:"escalation_threshold"`
	WeightStakeholder   float64 `yaml:"weight_stakeholder" json:"weight_stakeholder"`
	WeightPrinciple     float64 `yaml:"weight_principle" json:"weight_principle"`
	WeightPolicy        float64 `yaml:"weight_policy" json:"weight_policy"`
	WeightSemantic      float64 `yaml:"weight_semantic" json:"weight_semantic"`
	WeightHistorical    float64 `yaml:"weight_historical" json:"weight_historical"`
	WeightUrgency       float64 `yaml:"weight_urgency" json:"weight_urgency"`
	DefaultFailureRate  float64 `yaml:"default_failure_rate" json:"default_failure_rate"`
}

// ResolutionConfig tunes the automatic resolution workflow.
type ResolutionConfig struct {
	ConfidenceOverride float64       `yaml:"confidence_override" json:"confidence_override"`
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	OracleTimeout      time.Duration `yaml:"oracle_timeout" json:"oracle_timeout"`
	Temperature        float64       `yaml:"temperature" json:"temperature"`
	TargetRate         float64       `yaml:"target_rate" json:"target_rate"`
}

// CacheConfig tunes the pattern cache.
type CacheConfig struct {
	Backend  string        `yaml:"backend" json:"backend"` // "memory" or "redis"
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	RedisURL string        `yaml:"redis_url" json:"-"`
}

// ProcessorConfig tunes the parallel conflict processor.
type ProcessorConfig struct {
	Workers       int           `yaml:"workers" json:"workers"`
	BatchDeadline time.Duration `yaml:"batch_deadline" json:"batch_deadline"`
	TargetTime    time.Duration `yaml:"target_time" json:"target_time"`
}

// EscalationConfig tunes the escalation rule engine and sweeper.
type EscalationConfig struct {
	SweepInterval     time.Duration                           `yaml:"sweep_interval" json:"sweep_interval"`
	RepeatThreshold   int                                     `yaml:"repeat_threshold" json:"repeat_threshold"`
	RepeatWindow      time.Duration                           `yaml:"repeat_window" json:"repeat_window"`
	UnresolvedAfter   time.Duration                           `yaml:"unresolved_after" json:"unresolved_after"`
	ResponseDeadlines map[types.EscalationLevel]time.Duration `yaml:"response_deadlines" json:"response_deadlines"`
}

// StorageConfig selects the SQL backend for principles, policies, and
// escalation records.
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"` // "sqlite3" or "postgres"
	DSN    string `yaml:"dsn" json:"-"`
}

// OracleConfig selects collaborator implementations.
type OracleConfig struct {
	Provider  string `yaml:"provider" json:"provider"` // "anthropic", "openai", "mock"
	Model     string `yaml:"model" json:"model"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
}

// NotifyConfig configures the notification dispatcher.
type NotifyConfig struct {
	Dispatcher  string            `yaml:"dispatcher" json:"dispatcher"` // "log" or "webhook"
	WebhookURLs map[string]string `yaml:"webhook_urls" json:"-"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8391,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Detection: DetectionConfig{
			ContradictionThreshold: 0.8,
			EnforcementThreshold:   0.7,
			MinConfidence:          0.5,
		},
		Scoring: ScoringConfig{
			EscalationThreshold: 0.7,
			WeightStakeholder:   0.25,
			WeightPrinciple:     0.20,
			WeightPolicy:        0.20,
			WeightSemantic:      0.15,
			WeightHistorical:    0.10,
			WeightUrgency:       0.10,
			DefaultFailureRate:  0.3,
		},
		Resolution: ResolutionConfig{
			ConfidenceOverride: 0.8,
			MaxRetries:         2,
			OracleTimeout:      10 * time.Second,
			Temperature:        0.3,
			TargetRate:         0.8,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     30 * time.Minute,
		},
		Processor: ProcessorConfig{
			Workers:       4,
			BatchDeadline: 30 * time.Second,
			TargetTime:    30 * time.Second,
		},
		Escalation: EscalationConfig{
			SweepInterval:   30 * time.Second,
			RepeatThreshold: 5,
			RepeatWindow:    time.Hour,
			UnresolvedAfter: 30 * time.Minute,
			ResponseDeadlines: map[types.EscalationLevel]time.Duration{
				types.LevelTechnicalReview:       60 * time.Minute,
				types.LevelPolicyManager:         30 * time.Minute,
				types.LevelStakeholderReview:     30 * time.Minute,
				types.LevelConstitutionalCouncil: 15 * time.Minute,
				types.LevelEmergencyResponse:     5 * time.Minute,
			},
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DSN:    "file:governance.db?_foreign_keys=on",
		},
		Oracle: OracleConfig{
			Provider:  "mock",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Notify: NotifyConfig{
			Dispatcher: "log",
			Timeout:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds a configuration from defaults, the optional YAML file at
// path (empty path skips the file), and environment variables. A .env
// file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("GOV_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("GOV_PORT", c.Server.Port)

	c.Detection.ContradictionThreshold = getEnvFloat("GOV_CONTRADICTION_THRESHOLD", c.Detection.ContradictionThreshold)
	c.Detection.EnforcementThreshold = getEnvFloat("GOV_ENFORCEMENT_THRESHOLD", c.Detection.EnforcementThreshold)

	c.Scoring.EscalationThreshold = getEnvFloat("GOV_ESCALATION_THRESHOLD", c.Scoring.EscalationThreshold)

	c.Resolution.MaxRetries = getEnvInt("GOV_ORACLE_MAX_RETRIES", c.Resolution.MaxRetries)
	c.Resolution.OracleTimeout = getEnvDuration("GOV_ORACLE_TIMEOUT", c.Resolution.OracleTimeout)

	c.Cache.Backend = getEnv("GOV_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTL = getEnvDuration("GOV_CACHE_TTL", c.Cache.TTL)
	c.Cache.RedisURL = getEnv("GOV_REDIS_URL", c.Cache.RedisURL)

	c.Processor.Workers = getEnvInt("GOV_WORKERS", c.Processor.Workers)
	c.Processor.BatchDeadline = getEnvDuration("GOV_BATCH_DEADLINE", c.Processor.BatchDeadline)

	c.Escalation.SweepInterval = getEnvDuration("GOV_SWEEP_INTERVAL", c.Escalation.SweepInterval)

	c.Storage.Driver = getEnv("GOV_DB_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("GOV_DB_DSN", c.Storage.DSN)

	c.Oracle.Provider = getEnv("GOV_ORACLE_PROVIDER", c.Oracle.Provider)
	c.Oracle.Model = getEnv("GOV_ORACLE_MODEL", c.Oracle.Model)

	c.Notify.Dispatcher = getEnv("GOV_NOTIFY_DISPATCHER", c.Notify.Dispatcher)

	c.Logging.Level = getEnv("GOV_LOG_LEVEL", c.Logging.Level)
}

// Validate checks structural invariants. Scorer weights must sum to
// 1.0 and every escalation level needs a response deadline.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for name, v := range map[string]float64{
		"contradiction_threshold": c.Detection.ContradictionThreshold,
		"enforcement_threshold":   c.Detection.EnforcementThreshold,
		"escalation_threshold":    c.Scoring.EscalationThreshold,
		"confidence_override":     c.Resolution.ConfidenceOverride,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0,1], got %f", name, v)
		}
	}

	sum := c.Scoring.WeightStakeholder + c.Scoring.WeightPrinciple + c.Scoring.WeightPolicy +
		c.Scoring.WeightSemantic + c.Scoring.WeightHistorical + c.Scoring.WeightUrgency
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scorer weights must sum to 1.0, got %f", sum)
	}

	if c.Processor.Workers < 1 {
		return fmt.Errorf("worker count must be >= 1, got %d", c.Processor.Workers)
	}
	if c.Processor.BatchDeadline <= 0 {
		return fmt.Errorf("batch deadline must be positive, got %s", c.Processor.BatchDeadline)
	}

	if c.Resolution.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", c.Resolution.MaxRetries)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.Cache.TTL)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend: %q", c.Cache.Backend)
	}

	for _, level := range []types.EscalationLevel{
		types.LevelTechnicalReview, types.LevelPolicyManager, types.LevelStakeholderReview,
		types.LevelConstitutionalCouncil, types.LevelEmergencyResponse,
	} {
		if d, ok := c.Escalation.ResponseDeadlines[level]; !ok || d <= 0 {
			return fmt.Errorf("missing or non-positive response deadline for level %s", level)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
