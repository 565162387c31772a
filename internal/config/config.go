package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MIRADOR_REMEDIATION_"

// Config captures the settings required to boot the remediation engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Advisory   AdvisoryConfig   `yaml:"advisory"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Cache      CacheConfig      `yaml:"cache"`
	Core       CoreConfig       `yaml:"core"`
	Audit      AuditConfig      `yaml:"audit"`
	Actions    ActionsConfig    `yaml:"actions"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// StrategiesConfig controls the strategy catalog and approval policy.
type StrategiesConfig struct {
	CatalogPath       string `yaml:"catalogPath"`
	ApprovalThreshold string `yaml:"approvalThreshold" validate:"omitempty,oneof=low medium high critical"`
}

// AdvisoryConfig selects and configures the strategy-scoring oracle.
type AdvisoryConfig struct {
	Provider     string             `yaml:"provider" validate:"oneof=static http openai"`
	Endpoint     string             `yaml:"endpoint" validate:"required_if=Provider http,omitempty,url"`
	ScorePath    string             `yaml:"scorePath"`
	APIKey       string             `yaml:"apiKey" validate:"required_if=Provider openai"`
	Model        string             `yaml:"model"`
	Timeout      time.Duration      `yaml:"timeout" validate:"gte=0"`
	RateLimit    float64            `yaml:"rateLimit" validate:"gte=0"`
	Burst        int                `yaml:"burst" validate:"gte=0"`
	StaticScores map[string]float64 `yaml:"staticScores"`
}

// ExecutionConfig controls plan execution defaults.
type ExecutionConfig struct {
	ActionTimeout time.Duration `yaml:"actionTimeout" validate:"gt=0"`
	PlanTimeout   time.Duration `yaml:"planTimeout" validate:"gte=0"`
	MaxRetries    int           `yaml:"maxRetries" validate:"gte=0,lte=10"`
	RetryDelay    time.Duration `yaml:"retryDelay" validate:"gte=0"`
	RequireGraph  bool          `yaml:"requireGraph"`
}

// CacheConfig controls Valkey-backed caching of graph analyses.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr" validate:"required_if=Enabled true"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db" validate:"gte=0"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	MaxRetries       int           `yaml:"maxRetries" validate:"gte=0"`
	TLS              bool          `yaml:"tls"`
	GraphAnalysisTTL time.Duration `yaml:"graphAnalysisTTL" validate:"gte=0"`
}

// CoreConfig points at the mirador-core service graph used to enrich incidents that arrive
// without topology. An empty BaseURL disables enrichment.
type CoreConfig struct {
	BaseURL   string        `yaml:"baseURL" validate:"omitempty,url"`
	GraphPath string        `yaml:"graphPath"`
	APIKey    string        `yaml:"apiKey"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

// AuditConfig configures where remediation outcomes are recorded.
type AuditConfig struct {
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	Path     string        `yaml:"path"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ActionsConfig configures built-in action handlers.
type ActionsConfig struct {
	WebhookTimeout time.Duration `yaml:"webhookTimeout" validate:"gte=0"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of every section.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Strategies: StrategiesConfig{
			CatalogPath:       "configs/strategies/default.yaml",
			ApprovalThreshold: "high",
		},
		Advisory: AdvisoryConfig{
			Provider:  "static",
			ScorePath: "/api/v1/advisory/score",
			Model:     "gpt-4o-mini",
			Timeout:   5 * time.Second,
			RateLimit: 5,
			Burst:     5,
		},
		Execution: ExecutionConfig{
			ActionTimeout: 300 * time.Second,
			PlanTimeout:   30 * time.Minute,
			MaxRetries:    3,
			RetryDelay:    5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:          false,
			DialTimeout:      2 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			WriteTimeout:     500 * time.Millisecond,
			MaxRetries:       2,
			GraphAnalysisTTL: 2 * time.Minute,
		},
		Core:    CoreConfig{GraphPath: "/api/v1/rca/service-graph", Timeout: 5 * time.Second},
		Audit:   AuditConfig{Path: "/api/v1/remediation/outcomes", Timeout: 5 * time.Second},
		Actions: ActionsConfig{WebhookTimeout: 10 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Address, "SERVER_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "METRICS_ADDRESS")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	setString(&cfg.Strategies.CatalogPath, "CATALOG_PATH")
	setString(&cfg.Strategies.ApprovalThreshold, "APPROVAL_THRESHOLD")

	setString(&cfg.Advisory.Provider, "ADVISORY_PROVIDER")
	setString(&cfg.Advisory.Endpoint, "ADVISORY_ENDPOINT")
	setString(&cfg.Advisory.ScorePath, "ADVISORY_SCORE_PATH")
	setString(&cfg.Advisory.APIKey, "ADVISORY_API_KEY")
	if cfg.Advisory.APIKey == "" && cfg.Advisory.Provider == "openai" {
		cfg.Advisory.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	setString(&cfg.Advisory.Model, "ADVISORY_MODEL")
	setDuration(&cfg.Advisory.Timeout, "ADVISORY_TIMEOUT")
	if v := os.Getenv(envPrefix + "ADVISORY_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Advisory.RateLimit = f
		}
	}
	setInt(&cfg.Advisory.Burst, "ADVISORY_BURST")

	setDuration(&cfg.Execution.ActionTimeout, "ACTION_TIMEOUT")
	setDuration(&cfg.Execution.PlanTimeout, "PLAN_TIMEOUT")
	setInt(&cfg.Execution.MaxRetries, "MAX_RETRIES")
	setDuration(&cfg.Execution.RetryDelay, "RETRY_DELAY")
	setBool(&cfg.Execution.RequireGraph, "REQUIRE_GRAPH")

	setBool(&cfg.Cache.Enabled, "CACHE_ENABLED")
	setString(&cfg.Cache.Addr, "CACHE_ADDR")
	setString(&cfg.Cache.Username, "CACHE_USERNAME")
	setString(&cfg.Cache.Password, "CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "CACHE_DB")
	setBool(&cfg.Cache.TLS, "CACHE_TLS")
	setDuration(&cfg.Cache.DialTimeout, "CACHE_DIAL_TIMEOUT")
	setDuration(&cfg.Cache.ReadTimeout, "CACHE_READ_TIMEOUT")
	setDuration(&cfg.Cache.WriteTimeout, "CACHE_WRITE_TIMEOUT")
	setInt(&cfg.Cache.MaxRetries, "CACHE_MAX_RETRIES")
	setDuration(&cfg.Cache.GraphAnalysisTTL, "CACHE_GRAPH_TTL")

	setString(&cfg.Core.BaseURL, "CORE_URL")
	setString(&cfg.Core.APIKey, "CORE_API_KEY")
	setDuration(&cfg.Core.Timeout, "CORE_TIMEOUT")

	setString(&cfg.Audit.Endpoint, "AUDIT_ENDPOINT")
	setString(&cfg.Audit.APIKey, "AUDIT_API_KEY")
	setDuration(&cfg.Audit.Timeout, "AUDIT_TIMEOUT")

	setDuration(&cfg.Actions.WebhookTimeout, "WEBHOOK_TIMEOUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
