package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "groundcontrol.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("GROUNDCONTROL_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "GROUNDCONTROL_PORT")
	setString(&cfg.Server.CORSOrigin, "GROUNDCONTROL_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "GROUNDCONTROL_API_KEY")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "GROUNDCONTROL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "GROUNDCONTROL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "GROUNDCONTROL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "GROUNDCONTROL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "GROUNDCONTROL_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Logging.Level, "GROUNDCONTROL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "GROUNDCONTROL_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "GROUNDCONTROL_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "GROUNDCONTROL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "GROUNDCONTROL_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "GROUNDCONTROL_RATE_RPS")
	setInt(&cfg.Rate.Burst, "GROUNDCONTROL_RATE_BURST")

	// Decision engine
	setFloat64(&cfg.Decision.AutoExecuteRiskThreshold, "GROUNDCONTROL_AUTO_EXECUTE_RISK_THRESHOLD")
	setDuration(&cfg.Decision.ContextCacheTTL, "GROUNDCONTROL_CONTEXT_CACHE_TTL")
	setInt(&cfg.Decision.HistoryLimit, "GROUNDCONTROL_DECISION_HISTORY_LIMIT")
	setDuration(&cfg.Decision.ConfirmationTimeout, "GROUNDCONTROL_CONFIRMATION_TIMEOUT")

	// Dispatch
	setInt(&cfg.Dispatch.MaxAttempts, "GROUNDCONTROL_DISPATCH_MAX_ATTEMPTS")
	setDuration(&cfg.Dispatch.InitialBackoff, "GROUNDCONTROL_DISPATCH_INITIAL_BACKOFF")
	setDuration(&cfg.Dispatch.MaxBackoff, "GROUNDCONTROL_DISPATCH_MAX_BACKOFF")
	setDuration(&cfg.Dispatch.AttemptTimeout, "GROUNDCONTROL_DISPATCH_ATTEMPT_TIMEOUT")
	setInt(&cfg.Dispatch.MaxInFlight, "GROUNDCONTROL_DISPATCH_MAX_IN_FLIGHT")
	setString(&cfg.Dispatch.SubjectPrefix, "GROUNDCONTROL_DISPATCH_SUBJECT_PREFIX")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "GROUNDCONTROL_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Backend, "GROUNDCONTROL_CACHE_L2_BACKEND")
	setString(&cfg.Cache.L2Bucket, "GROUNDCONTROL_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "GROUNDCONTROL_CACHE_L2_TTL")
	setString(&cfg.Cache.IdempotencyBucket, "GROUNDCONTROL_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Cache.IdempotencyTTL, "GROUNDCONTROL_IDEMPOTENCY_TTL")
	setDuration(&cfg.Cache.IdempotencyClaimTTL, "GROUNDCONTROL_IDEMPOTENCY_CLAIM_TTL")

	// Observability
	setBool(&cfg.OTel.Enabled, "GROUNDCONTROL_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "GROUNDCONTROL_OTEL_INSECURE")

	// MCP
	setBool(&cfg.MCP.Enabled, "GROUNDCONTROL_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "GROUNDCONTROL_MCP_API_KEY")

	// Operator alerts
	setString(&cfg.Notify.SlackWebhookURL, "GROUNDCONTROL_NOTIFY_SLACK_WEBHOOK")
	setString(&cfg.Notify.DiscordWebhookURL, "GROUNDCONTROL_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "GROUNDCONTROL_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.SendTimeout, "GROUNDCONTROL_NOTIFY_SEND_TIMEOUT")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if t := cfg.Decision.AutoExecuteRiskThreshold; t < 0 || t > 1 {
		return errors.New("decision.auto_execute_risk_threshold must be within [0,1]")
	}
	if cfg.Decision.ContextCacheTTL < time.Second {
		return errors.New("decision.context_cache_ttl must be >= 1s")
	}
	if cfg.Decision.HistoryLimit < 1 {
		return errors.New("decision.history_limit must be >= 1")
	}
	if cfg.Decision.ConfirmationTimeout < time.Second {
		return errors.New("decision.confirmation_timeout must be >= 1s")
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch.max_attempts must be >= 1")
	}
	if cfg.Dispatch.InitialBackoff <= 0 {
		return errors.New("dispatch.initial_backoff must be > 0")
	}
	if cfg.Dispatch.MaxInFlight < 1 {
		return errors.New("dispatch.max_in_flight must be >= 1")
	}
	switch cfg.Cache.L2Backend {
	case "natskv", "redis", "none":
	default:
		return fmt.Errorf("cache.l2_backend must be natskv, redis or none, got %q", cfg.Cache.L2Backend)
	}
	if cfg.Cache.L2Backend == "redis" && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when cache.l2_backend is redis")
	}
	if cfg.Cache.IdempotencyClaimTTL < time.Second {
		return errors.New("cache.idempotency_claim_ttl must be >= 1s")
	}
	if cfg.Cache.IdempotencyTTL < cfg.Cache.IdempotencyClaimTTL {
		return errors.New("cache.idempotency_ttl must be >= cache.idempotency_claim_ttl")
	}
	if cfg.Notify.SendTimeout <= 0 {
		return errors.New("notify.send_timeout must be > 0")
	}
	for name, p := range cfg.Risk.Tools {
		if p.Base < 0 || p.Base > 1 {
			return fmt.Errorf("risk.tools.%s.base must be within [0,1]", name)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStringSlice splits a comma-separated value, dropping empty items.
func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
