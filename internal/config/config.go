// Package config assembles the runtime configuration from tier defaults, an
// optional YAML file and CLAIMGUARD_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLAIMGUARD_"

// Load builds the configuration. path may be empty.
func Load(path string) (*domain.Config, error) {
	return load(path, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func load(path string, lookup lookupFunc) (*domain.Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		data = b
	}

	tier, err := resolveTier(data, lookup)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.Tier = tier

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveTier picks the defaults to start from. The environment wins over
// the file.
func resolveTier(data []byte, lookup lookupFunc) (domain.Tier, error) {
	tier := domain.TierCommunity
	if len(data) > 0 {
		var head struct {
			Tier domain.Tier `yaml:"tier"`
		}
		if err := yaml.Unmarshal(data, &head); err != nil {
			return "", fmt.Errorf("parse config: %w", err)
		}
		if head.Tier != "" {
			tier = head.Tier
		}
	}
	if v, ok := lookup(EnvPrefix + "TIER"); ok && v != "" {
		tier = domain.Tier(strings.ToLower(v))
	}

	switch tier {
	case domain.TierCommunity, domain.TierPro:
		return tier, nil
	default:
		return "", fmt.Errorf("unknown tier %q", tier)
	}
}

func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	env := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return v, ok && v != ""
	}

	if v, ok := env("DEBUG"); ok && v == "true" {
		cfg.Logging.Level = "debug"
	}
	if v, ok := env("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := env("HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := env("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT %q: %w", EnvPrefix, v, err)
		}
		cfg.Server.Port = port
	}

	if v, ok := env("MODEL_PATH"); ok {
		cfg.Model.Path = v
	}
	if v, ok := env("FREQUENCY_TABLE_PATH"); ok {
		cfg.Model.FrequencyTablePath = v
	}
	if v, ok := env("ALERT_EXPRESSION"); ok {
		cfg.Alert.Expression = v
	}

	if v, ok := env("DB_DRIVER"); ok {
		cfg.Repository.Driver = v
	}
	if v, ok := env("DB_PATH"); ok {
		cfg.Repository.SQLitePath = v
	}
	if v, ok := env("POSTGRES_HOST"); ok {
		cfg.Repository.PostgresHost = v
	}
	if v, ok := env("POSTGRES_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPOSTGRES_PORT %q: %w", EnvPrefix, v, err)
		}
		cfg.Repository.PostgresPort = port
	}
	if v, ok := env("POSTGRES_USER"); ok {
		cfg.Repository.PostgresUser = v
	}
	if v, ok := env("POSTGRES_PASSWORD"); ok {
		cfg.Repository.PostgresPassword = v
	}
	if v, ok := env("POSTGRES_DB"); ok {
		cfg.Repository.PostgresDB = v
	}
	if v, ok := env("POSTGRES_SSLMODE"); ok {
		cfg.Repository.PostgresSSLMode = v
	}

	if v, ok := env("CACHE_TYPE"); ok {
		cfg.Cache.Type = v
	}
	if v, ok := env("REDIS_ADDR"); ok {
		cfg.Cache.RedisAddr = v
	}
	if v, ok := env("REDIS_PASSWORD"); ok {
		cfg.Cache.RedisPassword = v
	}
	if v, ok := env("CLAIM_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sCLAIM_TTL %q: %w", EnvPrefix, v, err)
		}
		cfg.Cache.ClaimTTL = d
	}

	if v, ok := env("BUS_TYPE"); ok {
		cfg.EventBus.Type = v
	}
	if v, ok := env("NATS_URL"); ok {
		cfg.EventBus.NATSUrl = v
	}
	if v, ok := env("NATS_TOKEN"); ok {
		cfg.EventBus.NATSToken = v
	}
	if v, ok := env("KAFKA_BROKERS"); ok {
		cfg.EventBus.KafkaBrokers = splitList(v)
	}
	if v, ok := env("GROUP_ID"); ok {
		cfg.EventBus.GroupID = v
	}

	if v, ok := env("RATE_LIMIT"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sRATE_LIMIT %q: %w", EnvPrefix, v, err)
		}
		cfg.RateLimit.Enabled = rps > 0
		cfg.RateLimit.RequestsPerSecond = rps
	}
	if v, ok := env("TRACING"); ok {
		cfg.Tracing.Enabled = v == "true"
	}

	return nil
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Model.Path == "" {
		return fmt.Errorf("model path is required")
	}
	if cfg.Model.FrequencyTablePath == "" {
		return fmt.Errorf("frequency table path is required")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver)
	}
	if cfg.EventBus.Type == "kafka" && len(cfg.EventBus.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka event bus requires at least one broker")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requires a positive requests per second")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
