package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	// DiscordToken is the primary bot. Additional bots are listed in Tenants.
	DiscordToken string          `yaml:"discord_token"`
	OwnerID      string          `yaml:"owner_id"`
	Tenants      []TenantConfig  `yaml:"tenants"`
	LogLevel     string          `yaml:"log_level"`
	Database     DatabaseConfig  `yaml:"database"`
	Redis        RedisConfig     `yaml:"redis"`
	Retry        RetryConfig     `yaml:"retry"`
	Tickets      TicketConfig    `yaml:"tickets"`
	Reconcile    ReconcileConfig `yaml:"reconcile"`
	Status       StatusConfig    `yaml:"status"`
	Health       HealthConfig    `yaml:"health"`
	EmbedColors  EmbedColors     `yaml:"embed_colors"`
}

// TenantConfig is one bot identity. OwnerID is the user the bot belongs to;
// it falls back to the global owner.
type TenantConfig struct {
	Name    string `yaml:"name"`
	Token   string `yaml:"token"`
	OwnerID string `yaml:"owner_id"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type RetryConfig struct {
	Attempts      int `yaml:"attempts"`
	BackoffMillis int `yaml:"backoff_millis"`
}

type TicketConfig struct {
	CloseDelaySeconds int `yaml:"close_delay_seconds"`
}

type ReconcileConfig struct {
	FastIntervalSeconds int `yaml:"fast_interval_seconds"`
	SlowIntervalMinutes int `yaml:"slow_interval_minutes"`
}

type StatusConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "/data/guildkeeper.db"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Retry:    RetryConfig{Attempts: 3, BackoffMillis: 200},
		Tickets:  TicketConfig{CloseDelaySeconds: 5},
		Reconcile: ReconcileConfig{
			FastIntervalSeconds: 90,
			SlowIntervalMinutes: 60,
		},
		Status: StatusConfig{Enabled: true, IntervalMinutes: 30},
		Health: HealthConfig{Enabled: false, Addr: ":8080"},
		EmbedColors: EmbedColors{
			Action:  0x2ECC71,
			Warning: 0xF59E0B,
			Error:   0xEF4444,
		},
	}
}

// Load reads path (or CONFIG_PATH, or config.yaml) and overlays the
// environment. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.TenantList()) == 0 {
		return errors.New("DISCORD_TOKEN or at least one tenant token is required")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	case DriverRedis:
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			return errors.New("redis.url or redis.addr is required for redis")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// TenantList returns every bot identity to run, the primary token first.
// Tenants without a token are skipped.
func (c Config) TenantList() []TenantConfig {
	var tenants []TenantConfig
	if c.DiscordToken != "" {
		tenants = append(tenants, TenantConfig{Name: "primary", Token: c.DiscordToken, OwnerID: c.OwnerID})
	}
	for i, tenant := range c.Tenants {
		if tenant.Token == "" {
			continue
		}
		if tenant.Name == "" {
			tenant.Name = "tenant-" + strconv.Itoa(i+1)
		}
		if tenant.OwnerID == "" {
			tenant.OwnerID = c.OwnerID
		}
		tenants = append(tenants, tenant)
	}
	return tenants
}

func (c Config) CloseDelay() time.Duration {
	if c.Tickets.CloseDelaySeconds < 0 {
		return 0
	}
	return time.Duration(c.Tickets.CloseDelaySeconds) * time.Second
}

func (c Config) FastSweepInterval() time.Duration {
	return time.Duration(c.Reconcile.FastIntervalSeconds) * time.Second
}

func (c Config) SlowSweepInterval() time.Duration {
	return time.Duration(c.Reconcile.SlowIntervalMinutes) * time.Minute
}

func (c Config) StatusInterval() time.Duration {
	return time.Duration(c.Status.IntervalMinutes) * time.Minute
}

func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Retry.BackoffMillis) * time.Millisecond
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", envString("DISCORD_TOKEN_TICKET", cfg.DiscordToken))
	cfg.OwnerID = envString("BOT_OWNER_ID", cfg.OwnerID)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.Path = envString("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.DSN = envString("DATABASE_DSN", cfg.Database.DSN)
	cfg.Redis.URL = envString("REDIS_URL", cfg.Redis.URL)
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Addr = host + ":" + envString("REDIS_PORT", "6379")
	}
	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Prefix = envString("REDIS_PREFIX", cfg.Redis.Prefix)
	cfg.Retry.Attempts = envInt("STORE_RETRY_ATTEMPTS", cfg.Retry.Attempts)
	cfg.Retry.BackoffMillis = envInt("STORE_RETRY_BACKOFF_MS", cfg.Retry.BackoffMillis)
	cfg.Tickets.CloseDelaySeconds = envInt("TICKET_CLOSE_DELAY_SECONDS", cfg.Tickets.CloseDelaySeconds)
	cfg.Reconcile.FastIntervalSeconds = envInt("RECONCILE_FAST_SECONDS", cfg.Reconcile.FastIntervalSeconds)
	cfg.Reconcile.SlowIntervalMinutes = envInt("RECONCILE_SLOW_MINUTES", cfg.Reconcile.SlowIntervalMinutes)
	cfg.Status.Enabled = envBool("STATUS_ENABLED", cfg.Status.Enabled)
	cfg.Status.IntervalMinutes = envInt("STATUS_INTERVAL_MINUTES", cfg.Status.IntervalMinutes)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)

	// Extra bots as "name=token" pairs, comma separated.
	for _, pair := range strings.Split(os.Getenv("DISCORD_TENANT_TOKENS"), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, token, ok := strings.Cut(pair, "=")
		if !ok {
			name, token = "", pair
		}
		cfg.Tenants = append(cfg.Tenants, TenantConfig{Name: strings.TrimSpace(name), Token: strings.TrimSpace(token)})
	}
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeDriver(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pgx":
		return DriverPostgres
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
