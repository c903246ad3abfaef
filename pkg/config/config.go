package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required,url|uri"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	// JWTSecret signs both user session tokens and the room-scoped
	// tokens embedded in boot payloads.
	JWTSecret string `mapstructure:"JWT_SECRET" validate:"required"`

	// Domain is the DNS zone rooms are registered under.
	Domain string `mapstructure:"DOMAIN" validate:"required,fqdn"`

	// DigitalOcean provider settings.
	DOToken       string `mapstructure:"DO_TOKEN" validate:"required"`
	DOProjectName string `mapstructure:"DO_PROJECT_NAME" validate:"required"`
	DOSSHKeyID    string `mapstructure:"DO_SSH_KEY_ID" validate:"required"`
	DORegion      string `mapstructure:"DO_REGION" validate:"required"`
	DOSize        string `mapstructure:"DO_SIZE" validate:"required"`
	DOImage       string `mapstructure:"DO_IMAGE" validate:"required"`

	// CallbackBaseURL is the externally reachable base URL of this API,
	// embedded in boot payloads so room agents can push status.
	CallbackBaseURL string `mapstructure:"CALLBACK_BASE_URL" validate:"required,url"`

	// Room lifecycle tunables.
	RoomTTL           time.Duration `mapstructure:"ROOM_TTL" validate:"required"`
	RenewWindow       time.Duration `mapstructure:"RENEW_WINDOW" validate:"required"`
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL" validate:"required"`
	ProvisionDeadline time.Duration `mapstructure:"PROVISION_DEADLINE" validate:"required"`
	IPPollBaseDelay   time.Duration `mapstructure:"IP_POLL_BASE_DELAY" validate:"required"`
	IPPollMaxDelay    time.Duration `mapstructure:"IP_POLL_MAX_DELAY" validate:"required"`
	IPPollMaxAttempts int           `mapstructure:"IP_POLL_MAX_ATTEMPTS" validate:"gte=1,lte=100"`
	ProbeTimeout      time.Duration `mapstructure:"PROBE_TIMEOUT" validate:"required"`
	ProbePort         int           `mapstructure:"PROBE_PORT" validate:"gte=1,lte=65535"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("DO_PROJECT_NAME", "neko")
	v.SetDefault("DO_REGION", "nyc1")
	v.SetDefault("DO_SIZE", "s-4vcpu-8gb")
	v.SetDefault("DO_IMAGE", "ubuntu-20-04-x64")
	v.SetDefault("CALLBACK_BASE_URL", "http://localhost:8080")
	v.SetDefault("ROOM_TTL", "2h")
	v.SetDefault("RENEW_WINDOW", "1h")
	v.SetDefault("RECONCILE_INTERVAL", "10s")
	v.SetDefault("PROVISION_DEADLINE", "10m")
	v.SetDefault("IP_POLL_BASE_DELAY", "30s")
	v.SetDefault("IP_POLL_MAX_DELAY", "4m")
	v.SetDefault("IP_POLL_MAX_ATTEMPTS", 20)
	v.SetDefault("PROBE_TIMEOUT", "2s")
	v.SetDefault("PROBE_PORT", 8081)
	v.SetDefault("GOMAXPROCS", 0)

	// Optional config file
	_ = v.ReadInConfig()

	// Bind env without prefix for convenience
	keys := []string{
		"APP_ENV",
		"HTTP_ADDR",
		"SHUTDOWN_TIMEOUT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"ASYNQ_CONCURRENCY",
		"JWT_SECRET",
		"DOMAIN",
		"DO_TOKEN",
		"DO_PROJECT_NAME",
		"DO_SSH_KEY_ID",
		"DO_REGION",
		"DO_SIZE",
		"DO_IMAGE",
		"CALLBACK_BASE_URL",
		"ROOM_TTL",
		"RENEW_WINDOW",
		"RECONCILE_INTERVAL",
		"PROVISION_DEADLINE",
		"IP_POLL_BASE_DELAY",
		"IP_POLL_MAX_DELAY",
		"IP_POLL_MAX_ATTEMPTS",
		"PROBE_TIMEOUT",
		"PROBE_PORT",
		"GOMAXPROCS",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Parse duration types that may come as string
	durations := map[string]*time.Duration{
		"SHUTDOWN_TIMEOUT":   &c.ShutdownTimeout,
		"ROOM_TTL":           &c.RoomTTL,
		"RENEW_WINDOW":       &c.RenewWindow,
		"RECONCILE_INTERVAL": &c.ReconcileInterval,
		"PROVISION_DEADLINE": &c.ProvisionDeadline,
		"IP_POLL_BASE_DELAY": &c.IPPollBaseDelay,
		"IP_POLL_MAX_DELAY":  &c.IPPollMaxDelay,
		"PROBE_TIMEOUT":      &c.ProbeTimeout,
	}
	for key, dst := range durations {
		if s := v.GetString(key); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}
