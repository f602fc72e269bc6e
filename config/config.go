package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/poolgate/internal/store"
	"github.com/angeloszaimis/poolgate/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Environment  string        `mapstructure:"environment"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type PoolConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CooldownSeconds  int           `mapstructure:"cooldown_seconds"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
}

func (p PoolConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type UpstreamConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
}

type HealthCheckConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Model       string        `mapstructure:"model"`
}

type RequestLogConfig struct {
	Capacity   int    `mapstructure:"capacity"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Store       StoreConfig       `mapstructure:"store"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	RequestLog  RequestLogConfig  `mapstructure:"request_log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":9000")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", LogLevelInfo)

	v.SetDefault("pool.max_retries", 3)
	v.SetDefault("pool.failure_threshold", 3)
	v.SetDefault("pool.cooldown_seconds", 300)
	v.SetDefault("pool.attempt_timeout", "60s")

	v.SetDefault("strategy.type", strategy.LeastRecentlyUsed)

	v.SetDefault("store.driver", store.DriverFile)
	v.SetDefault("store.path", "account_pool.json")

	v.SetDefault("upstream.base_url", "https://api.apipod.ai/v1")
	v.SetDefault("upstream.default_model", "gpt-4o-mini")

	v.SetDefault("health_check.enabled", false)
	v.SetDefault("health_check.interval", "5m")
	v.SetDefault("health_check.concurrency", 5)
	v.SetDefault("health_check.timeout", "30s")
	v.SetDefault("health_check.model", "gpt-4o-mini")

	v.SetDefault("request_log.capacity", 1000)
	v.SetDefault("request_log.sqlite_path", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.buffer_size", 1000)
}

// Load reads path, or config.yaml from ./config or the working directory
// when path is empty, and applies environment overrides (server.address is
// SERVER_ADDRESS). PORT, when set, overrides the listen port.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		host, _, err := net.SplitHostPort(cfg.Server.Address)
		if err != nil {
			host = ""
		}
		cfg.Server.Address = net.JoinHostPort(host, port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Environment,
					validation.Required,
					validation.In(EnvDev, EnvStaging, EnvProd),
				),
				validation.Field(&sc.Address,
					validation.Required,
					validation.By(validateHostPort),
				),
				validation.Field(&sc.ReadTimeout, validation.Min(time.Duration(0))),
				validation.Field(&sc.WriteTimeout, validation.Min(time.Duration(0))),
				validation.Field(&sc.IdleTimeout, validation.Min(time.Duration(0))),
			)
		})),
		validation.Field(&c.Logging, validation.By(func(value interface{}) error {
			lc, ok := value.(LoggingConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level,
					validation.Required,
					validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
				),
			)
		})),
		validation.Field(&c.Pool, validation.By(func(value interface{}) error {
			pc, ok := value.(PoolConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a PoolConfig")
			}
			return validation.ValidateStruct(&pc,
				validation.Field(&pc.MaxRetries, validation.Required, validation.Min(1)),
				validation.Field(&pc.FailureThreshold, validation.Required, validation.Min(1)),
				validation.Field(&pc.CooldownSeconds, validation.Min(0)),
				validation.Field(&pc.AttemptTimeout, validation.Required, validation.Min(time.Millisecond)),
			)
		})),
		validation.Field(&c.Strategy, validation.By(func(value interface{}) error {
			sc, ok := value.(StrategyConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Type,
					validation.Required,
					validation.In(toInterfaces(strategy.Names())...),
				),
			)
		})),
		validation.Field(&c.Store, validation.By(func(value interface{}) error {
			sc, ok := value.(StoreConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a StoreConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Driver,
					validation.Required,
					validation.In(store.DriverMemory, store.DriverFile, store.DriverSQLite),
				),
				validation.Field(&sc.Path,
					validation.When(sc.Driver != store.DriverMemory, validation.Required),
				),
			)
		})),
		validation.Field(&c.Upstream, validation.By(func(value interface{}) error {
			uc, ok := value.(UpstreamConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
			}
			return validation.ValidateStruct(&uc,
				validation.Field(&uc.BaseURL,
					validation.Required,
					is.URL,
					validation.By(validateServerURL),
				),
				validation.Field(&uc.DefaultModel, validation.Required),
			)
		})),
		validation.Field(&c.HealthCheck, validation.By(func(value interface{}) error {
			hc, ok := value.(HealthCheckConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
			}
			return validation.ValidateStruct(&hc,
				validation.Field(&hc.Interval,
					validation.When(hc.Enabled, validation.Required, validation.Min(time.Second)),
				),
				validation.Field(&hc.Concurrency, validation.Required, validation.Min(1)),
				validation.Field(&hc.Timeout, validation.Required),
				validation.Field(&hc.Model, validation.Required),
			)
		})),
		validation.Field(&c.RequestLog, validation.By(func(value interface{}) error {
			rc, ok := value.(RequestLogConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a RequestLogConfig")
			}
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.Capacity, validation.Required, validation.Min(1)),
			)
		})),
		validation.Field(&c.Metrics, validation.By(func(value interface{}) error {
			mc, ok := value.(MetricsConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
			}
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.Path,
					validation.When(mc.Enabled, validation.Required, validation.By(validatePath)),
				),
				validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
			)
		})),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validatePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}
	return nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
