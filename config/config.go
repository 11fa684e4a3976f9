package config

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

// MaxBackendWeight matches the registry's bound on a single weight.
const MaxBackendWeight = math.MaxInt32

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
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
	Path     string `mapstructure:"path"`
}

type RouterConfig struct {
	ForwardTimeout string `mapstructure:"forward_timeout"`
	GeneratePath   string `mapstructure:"generate_path"`
}

type StatsConfig struct {
	LogCapacity    int `mapstructure:"log_capacity"`
	StatusLogLimit int `mapstructure:"status_log_limit"`
}

type ControlConfig struct {
	RestartSettle         string `mapstructure:"restart_settle"`
	DefaultFailureSeconds int    `mapstructure:"default_failure_seconds"`
}

// SupervisorConfig controls whether RandDistri spawns its workers. When
// disabled the workers are expected to be running already.
type SupervisorConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Command      string   `mapstructure:"command"`
	Args         []string `mapstructure:"args"`
	StopTimeout  string   `mapstructure:"stop_timeout"`
	ReadyTimeout string   `mapstructure:"ready_timeout"`
}

type MetricsConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	EventBuffer int  `mapstructure:"event_buffer"`
}

type BackendConfig struct {
	ID     string `mapstructure:"id"`
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Router      RouterConfig      `mapstructure:"router"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Control     ControlConfig     `mapstructure:"control"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Backends    []BackendConfig   `mapstructure:"backends"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":5000")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)
	v.SetDefault("health_check.interval", "5s")
	v.SetDefault("health_check.timeout", "1s")
	v.SetDefault("health_check.path", "/health")
	v.SetDefault("router.forward_timeout", "3s")
	v.SetDefault("router.generate_path", "/generate")
	v.SetDefault("stats.log_capacity", 1000)
	v.SetDefault("stats.status_log_limit", 200)
	v.SetDefault("control.restart_settle", "300ms")
	v.SetDefault("control.default_failure_seconds", 10)
	v.SetDefault("supervisor.enabled", false)
	v.SetDefault("supervisor.command", "randdistri-worker")
	v.SetDefault("supervisor.stop_timeout", "3s")
	v.SetDefault("supervisor.ready_timeout", "5s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.event_buffer", 1000)
	v.SetDefault("backends", []map[string]any{
		{"id": "Server1", "url": "http://127.0.0.1:5001", "weight": 60},
		{"id": "Server2", "url": "http://127.0.0.1:5002", "weight": 30},
		{"id": "Server3", "url": "http://127.0.0.1:5003", "weight": 10},
	})
}

// Load reads config.yaml from ./config or the working directory. A missing
// file is not an error: defaults and environment variables apply.
func Load() (*Config, error) {
	return load("")
}

// LoadFile reads the given file instead of searching for config.yaml.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
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
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
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
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
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
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.By(validateDuration)),
					validation.Field(&hc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&hc.Path, validation.Required, validation.By(validatePath)),
				)
			}),
		),
		validation.Field(&c.Router,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RouterConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RouterConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.ForwardTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.GeneratePath, validation.Required, validation.By(validatePath)),
				)
			}),
		),
		validation.Field(&c.Stats,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StatsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StatsConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.LogCapacity, validation.Required, validation.Min(1)),
					validation.Field(&sc.StatusLogLimit, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Control,
			validation.By(func(value interface{}) error {
				cc, ok := value.(ControlConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ControlConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.RestartSettle, validation.Required, validation.By(validateDuration)),
					validation.Field(&cc.DefaultFailureSeconds, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Supervisor,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SupervisorConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SupervisorConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Command, validation.When(sc.Enabled, validation.Required)),
					validation.Field(&sc.StopTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.ReadyTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.EventBuffer, validation.When(mc.Enabled, validation.Required, validation.Min(1))),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(validateUniqueIDs),
		),
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

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 300ms, 5s, 1m)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
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

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.ID == "" {
		return validation.NewError("validation_empty_id", "backend id cannot be empty")
	}

	if backend.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backend.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if backend.Weight < 0 || backend.Weight > MaxBackendWeight {
		return validation.NewError("validation_invalid_weight", fmt.Sprintf("weight must be between 0 and %d", MaxBackendWeight))
	}

	return nil
}

func validateUniqueIDs(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of BackendConfig")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.ID]; dup {
			return validation.NewError("validation_duplicate_id", fmt.Sprintf("duplicate backend id %q", b.ID))
		}
		seen[b.ID] = struct{}{}
	}
	return nil
}

// mustDuration is only called on values Validate has accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q", s))
	}
	return d
}

func (h HealthCheckConfig) IntervalDuration() time.Duration { return mustDuration(h.Interval) }
func (h HealthCheckConfig) TimeoutDuration() time.Duration  { return mustDuration(h.Timeout) }

func (r RouterConfig) ForwardTimeoutDuration() time.Duration { return mustDuration(r.ForwardTimeout) }

func (c ControlConfig) RestartSettleDuration() time.Duration { return mustDuration(c.RestartSettle) }

func (s SupervisorConfig) StopTimeoutDuration() time.Duration  { return mustDuration(s.StopTimeout) }
func (s SupervisorConfig) ReadyTimeoutDuration() time.Duration { return mustDuration(s.ReadyTimeout) }
