package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/orchestral/internal/logger"
	itls "github.com/loykin/orchestral/internal/tls"
)

// Storage drivers. Audit events are written only with DriverDatabase.
const (
	DriverCache    = "cache"
	DriverDatabase = "database"
)

// Config is the fully resolved configuration of one invocation.
type Config struct {
	Environment string   `mapstructure:"environment"`
	Program     string   `mapstructure:"program"`
	WorkingDir  string   `mapstructure:"working_dir"`
	Env         []string `mapstructure:"env"`
	EnvFiles    []string `mapstructure:"env_files"`
	UseOSEnv    bool     `mapstructure:"use_os_env"`

	Management Management    `mapstructure:"management"`
	Monitoring Monitoring    `mapstructure:"monitoring"`
	Storage    Storage       `mapstructure:"storage"`
	Log        logger.Config `mapstructure:"log"`
	Daemon     Daemon        `mapstructure:"daemon"`

	// Performances maps environment -> performance name -> definition.
	// Decoded separately so names keep their case and options keep their order.
	Performances map[string]map[string]Performance `mapstructure:"-"`
}

// Management holds restart policy. Durations are whole seconds as in the config file.
type Management struct {
	RestartOnFailure        bool `mapstructure:"restart_on_failure"`
	RestartDelay            int  `mapstructure:"restart_delay"`
	MaxRestartAttempts      int  `mapstructure:"max_restart_attempts"`
	RestartWindow           int  `mapstructure:"restart_window"`
	GracefulShutdownTimeout int  `mapstructure:"graceful_shutdown_timeout"`
	HealthCheckInterval     int  `mapstructure:"health_check_interval"`
}

type Monitoring struct {
	TrackMemory          bool `mapstructure:"track_memory"`
	TrackCPU             bool `mapstructure:"track_cpu"`
	MemoryAlertThreshold int  `mapstructure:"memory_alert_threshold"`
}

type Storage struct {
	Driver     string        `mapstructure:"driver"`
	DSN        string        `mapstructure:"dsn"`
	AuditDSN   string        `mapstructure:"audit_dsn"`
	AuditSinks []string      `mapstructure:"audit_sinks"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type Daemon struct {
	Interval      time.Duration `mapstructure:"interval"`
	Listen        string        `mapstructure:"listen"`
	BasePath      string        `mapstructure:"base_path"`
	MetricsListen string        `mapstructure:"metrics_listen"`
	LockFile      string        `mapstructure:"lock_file"`
	PIDFile       string        `mapstructure:"pidfile"`
	TLS           itls.Config   `mapstructure:"tls"`
}

// Performance is one [performances.<env>.<name>] table.
type Performance struct {
	Command    string   `toml:"command"`
	Performers uint     `toml:"performers"`
	Memory     uint     `toml:"memory"`
	Timeout    *uint    `toml:"timeout"`
	RetryAfter *uint    `toml:"retry_after"`
	Nice       int      `toml:"nice"`
	Env        []string `toml:"env"`
	Options    Options  `toml:"-"`
}

// DefaultStateDir is where default state files live when nothing else is configured.
func DefaultStateDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, "orchestral")
	}
	return filepath.Join(os.TempDir(), "orchestral")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("program", "php artisan")
	v.SetDefault("working_dir", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)

	v.SetDefault("management.restart_on_failure", true)
	v.SetDefault("management.restart_delay", 5)
	v.SetDefault("management.max_restart_attempts", 10)
	v.SetDefault("management.restart_window", 3600)
	v.SetDefault("management.graceful_shutdown_timeout", 30)
	v.SetDefault("management.health_check_interval", 60)

	v.SetDefault("monitoring.track_memory", true)
	v.SetDefault("monitoring.track_cpu", true)
	v.SetDefault("monitoring.memory_alert_threshold", 90)

	v.SetDefault("storage.driver", DriverCache)
	v.SetDefault("storage.dsn", "sqlite://"+filepath.Join(DefaultStateDir(), "state.db"))
	v.SetDefault("storage.audit_dsn", "")
	v.SetDefault("storage.audit_sinks", []string{})
	v.SetDefault("storage.ttl", 7*24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.path", "")
	v.SetDefault("log.performer_dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("daemon.interval", 10*time.Second)
	v.SetDefault("daemon.listen", "")
	v.SetDefault("daemon.base_path", "/api")
	v.SetDefault("daemon.metrics_listen", "")
	v.SetDefault("daemon.lock_file", filepath.Join(DefaultStateDir(), "monitor.lock"))
	v.SetDefault("daemon.pidfile", "")
	v.SetDefault("daemon.tls.enabled", false)
	v.SetDefault("daemon.tls.dir", filepath.Join(DefaultStateDir(), "tls"))
	v.SetDefault("daemon.tls.auto_generate", true)
	v.SetDefault("daemon.tls.min_version", "1.3")
}

// Load reads the TOML file at path (optional) layered over defaults and
// ORCHESTRAL_* environment variables, e.g. ORCHESTRAL_STORAGE_DRIVER.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ORCHESTRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("environment", "ORCHESTRAL_ENVIRONMENT", "ORCHESTRAL_ENV", "APP_ENV")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Performances = map[string]map[string]Performance{}
	if path != "" {
		perfs, err := LoadPerformances(path)
		if err != nil {
			return nil, err
		}
		cfg.Performances = perfs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in defaults with no performances, ignoring the
// environment and any config file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Performances = map[string]map[string]Performance{}
	return &cfg
}

// Validate reports malformed performance definitions.
func (c *Config) Validate() error {
	var errs []error
	for env, perfs := range c.Performances {
		for name, p := range perfs {
			if strings.TrimSpace(name) == "" {
				errs = append(errs, fmt.Errorf("performances.%s: empty performance name", env))
			}
			if strings.TrimSpace(p.Command) == "" {
				errs = append(errs, fmt.Errorf("performances.%s.%s: command is required", env, name))
			}
			if p.Nice < -20 || p.Nice > 19 {
				errs = append(errs, fmt.Errorf("performances.%s.%s: nice %d out of range [-20, 19]", env, name, p.Nice))
			}
		}
	}
	switch c.Storage.Driver {
	case DriverCache, DriverDatabase:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// GlobalEnv merges env_files then the top-level env list.
func (c *Config) GlobalEnv() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.Env...), nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in file order.
// Lines starting with # are ignored; no export keyword, no quoting.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, strings.TrimSpace(line[:i])+"="+strings.TrimSpace(line[i+1:]))
		}
	}
	return out, nil
}
