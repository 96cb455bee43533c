// Package config loads sketchd configuration from ~/.sketchd/config.toml,
// SKETCHD_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// SKETCHD_API_BASE_URL for api.base_url.
const EnvPrefix = "SKETCHD"

// APIConfig configures the remote sketch store client.
type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url" toml:"base_url" yaml:"base_url"`
	Token         string        `mapstructure:"token" toml:"token,omitempty" yaml:"token,omitempty"`
	TokenFile     string        `mapstructure:"token_file" toml:"token_file" yaml:"token_file"`
	WriteAttempts int           `mapstructure:"write_attempts" toml:"write_attempts" yaml:"write_attempts"`
	PollInterval  time.Duration `mapstructure:"poll_interval" toml:"poll_interval" yaml:"poll_interval"`
	Timeout       time.Duration `mapstructure:"timeout" toml:"timeout" yaml:"timeout"`
	UploadWorkers int           `mapstructure:"upload_workers" toml:"upload_workers" yaml:"upload_workers"`
}

// DiscoveryConfig configures the board discovery connection.
type DiscoveryConfig struct {
	URL        string        `mapstructure:"url" toml:"url" yaml:"url"`
	MinBackoff time.Duration `mapstructure:"min_backoff" toml:"min_backoff" yaml:"min_backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" toml:"max_backoff" yaml:"max_backoff"`
}

// DaemonConfig configures the sync daemon.
type DaemonConfig struct {
	Debounce         time.Duration `mapstructure:"debounce" toml:"debounce" yaml:"debounce"`
	FullSyncInterval time.Duration `mapstructure:"full_sync_interval" toml:"full_sync_interval" yaml:"full_sync_interval"`
	// HistoryRetention prunes journaled syncs older than this. Zero keeps all.
	HistoryRetention time.Duration `mapstructure:"history_retention" toml:"history_retention" yaml:"history_retention"`
}

// DashboardConfig configures the status websocket server.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" toml:"addr" yaml:"addr"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress" yaml:"compress"`
}

// Config holds all runtime configuration.
type Config struct {
	Sketchbook string          `mapstructure:"sketchbook" toml:"sketchbook" yaml:"sketchbook"`
	StateDB    string          `mapstructure:"state_db" toml:"state_db" yaml:"state_db"`
	API        APIConfig       `mapstructure:"api" toml:"api" yaml:"api"`
	Discovery  DiscoveryConfig `mapstructure:"discovery" toml:"discovery" yaml:"discovery"`
	Daemon     DaemonConfig    `mapstructure:"daemon" toml:"daemon" yaml:"daemon"`
	Dashboard  DashboardConfig `mapstructure:"dashboard" toml:"dashboard" yaml:"dashboard"`
	Log        LogConfig       `mapstructure:"log" toml:"log" yaml:"log"`
}

// Dir returns the sketchd state directory, ~/.sketchd.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sketchd"
	}
	return filepath.Join(home, ".sketchd")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Default returns the built-in configuration.
func Default() Config {
	sketchbook := "Arduino"
	if home, err := os.UserHomeDir(); err == nil {
		sketchbook = filepath.Join(home, "Arduino")
	}
	return Config{
		Sketchbook: sketchbook,
		StateDB:    filepath.Join(Dir(), "state.db"),
		API: APIConfig{
			BaseURL:       "https://api2.arduino.cc/create",
			TokenFile:     filepath.Join(Dir(), "token"),
			WriteAttempts: 20,
			PollInterval:  250 * time.Millisecond,
			Timeout:       30 * time.Second,
			UploadWorkers: 4,
		},
		Discovery: DiscoveryConfig{
			URL:        "ws://127.0.0.1:50051/discovery",
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 30 * time.Second,
		},
		Daemon: DaemonConfig{
			Debounce:         500 * time.Millisecond,
			FullSyncInterval: 5 * time.Minute,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7171",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// SetDefaults registers the built-in values with v. Every key is registered
// so environment overrides apply to all of them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("sketchbook", d.Sketchbook)
	v.SetDefault("state_db", d.StateDB)

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("api.token_file", d.API.TokenFile)
	v.SetDefault("api.write_attempts", d.API.WriteAttempts)
	v.SetDefault("api.poll_interval", d.API.PollInterval)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.upload_workers", d.API.UploadWorkers)

	v.SetDefault("discovery.url", d.Discovery.URL)
	v.SetDefault("discovery.min_backoff", d.Discovery.MinBackoff)
	v.SetDefault("discovery.max_backoff", d.Discovery.MaxBackoff)

	v.SetDefault("daemon.debounce", d.Daemon.Debounce)
	v.SetDefault("daemon.full_sync_interval", d.Daemon.FullSyncInterval)
	v.SetDefault("daemon.history_retention", d.Daemon.HistoryRetention)

	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.addr", d.Dashboard.Addr)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// Init points v at the config file and the environment. An explicit cfgFile
// must exist; the default file is optional.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load reads the configuration from v, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Sketchbook = expandHome(cfg.Sketchbook)
	cfg.StateDB = expandHome(cfg.StateDB)
	cfg.API.TokenFile = expandHome(cfg.API.TokenFile)
	cfg.Log.File = expandHome(cfg.Log.File)
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Sketchbook == "" {
		return errors.New("sketchbook must be set")
	}
	if c.StateDB == "" {
		return errors.New("state_db must be set")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.WriteAttempts < 1 {
		return fmt.Errorf("api.write_attempts must be at least 1, got %d", c.API.WriteAttempts)
	}
	if c.API.UploadWorkers < 1 {
		return fmt.Errorf("api.upload_workers must be at least 1, got %d", c.API.UploadWorkers)
	}
	if c.Daemon.Debounce <= 0 {
		return fmt.Errorf("daemon.debounce must be positive, got %s", c.Daemon.Debounce)
	}
	if c.Daemon.FullSyncInterval < 0 {
		return fmt.Errorf("daemon.full_sync_interval must not be negative, got %s", c.Daemon.FullSyncInterval)
	}
	if c.Discovery.URL != "" {
		u, err := url.Parse(c.Discovery.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("discovery.url %q must be a ws:// or wss:// URL", c.Discovery.URL)
		}
	}
	return nil
}

// WriteDefault writes the built-in configuration as TOML to path. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := fmt.Fprintln(tmp, "# sketchd configuration. Environment variables SKETCHD_<SECTION>_<KEY> override these values."); err != nil {
		tmp.Close()
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(Default()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
