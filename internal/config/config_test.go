package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{
			name:   "sketchbook",
			envKey: "SKETCHD_SKETCHBOOK",
			envVal: "/tmp/sketches",
			field:  func(c Config) any { return c.Sketchbook },
			want:   "/tmp/sketches",
		},
		{
			name:   "api.base_url",
			envKey: "SKETCHD_API_BASE_URL",
			envVal: "http://localhost:9000/create",
			field:  func(c Config) any { return c.API.BaseURL },
			want:   "http://localhost:9000/create",
		},
		{
			name:   "api.write_attempts",
			envKey: "SKETCHD_API_WRITE_ATTEMPTS",
			envVal: "7",
			field:  func(c Config) any { return c.API.WriteAttempts },
			want:   7,
		},
		{
			name:   "daemon.debounce",
			envKey: "SKETCHD_DAEMON_DEBOUNCE",
			envVal: "2s",
			field:  func(c Config) any { return c.Daemon.Debounce },
			want:   2 * time.Second,
		},
		{
			name:   "dashboard.enabled",
			envKey: "SKETCHD_DASHBOARD_ENABLED",
			envVal: "true",
			field:  func(c Config) any { return c.Dashboard.Enabled },
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envVal)

			v := viper.New()
			if err := Init(v, ""); err != nil {
				t.Fatalf("Init() failed: %v", err)
			}
			cfg, err := Load(v)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if got := tt.field(cfg); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
sketchbook = "/data/sketchbook"

[api]
poll_interval = "1s"
upload_workers = 2

[daemon]
full_sync_interval = "0s"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	v := viper.New()
	if err := Init(v, path); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Sketchbook != "/data/sketchbook" {
		t.Errorf("Sketchbook = %q, want /data/sketchbook", cfg.Sketchbook)
	}
	if cfg.API.PollInterval != time.Second {
		t.Errorf("PollInterval = %s, want 1s", cfg.API.PollInterval)
	}
	if cfg.API.UploadWorkers != 2 {
		t.Errorf("UploadWorkers = %d, want 2", cfg.API.UploadWorkers)
	}
	if cfg.Daemon.FullSyncInterval != 0 {
		t.Errorf("FullSyncInterval = %s, want 0", cfg.Daemon.FullSyncInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.API.WriteAttempts != 20 {
		t.Errorf("WriteAttempts = %d, want 20", cfg.API.WriteAttempts)
	}
}

func TestInit_MissingExplicitFile(t *testing.T) {
	if err := Init(viper.New(), filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Init() with a missing explicit config file should fail")
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("WriteDefault() overwrote an existing file without force")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("WriteDefault(force) failed: %v", err)
	}

	v := viper.New()
	if err := Init(v, path); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only config.toml, found %d entries", len(entries))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no sketchbook", func(c *Config) { c.Sketchbook = "" }, true},
		{"relative base url", func(c *Config) { c.API.BaseURL = "api/create" }, true},
		{"zero attempts", func(c *Config) { c.API.WriteAttempts = 0 }, true},
		{"zero debounce", func(c *Config) { c.Daemon.Debounce = 0 }, true},
		{"http discovery", func(c *Config) { c.Discovery.URL = "http://localhost" }, true},
		{"no discovery", func(c *Config) { c.Discovery.URL = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/Arduino"); got != filepath.Join(home, "Arduino") {
		t.Errorf("expandHome(~/Arduino) = %q", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("expandHome(/abs/path) = %q", got)
	}
}
