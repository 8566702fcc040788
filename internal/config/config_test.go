package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopsavr-agent/internal/detector"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Name != "shopsavr-agent" {
		t.Errorf("expected server name 'shopsavr-agent', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Server.LogLevel)
	}
	if cfg.Server.LogConsole {
		t.Error("expected console logging off by default")
	}

	// Browser defaults
	if !cfg.Browser.AutoStart {
		t.Error("expected AutoStart to be true")
	}
	if cfg.Browser.DefaultNavigationTimeout != "15s" {
		t.Errorf("expected navigation timeout '15s', got %q", cfg.Browser.DefaultNavigationTimeout)
	}

	// Automation and monitor defaults
	if cfg.Automation.GetSettleDelay() != 1200*time.Millisecond {
		t.Errorf("expected settle delay 1.2s, got %v", cfg.Automation.GetSettleDelay())
	}
	if cfg.Automation.ApplySearchDepth != 4 {
		t.Errorf("expected apply search depth 4, got %d", cfg.Automation.ApplySearchDepth)
	}
	if cfg.Monitor.GetDebounceWindow() != time.Second {
		t.Errorf("expected debounce window 1s, got %v", cfg.Monitor.GetDebounceWindow())
	}
	if cfg.Monitor.GetPollInterval() != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Monitor.GetPollInterval())
	}

	// Sync defaults
	if !cfg.Sync.Enabled {
		t.Error("expected sync enabled")
	}
	if cfg.Sync.MaxChangeAttempts != 5 {
		t.Errorf("expected 5 max change attempts, got %d", cfg.Sync.MaxChangeAttempts)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-agent"
  log_level: "debug"

browser:
  debugger_url: "ws://localhost:9222"
  viewport_width: 1280

backend:
  base_url: "https://api.test/api"
  timeout: "3s"

settings:
  auto_apply_enabled: false
  auto_apply_delay: "500ms"
  max_coupons_to_test: 4

profiles:
  - name: corner-shop
    domains: ["corner.example"]
    checkout_paths: ["/till"]
    field_selectors: ["#voucher"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Name != "test-agent" {
		t.Errorf("expected server name 'test-agent', got %q", cfg.Server.Name)
	}
	if cfg.Browser.ViewportWidth != 1280 {
		t.Errorf("expected viewport width 1280, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Backend.RequestTimeout() != 3*time.Second {
		t.Errorf("expected backend timeout 3s, got %v", cfg.Backend.RequestTimeout())
	}
	// Unset fields keep defaults
	if cfg.Store.Path != "data/shopsavr.db" {
		t.Errorf("expected default store path, got %q", cfg.Store.Path)
	}

	prefs := cfg.Settings.Preferences()
	if prefs.AutoApplyEnabled {
		t.Error("expected auto apply disabled")
	}
	if prefs.AutoApplyDelayMs != 500 {
		t.Errorf("expected auto apply delay 500ms, got %d", prefs.AutoApplyDelayMs)
	}
	if prefs.MaxCouponsToTest != 4 {
		t.Errorf("expected 4 coupons, got %d", prefs.MaxCouponsToTest)
	}
	if !prefs.ShowNotifications {
		t.Error("expected notifications to keep their default")
	}

	profiles := cfg.SiteProfiles()
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	if profiles[0].Name() != "corner-shop" {
		t.Errorf("expected profile 'corner-shop', got %q", profiles[0].Name())
	}
	if !profiles[0].IsCheckoutPage("https://corner.example/till") {
		t.Error("expected configured checkout path to match")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "empty server name",
			mutate:  func(c *Config) { c.Server.Name = "" },
			wantErr: true,
			errMsg:  "server.name is required",
		},
		{
			name:    "missing backend url",
			mutate:  func(c *Config) { c.Backend.BaseURL = "" },
			wantErr: true,
			errMsg:  "backend.base_url is required",
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
			errMsg:  "store.path is required",
		},
		{
			name:    "negative attempts",
			mutate:  func(c *Config) { c.Sync.MaxChangeAttempts = -1 },
			wantErr: true,
			errMsg:  "sync attempt limits must not be negative",
		},
		{
			name: "profile without domains",
			mutate: func(c *Config) {
				c.Profiles = append(c.Profiles, detectorProfile("bare"))
			},
			wantErr: true,
			errMsg:  `profile "bare" needs at least one domain`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				} else if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNavigationTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  string
		expected time.Duration
	}{
		{"empty string", "", 15 * time.Second},
		{"valid duration", "20s", 20 * time.Second},
		{"invalid duration", "invalid", 15 * time.Second},
		{"negative duration", "-5s", 15 * time.Second},
		{"milliseconds", "500ms", 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{DefaultNavigationTimeout: tt.timeout}
			result := cfg.NavigationTimeout()
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"attach default", BrowserConfig{}.AttachTimeout(), 10 * time.Second},
		{"action default", BrowserConfig{}.GetActionTimeout(), 5 * time.Second},
		{"message timeout", MCPConfig{MessageTimeout: "2s"}.GetMessageTimeout(), 2 * time.Second},
		{"backend default", BackendConfig{}.RequestTimeout(), 10 * time.Second},
		{"inter attempt", AutomationConfig{InterAttemptDelay: "10ms"}.GetInterAttemptDelay(), 10 * time.Millisecond},
		{"debounce disabled", MonitorConfig{DebounceWindow: "0s"}.GetDebounceWindow(), 0},
		{"retry backoff", SyncConfig{RetryBackoff: "bad"}.GetRetryBackoff(), time.Second},
		{"probe interval", SyncConfig{ProbeInterval: "1m"}.GetProbeInterval(), time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestGetRetryAttempts(t *testing.T) {
	if n := (SyncConfig{}).GetRetryAttempts(); n != 1 {
		t.Errorf("expected at least one attempt, got %d", n)
	}
	if n := (SyncConfig{RetryAttempts: 4}).GetRetryAttempts(); n != 4 {
		t.Errorf("expected 4 attempts, got %d", n)
	}
}

func TestIsHeadless(t *testing.T) {
	t.Run("nil headless defaults to true", func(t *testing.T) {
		cfg := BrowserConfig{Headless: nil}
		if !cfg.IsHeadless() {
			t.Error("expected true when Headless is nil")
		}
	})

	t.Run("explicit false", func(t *testing.T) {
		val := false
		cfg := BrowserConfig{Headless: &val}
		if cfg.IsHeadless() {
			t.Error("expected false when Headless is false")
		}
	})
}

func TestGetViewport(t *testing.T) {
	tests := []struct {
		name           string
		width, height  int
		expectedWidth  int
		expectedHeight int
	}{
		{"zero defaults", 0, 0, 1920, 1080},
		{"negative defaults", -100, -50, 1920, 1080},
		{"custom", 1280, 720, 1280, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{ViewportWidth: tt.width, ViewportHeight: tt.height}
			if w := cfg.GetViewportWidth(); w != tt.expectedWidth {
				t.Errorf("expected width %d, got %d", tt.expectedWidth, w)
			}
			if h := cfg.GetViewportHeight(); h != tt.expectedHeight {
				t.Errorf("expected height %d, got %d", tt.expectedHeight, h)
			}
		})
	}
}

func TestSettingsWithoutOverridesMatchDefaults(t *testing.T) {
	prefs := SettingsConfig{}.Preferences()
	if !prefs.AutoApplyEnabled || prefs.MaxCouponsToTest != 10 || prefs.AutoApplyDelayMs != 3000 {
		t.Errorf("unexpected defaults: %+v", prefs)
	}
}

func detectorProfile(name string) detector.SiteProfile {
	return detector.SiteProfile{ID: name}
}
