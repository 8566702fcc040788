package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"shopsavr-agent/internal/detector"
	"shopsavr-agent/internal/model"
)

const (
	// WorkspaceDirName is the directory name for project-level agent config.
	WorkspaceDirName = ".shopsavr"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings of the agent.
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Browser    BrowserConfig          `yaml:"browser"`
	MCP        MCPConfig              `yaml:"mcp"`
	Backend    BackendConfig          `yaml:"backend"`
	Store      StoreConfig            `yaml:"store"`
	Automation AutomationConfig       `yaml:"automation"`
	Monitor    MonitorConfig          `yaml:"monitor"`
	Sync       SyncConfig             `yaml:"sync"`
	Settings   SettingsConfig         `yaml:"settings"`
	Profiles   []detector.SiteProfile `yaml:"profiles"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogConsole also writes human-readable logs to stderr. Leave it off
	// for stdio MCP, where stderr noise confuses some clients.
	LogConsole    bool `yaml:"log_console"`
	LogMaxSizeMB  int  `yaml:"log_max_size_mb"`
	LogMaxBackups int  `yaml:"log_max_backups"`
	LogMaxAgeDays int  `yaml:"log_max_age_days"`
	// TraceDir holds per-session JSONL traces; empty disables tracing.
	TraceDir      string `yaml:"trace_dir"`
	TraceMaxFiles int    `yaml:"trace_max_files"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the agent launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Timeout for a single DOM query or action (e.g., "5s").
	ActionTimeout string `yaml:"action_timeout"`
	// Session metadata file kept across restarts. Empty disables it.
	SessionStore string `yaml:"session_store"`
	// Pages opened and monitored at startup.
	StartURLs      []string `yaml:"start_urls"`
	ViewportWidth  int      `yaml:"viewport_width"`
	ViewportHeight int      `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
	// How long a message handler may take before the caller gets "no response".
	MessageTimeout string `yaml:"message_timeout"`
	// Serve Prometheus metrics on this port; zero disables.
	MetricsPort int    `yaml:"metrics_port"`
	MetricsPath string `yaml:"metrics_path"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	// Bearer token; SHOPSAVR_TOKEN overrides it.
	Token     string `yaml:"token"`
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

type StoreConfig struct {
	// SQLite database path, or ":memory:".
	Path string `yaml:"path"`
}

type AutomationConfig struct {
	SettleDelay       string `yaml:"settle_delay"`
	InterAttemptDelay string `yaml:"inter_attempt_delay"`
	// Ancestor levels searched for an apply control around the discount field.
	ApplySearchDepth int `yaml:"apply_search_depth"`
}

type MonitorConfig struct {
	// Structural changes within this window collapse into one recheck; "0s" disables the DOM source.
	DebounceWindow string `yaml:"debounce_window"`
	// URL poll interval; "0s" disables polling.
	PollInterval string `yaml:"poll_interval"`
}

type SyncConfig struct {
	Enabled bool `yaml:"enabled"`
	// Attempts per remote call within one pass.
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryBackoff  string `yaml:"retry_backoff"`
	// Failed passes after which a change is copied to the error queue.
	MaxChangeAttempts int `yaml:"max_change_attempts"`
	// Health probe interval for network-restored detection; "0s" disables.
	ProbeInterval string `yaml:"probe_interval"`
}

// SettingsConfig seeds the user preferences on first start.
type SettingsConfig struct {
	AutoApplyEnabled  *bool  `yaml:"auto_apply_enabled"`
	AutoApplyDelay    string `yaml:"auto_apply_delay"`
	MaxCouponsToTest  int    `yaml:"max_coupons_to_test"`
	ShowNotifications *bool  `yaml:"show_notifications"`
	SyncInterval      string `yaml:"sync_interval"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:          "shopsavr-agent",
			Version:       "0.3.0",
			LogFile:       "data/shopsavr-agent.log",
			LogLevel:      "info",
			LogMaxSizeMB:  20,
			LogMaxBackups: 3,
			LogMaxAgeDays: 14,
			TraceDir:      "data/sessions",
			TraceMaxFiles: 20,
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			ActionTimeout:            "5s",
			SessionStore:             "data/sessions.json",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		MCP: MCPConfig{
			MessageTimeout: "30s",
			MetricsPath:    "/metrics",
		},
		Backend: BackendConfig{
			BaseURL:   "http://localhost:3000/api",
			Timeout:   "10s",
			UserAgent: "shopsavr-agent",
		},
		Store: StoreConfig{
			Path: "data/shopsavr.db",
		},
		Automation: AutomationConfig{
			SettleDelay:       "1200ms",
			InterAttemptDelay: "750ms",
			ApplySearchDepth:  detector.DefaultSearchDepth,
		},
		Monitor: MonitorConfig{
			DebounceWindow: "1s",
			PollInterval:   "2s",
		},
		Sync: SyncConfig{
			Enabled:           true,
			RetryAttempts:     3,
			RetryBackoff:      "1s",
			MaxChangeAttempts: 5,
			ProbeInterval:     "30s",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .shopsavr/config.yaml file.
// Returns the workspace root directory (parent of .shopsavr/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .shopsavr/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, filepath.Join(wsDir, WorkspaceDirName))
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .shopsavr/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# shopsavr-agent project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.
# Relative paths are resolved against this directory.

# backend:
#   base_url: "https://api.example.com/api"
#   # token is better supplied through SHOPSAVR_TOKEN

# browser:
#   debugger_url: "ws://127.0.0.1:9222"
#   start_urls:
#     - "https://www.example-shop.com/cart"

# settings:
#   auto_apply_enabled: true
#   max_coupons_to_test: 10

# profiles:
#   - name: example-shop
#     domains: ["example-shop.com"]
#     checkout_paths: ["/cart", "/checkout"]
#     field_selectors: ["#discount-code"]
#     apply_selectors: ["#discount-apply"]
#     total_selectors: [".grand-total"]
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (database, logs, traces) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against base.
func resolveWorkspacePaths(cfg Config, base string) Config {
	resolve := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Server.TraceDir = resolve(cfg.Server.TraceDir)
	cfg.Store.Path = resolve(cfg.Store.Path)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	return cfg
}

// Validate ensures required fields exist so the agent can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if c.Sync.RetryAttempts < 0 || c.Sync.MaxChangeAttempts < 0 {
		return errors.New("sync attempt limits must not be negative")
	}
	for i, p := range c.Profiles {
		if p.ID == "" {
			return fmt.Errorf("profiles[%d].name is required", i)
		}
		if len(p.Hosts) == 0 {
			return fmt.Errorf("profile %q needs at least one domain", p.ID)
		}
	}
	return nil
}

// SiteProfiles returns the configured profiles as detector profiles.
func (c Config) SiteProfiles() []detector.Profile {
	out := make([]detector.Profile, 0, len(c.Profiles))
	for i := range c.Profiles {
		p := c.Profiles[i]
		out = append(out, &p)
	}
	return out
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// GetActionTimeout returns the per-call DOM timeout.
func (b BrowserConfig) GetActionTimeout() time.Duration {
	return parseDuration(b.ActionTimeout, 5*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetMessageTimeout returns the router reply timeout.
func (m MCPConfig) GetMessageTimeout() time.Duration {
	return parseDuration(m.MessageTimeout, 30*time.Second)
}

// RequestTimeout returns the HTTP timeout for backend calls.
func (b BackendConfig) RequestTimeout() time.Duration {
	return parseDuration(b.Timeout, 10*time.Second)
}

func (a AutomationConfig) GetSettleDelay() time.Duration {
	return parseDuration(a.SettleDelay, 1200*time.Millisecond)
}

func (a AutomationConfig) GetInterAttemptDelay() time.Duration {
	return parseDuration(a.InterAttemptDelay, 750*time.Millisecond)
}

func (m MonitorConfig) GetDebounceWindow() time.Duration {
	return parseDuration(m.DebounceWindow, time.Second)
}

func (m MonitorConfig) GetPollInterval() time.Duration {
	return parseDuration(m.PollInterval, 2*time.Second)
}

func (s SyncConfig) GetRetryBackoff() time.Duration {
	return parseDuration(s.RetryBackoff, time.Second)
}

func (s SyncConfig) GetProbeInterval() time.Duration {
	return parseDuration(s.ProbeInterval, 30*time.Second)
}

// GetRetryAttempts returns at least one attempt.
func (s SyncConfig) GetRetryAttempts() int {
	if s.RetryAttempts <= 0 {
		return 1
	}
	return s.RetryAttempts
}

// Preferences overlays the configured seeds on the built-in defaults.
func (s SettingsConfig) Preferences() model.Preferences {
	p := model.DefaultPreferences()
	if s.AutoApplyEnabled != nil {
		p.AutoApplyEnabled = *s.AutoApplyEnabled
	}
	if s.AutoApplyDelay != "" {
		p.AutoApplyDelayMs = int(parseDuration(s.AutoApplyDelay, p.AutoApplyDelay()) / time.Millisecond)
	}
	if s.MaxCouponsToTest > 0 {
		p.MaxCouponsToTest = s.MaxCouponsToTest
	}
	if s.ShowNotifications != nil {
		p.ShowNotifications = *s.ShowNotifications
	}
	if s.SyncInterval != "" {
		p.SyncIntervalMs = int(parseDuration(s.SyncInterval, p.SyncInterval()) / time.Millisecond)
	}
	return p
}
