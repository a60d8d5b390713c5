package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	keeperotel "github.com/basket/clawkeep/internal/otel"
)

// GatewayConfig describes the supervised gateway process.
type GatewayConfig struct {
	// Binary is the gateway executable name or path.
	Binary string `yaml:"binary"`
	// Port the gateway serves on.
	Port int `yaml:"port"`
	// Token for gateway auth. Never read from keeper.yaml; env only.
	Token string `yaml:"-"`
	// DevMode relaxes control-surface auth (device pairing instead of token).
	DevMode bool `yaml:"dev_mode"`
	// StartTimeoutSeconds bounds the post-spawn health wait.
	StartTimeoutSeconds int `yaml:"start_timeout_seconds"`
}

// RemoteConfig describes the object-store namespace backups live in.
type RemoteConfig struct {
	// Remote is the rclone remote name.
	Remote string `yaml:"remote"`
	// Bucket is the bucket (namespace) holding persisted state.
	Bucket string `yaml:"bucket"`
	// Endpoint, AccessKey and SecretKey come from env only.
	Endpoint  string `yaml:"-"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// SyncConfig tunes the background push loop.
type SyncConfig struct {
	InitialDelaySeconds int `yaml:"initial_delay_seconds"`
	IntervalSeconds     int `yaml:"interval_seconds"`
	// Cron optionally replaces the fixed interval with a cron cadence.
	Cron string `yaml:"cron"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// StateDir is the gateway's state directory (config document, auth store).
	StateDir string `yaml:"state_dir"`
	// WorkspaceDir holds long-term memory files and the skills subtree.
	WorkspaceDir string `yaml:"workspace_dir"`

	ControlAddr string `yaml:"control_addr"`
	StaticDir   string `yaml:"static_dir"`
	LogLevel    string `yaml:"log_level"`

	Gateway   GatewayConfig     `yaml:"gateway"`
	Remote    RemoteConfig      `yaml:"remote"`
	Sync      SyncConfig        `yaml:"sync"`
	Telemetry keeperotel.Config `yaml:"telemetry"`
}

// ConfigFileName is the gateway's primary configuration document.
const ConfigFileName = "openclaw.json"

// Legacy backup layout names.
const (
	LegacyProductName    = "clawdbot"
	LegacyConfigFileName = "clawdbot.json"
	ProductName          = "openclaw"
)

// ConfigDocumentPath returns the path of the gateway config document.
func (c Config) ConfigDocumentPath() string {
	return filepath.Join(c.StateDir, ConfigFileName)
}

// AuthStorePath returns the path of the per-agent credential store.
func (c Config) AuthStorePath() string {
	return filepath.Join(c.StateDir, "agents", "main", "agent", "auth-profiles.json")
}

// LegacyOAuthPath returns the legacy OAuth credential file whose presence
// implies an importable credential.
func (c Config) LegacyOAuthPath() string {
	return filepath.Join(c.StateDir, "agents", "main", "agent", "auth.json")
}

// LocalMarkerPath returns the local sync-freshness marker.
func (c Config) LocalMarkerPath() string {
	return filepath.Join(c.StateDir, ".last-sync")
}

// DegradedMarkerPath returns the marker written when auth reconciliation
// cannot resolve.
func (c Config) DegradedMarkerPath() string {
	return filepath.Join(c.StateDir, ".auth-degraded.json")
}

// SkillsDir returns the skills subtree inside the workspace.
func (c Config) SkillsDir() string {
	return filepath.Join(c.WorkspaceDir, "skills")
}

// ExtensionsDir returns the local plugin directory registered into the
// gateway config.
func (c Config) ExtensionsDir() string {
	return filepath.Join(c.StateDir, "extensions")
}

// Fingerprint returns a stable hash of the active keeper config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "state=%s|ws=%s|ctrl=%s|port=%d|remote=%s/%s|interval=%d",
		c.StateDir, c.WorkspaceDir, c.ControlAddr, c.Gateway.Port,
		c.Remote.Remote, c.Remote.Bucket, c.Sync.IntervalSeconds)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		ControlAddr: "127.0.0.1:18790",
		LogLevel:    "info",
		Gateway: GatewayConfig{
			Binary:              "openclaw",
			Port:                18789,
			StartTimeoutSeconds: 30,
		},
		Remote: RemoteConfig{
			Remote: "store",
		},
		Sync: SyncConfig{
			InitialDelaySeconds: 120,
			IntervalSeconds:     600,
		},
	}
}

// HomeDir returns the keeper's own home directory, honoring CLAWKEEP_HOME.
func HomeDir() string {
	if override := os.Getenv("CLAWKEEP_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".clawkeep")
}

// Load reads keeper.yaml from the keeper home (if present), applies env
// overrides and fills defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create clawkeep home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "keeper.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read keeper.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse keeper.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENCLAW_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("OPENCLAW_WORKSPACE_DIR"); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := os.Getenv("CLAWKEEP_CONTROL_ADDR"); v != "" {
		cfg.ControlAddr = v
	}
	if v := os.Getenv("CLAWKEEP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_BIN"); v != "" {
		cfg.Gateway.Binary = v
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if isTruthy(os.Getenv("OPENCLAW_DEV_MODE")) {
		cfg.Gateway.DevMode = true
	}
	if v := os.Getenv("CLAWKEEP_REMOTE"); v != "" {
		cfg.Remote.Remote = v
	}
	if v := os.Getenv("BUCKET_NAME"); v != "" {
		cfg.Remote.Bucket = v
	}
	if v := os.Getenv("BUCKET_ENDPOINT"); v != "" {
		cfg.Remote.Endpoint = v
	}
	if v := os.Getenv("BUCKET_ACCESS_KEY_ID"); v != "" {
		cfg.Remote.AccessKey = v
	}
	if v := os.Getenv("BUCKET_SECRET_ACCESS_KEY"); v != "" {
		cfg.Remote.SecretKey = v
	}
	if v := os.Getenv("CLAWKEEP_SYNC_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.IntervalSeconds = n
		}
	}
	if v := os.Getenv("CLAWKEEP_SYNC_CRON"); v != "" {
		cfg.Sync.Cron = v
	}
}

func normalize(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(home, ".openclaw")
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = filepath.Join(home, "workspace")
	}
	if cfg.ControlAddr == "" {
		cfg.ControlAddr = "127.0.0.1:18790"
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = filepath.Join(cfg.HomeDir, "static")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Gateway.Binary == "" {
		cfg.Gateway.Binary = "openclaw"
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = 18789
	}
	if cfg.Gateway.StartTimeoutSeconds <= 0 {
		cfg.Gateway.StartTimeoutSeconds = 30
	}
	if cfg.Remote.Remote == "" {
		cfg.Remote.Remote = "store"
	}
	if cfg.Sync.InitialDelaySeconds <= 0 {
		cfg.Sync.InitialDelaySeconds = 120
	}
	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = 600
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
