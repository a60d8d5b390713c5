package config

import (
	"os"
	"path/filepath"
	"testing"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), ".clawkeep")
	t.Setenv("CLAWKEEP_HOME", home)
	// Keep host env from bleeding into the assertions.
	for _, key := range []string{
		"OPENCLAW_STATE_DIR", "OPENCLAW_WORKSPACE_DIR", "OPENCLAW_GATEWAY_PORT",
		"OPENCLAW_GATEWAY_TOKEN", "OPENCLAW_DEV_MODE", "BUCKET_NAME",
		"BUCKET_ENDPOINT", "BUCKET_ACCESS_KEY_ID", "BUCKET_SECRET_ACCESS_KEY",
		"CLAWKEEP_CONTROL_ADDR", "CLAWKEEP_SYNC_INTERVAL_SECONDS", "CLAWKEEP_SYNC_CRON",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoad_Defaults(t *testing.T) {
	isolateHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlAddr != "127.0.0.1:18790" {
		t.Fatalf("control addr = %q", cfg.ControlAddr)
	}
	if cfg.Gateway.Port != 18789 {
		t.Fatalf("gateway port = %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Binary != "openclaw" {
		t.Fatalf("gateway binary = %q", cfg.Gateway.Binary)
	}
	if cfg.Sync.IntervalSeconds != 600 || cfg.Sync.InitialDelaySeconds != 120 {
		t.Fatalf("sync defaults: %+v", cfg.Sync)
	}
	if cfg.StateDir == "" || cfg.WorkspaceDir == "" {
		t.Fatalf("dirs not defaulted: %+v", cfg)
	}
}

func TestLoad_FromKeeperYAML(t *testing.T) {
	home := isolateHome(t)
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "gateway:\n  port: 9200\nsync:\n  interval_seconds: 60\n  cron: \"*/10 * * * *\"\n"
	if err := os.WriteFile(filepath.Join(home, "keeper.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9200 {
		t.Fatalf("port from yaml = %d", cfg.Gateway.Port)
	}
	if cfg.Sync.IntervalSeconds != 60 || cfg.Sync.Cron != "*/10 * * * *" {
		t.Fatalf("sync from yaml: %+v", cfg.Sync)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	home := isolateHome(t)
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "keeper.yaml"), []byte("gateway:\n  port: 9200\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENCLAW_GATEWAY_PORT", "9300")
	t.Setenv("OPENCLAW_STATE_DIR", "/srv/openclaw")
	t.Setenv("BUCKET_NAME", "agent-state")
	t.Setenv("OPENCLAW_DEV_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9300 {
		t.Fatalf("env must win over yaml: %d", cfg.Gateway.Port)
	}
	if cfg.StateDir != "/srv/openclaw" {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
	if cfg.Remote.Bucket != "agent-state" {
		t.Fatalf("bucket = %q", cfg.Remote.Bucket)
	}
	if !cfg.Gateway.DevMode {
		t.Fatal("dev mode not picked up")
	}
}

func TestLoad_BadPortIgnored(t *testing.T) {
	isolateHome(t)
	t.Setenv("OPENCLAW_GATEWAY_PORT", "not-a-port")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18789 {
		t.Fatalf("bad port must fall back to default: %d", cfg.Gateway.Port)
	}
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	home := isolateHome(t)
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "keeper.yaml"), []byte("gateway: [not: valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Config{StateDir: "/state", WorkspaceDir: "/ws"}
	cases := map[string]string{
		cfg.ConfigDocumentPath(): "/state/openclaw.json",
		cfg.AuthStorePath():      "/state/agents/main/agent/auth-profiles.json",
		cfg.LegacyOAuthPath():    "/state/agents/main/agent/auth.json",
		cfg.LocalMarkerPath():    "/state/.last-sync",
		cfg.DegradedMarkerPath(): "/state/.auth-degraded.json",
		cfg.SkillsDir():          "/ws/skills",
		cfg.ExtensionsDir():      "/state/extensions",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("path helper: got %q, want %q", got, want)
		}
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := Config{StateDir: "/state", Gateway: GatewayConfig{Port: 18789}}
	b := Config{StateDir: "/state", Gateway: GatewayConfig{Port: 18789}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical configs must share a fingerprint")
	}
	b.Gateway.Port = 9000
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("different configs must differ")
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", " on "} {
		if !isTruthy(v) {
			t.Fatalf("%q should be truthy", v)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "nope"} {
		if isTruthy(v) {
			t.Fatalf("%q should be falsy", v)
		}
	}
}
