package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/clawkeep/internal/config"
)

func healthyConfig(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Config{
		StateDir:     filepath.Join(base, "state"),
		WorkspaceDir: filepath.Join(base, "workspace"),
	}
	if err := os.MkdirAll(filepath.Join(cfg.SkillsDir(), "summarize"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range MemoryFiles {
		if err := os.WriteFile(filepath.Join(cfg.WorkspaceDir, name), []byte("# "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(cfg.ConfigDocumentPath(), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func resultByName(t *testing.T, report Report, name string) CheckResult {
	t.Helper()
	for _, r := range report.Results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("check %q missing from report: %+v", name, report.Results)
	return CheckResult{}
}

func TestRun_HealthyState(t *testing.T) {
	report := Run(context.Background(), healthyConfig(t), "test")
	for _, name := range []string{"Workspace", "Memory Files", "Skills", "Config"} {
		if r := resultByName(t, report, name); r.Status != "PASS" {
			t.Fatalf("%s: %+v", name, r)
		}
	}
	if report.System.OS == "" || report.System.Go == "" {
		t.Fatalf("system info incomplete: %+v", report.System)
	}
}

func TestRun_NeverFatal(t *testing.T) {
	// A completely empty environment must produce warnings, not panics.
	base := t.TempDir()
	cfg := config.Config{
		StateDir:     filepath.Join(base, "state"),
		WorkspaceDir: filepath.Join(base, "workspace"),
	}
	report := Run(context.Background(), cfg, "test")
	if report.Warnings == 0 {
		t.Fatal("expected warnings from an empty environment")
	}
	if len(report.Results) != 5 {
		t.Fatalf("all checks must run: %+v", report.Results)
	}
}

func TestCheckWorkspace_CreatesMissingDir(t *testing.T) {
	cfg := config.Config{WorkspaceDir: filepath.Join(t.TempDir(), "workspace")}
	result := checkWorkspace(context.Background(), cfg)
	if result.Status != "WARN" {
		t.Fatalf("missing workspace should warn: %+v", result)
	}
	if _, err := os.Stat(cfg.WorkspaceDir); err != nil {
		t.Fatalf("workspace not created: %v", err)
	}
	// Second invocation sees the created directory.
	if result := checkWorkspace(context.Background(), cfg); result.Status != "PASS" {
		t.Fatalf("existing workspace should pass: %+v", result)
	}
}

func TestCheckMemoryFiles_ReportsMissing(t *testing.T) {
	cfg := config.Config{WorkspaceDir: t.TempDir()}
	if err := os.WriteFile(filepath.Join(cfg.WorkspaceDir, "MEMORY.md"), []byte("m"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := checkMemoryFiles(context.Background(), cfg)
	if result.Status != "WARN" {
		t.Fatalf("expected WARN: %+v", result)
	}
}

func TestCheckSkills_EmptyDirWarns(t *testing.T) {
	cfg := config.Config{WorkspaceDir: t.TempDir()}
	if err := os.MkdirAll(cfg.SkillsDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if result := checkSkills(context.Background(), cfg); result.Status != "WARN" {
		t.Fatalf("empty skills dir should warn: %+v", result)
	}
}
