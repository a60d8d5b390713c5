// Package doctor runs the post-reconciliation integrity checklist. Findings
// are warnings for the operator log; they never block startup.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/clawkeep/internal/config"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
	Warnings  int           `json:"warnings"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// MemoryFiles are the long-term identity files expected in the workspace.
var MemoryFiles = []string{"MEMORY.md", "SOUL.md", "AGENTS.md"}

// MinFreeDiskBytes is the disk headroom floor.
const MinFreeDiskBytes = 500 * 1024 * 1024

// Run executes all integrity checks.
func Run(ctx context.Context, cfg config.Config, version string) Report {
	report := Report{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, config.Config) CheckResult{
		checkWorkspace,
		checkMemoryFiles,
		checkSkills,
		checkConfigDocument,
		checkDiskSpace,
	}

	for _, check := range checks {
		result := check(ctx, cfg)
		report.Results = append(report.Results, result)
		if result.Status != "PASS" {
			report.Warnings++
		}
	}
	return report
}

func checkWorkspace(_ context.Context, cfg config.Config) CheckResult {
	if _, err := os.Stat(cfg.WorkspaceDir); err == nil {
		return CheckResult{Name: "Workspace", Status: "PASS", Message: cfg.WorkspaceDir}
	}
	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		return CheckResult{Name: "Workspace", Status: "WARN", Message: fmt.Sprintf("missing and could not create: %v", err)}
	}
	return CheckResult{Name: "Workspace", Status: "WARN", Message: "was missing; created empty", Detail: cfg.WorkspaceDir}
}

func checkMemoryFiles(_ context.Context, cfg config.Config) CheckResult {
	var missing []string
	for _, name := range MemoryFiles {
		if _, err := os.Stat(filepath.Join(cfg.WorkspaceDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return CheckResult{Name: "Memory Files", Status: "PASS", Message: fmt.Sprintf("%d present", len(MemoryFiles))}
	}
	return CheckResult{Name: "Memory Files", Status: "WARN", Message: fmt.Sprintf("missing: %v", missing)}
}

func checkSkills(_ context.Context, cfg config.Config) CheckResult {
	entries, err := os.ReadDir(cfg.SkillsDir())
	if err != nil {
		return CheckResult{Name: "Skills", Status: "WARN", Message: fmt.Sprintf("skills dir unreadable: %v", err)}
	}
	if len(entries) == 0 {
		return CheckResult{Name: "Skills", Status: "WARN", Message: "skills dir is empty"}
	}
	return CheckResult{Name: "Skills", Status: "PASS", Message: fmt.Sprintf("%d entries", len(entries))}
}

func checkConfigDocument(_ context.Context, cfg config.Config) CheckResult {
	path := cfg.ConfigDocumentPath()
	info, err := os.Stat(path)
	if err != nil {
		return CheckResult{Name: "Config", Status: "WARN", Message: fmt.Sprintf("%s missing", config.ConfigFileName)}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("%s (%d bytes)", path, info.Size())}
}

func checkDiskSpace(_ context.Context, cfg config.Config) CheckResult {
	free, err := freeDiskBytes(cfg.StateDir)
	if err != nil {
		return CheckResult{Name: "Disk", Status: "SKIP", Message: fmt.Sprintf("cannot stat filesystem: %v", err)}
	}
	if free < MinFreeDiskBytes {
		return CheckResult{Name: "Disk", Status: "WARN",
			Message: fmt.Sprintf("only %d MB free (minimum %d MB)", free/(1024*1024), MinFreeDiskBytes/(1024*1024))}
	}
	return CheckResult{Name: "Disk", Status: "PASS", Message: fmt.Sprintf("%d MB free", free/(1024*1024))}
}
