// Command restore_drill exercises a full restore → mutate → sync → no-restore
// round trip against a directory-backed stand-in for the object store, and
// prints a machine-readable verdict.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/remote"
	"github.com/basket/clawkeep/internal/restore"
	"github.com/basket/clawkeep/internal/syncloop"
)

// dirRunner answers rclone invocations from a local directory acting as the
// bucket. Targets of the form "<remote>:<bucket>/rel" map onto bucketDir/rel;
// everything else is treated as a local path.
type dirRunner struct {
	bucketDir string
}

func (d dirRunner) resolve(arg string) string {
	idx := strings.Index(arg, ":")
	if idx < 0 {
		return arg
	}
	rel := strings.TrimPrefix(arg[idx+1:], "agent-state")
	return filepath.Join(d.bucketDir, strings.Trim(rel, "/"))
}

func (d dirRunner) Run(_ context.Context, _ string, args []string, _ []string) (string, string, error) {
	if len(args) == 0 {
		return "", "", fmt.Errorf("empty rclone invocation")
	}
	switch args[0] {
	case "lsf":
		entries, err := os.ReadDir(d.resolve(args[1]))
		if err != nil {
			return "", err.Error(), err
		}
		var out strings.Builder
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			out.WriteString(name + "\n")
		}
		return out.String(), "", nil
	case "cat":
		data, err := os.ReadFile(d.resolve(args[1]))
		if err != nil {
			return "", err.Error(), err
		}
		return string(data), "", nil
	case "copyto":
		return "", "", copyFile(d.resolve(args[1]), d.resolve(args[2]))
	case "copy":
		rest := args[1:]
		maxDepth := 0
		if rest[0] == "--max-depth" {
			fmt.Sscanf(rest[1], "%d", &maxDepth)
			rest = rest[2:]
		}
		return "", "", copyTree(d.resolve(rest[0]), d.resolve(rest[1]), maxDepth)
	case "sync":
		return "", "", copyTree(d.resolve(args[1]), d.resolve(args[2]), 0)
	}
	return "", "", fmt.Errorf("unhandled rclone subcommand %q", args[0])
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func copyTree(src, dst string, maxDepth int) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if maxDepth == 1 && strings.Contains(rel, string(filepath.Separator)) {
			return nil
		}
		return copyFile(p, filepath.Join(dst, rel))
	})
}

func seed(bucketDir string, marker string) error {
	files := map[string]string{
		"openclaw/openclaw.json":                       `{"gateway":{"port":18789}}`,
		"openclaw/agents/main/agent/auth-profiles.json": `{"version":1,"profiles":{}}`,
		"workspace/MEMORY.md":                          "# memory\n",
		"workspace/skills/hello/SKILL.md":              "# hello\n",
		restore.MarkerName:                             marker,
	}
	for rel, content := range files {
		if err := copyFileContent(filepath.Join(bucketDir, rel), content); err != nil {
			return err
		}
	}
	return nil
}

func copyFileContent(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func fail(stage string, err error) {
	fmt.Printf("%s_error=%v\n", stage, err)
	fmt.Println("VERDICT FAIL")
	os.Exit(1)
}

func main() {
	ctx := context.Background()
	baseDir, err := os.MkdirTemp("", "clawkeep-restore-drill-*")
	if err != nil {
		fail("mktemp", err)
	}
	defer os.RemoveAll(baseDir)

	bucketDir := filepath.Join(baseDir, "bucket")
	remoteMarker := time.Now().UTC().Format(time.RFC3339)
	if err := seed(bucketDir, remoteMarker); err != nil {
		fail("seed", err)
	}

	cfg := config.Config{
		StateDir:     filepath.Join(baseDir, "state"),
		WorkspaceDir: filepath.Join(baseDir, "workspace"),
		Remote:       config.RemoteConfig{Remote: "clawremote", Bucket: "agent-state"},
		Sync:         config.SyncConfig{IntervalSeconds: 600},
	}
	store := remote.NewStore(cfg.Remote, "", nil)
	store.SetRunner(dirRunner{bucketDir: bucketDir})

	restoreStart := time.Now().UTC()
	decision := restore.NewResolver(store, cfg.LocalMarkerPath(), nil).Resolve(ctx)
	fmt.Printf("initial_decision_restore=%t\n", decision.Restore)
	if !decision.Restore {
		fail("decision", fmt.Errorf("fresh container did not decide to restore"))
	}

	outcome := restore.NewRestorer(store, cfg, nil).Restore(ctx, decision)
	restoreEnd := time.Now().UTC()
	fmt.Printf("restore_layout=%s\n", outcome.Layout)
	fmt.Printf("restored_config=%t restored_workspace=%t restored_skills=%t\n",
		outcome.RestoredConfig, outcome.RestoredWorkspace, outcome.RestoredSkills)
	if outcome.Layout != restore.LayoutCurrent || !outcome.RestoredConfig || !outcome.RestoredWorkspace {
		fail("restore", fmt.Errorf("unexpected outcome %+v", outcome))
	}
	for _, p := range []string{cfg.ConfigDocumentPath(), cfg.AuthStorePath(),
		filepath.Join(cfg.WorkspaceDir, "MEMORY.md"), filepath.Join(cfg.SkillsDir(), "hello", "SKILL.md")} {
		if _, err := os.Stat(p); err != nil {
			fail("restored_file", err)
		}
	}

	// Mutate local state and push it back.
	if err := copyFileContent(filepath.Join(cfg.WorkspaceDir, "notes.md"), "post-restore\n"); err != nil {
		fail("mutate", err)
	}
	loop, err := syncloop.New(store, cfg, nil)
	if err != nil {
		fail("loop", err)
	}
	syncStart := time.Now().UTC()
	for _, step := range loop.RunOnce(ctx) {
		fmt.Printf("sync_step=%s success=%t\n", step.Step, step.Result.Success)
		if !step.Result.Success {
			fail("sync", fmt.Errorf("step %s: %s", step.Step, step.Result.Error))
		}
	}
	syncEnd := time.Now().UTC()
	if _, err := os.Stat(filepath.Join(bucketDir, "workspace", "notes.md")); err != nil {
		fail("pushed_file", err)
	}

	// A second boot against the now-synced marker must not restore.
	second := restore.NewResolver(store, cfg.LocalMarkerPath(), nil).Resolve(ctx)
	fmt.Printf("post_sync_decision_restore=%t\n", second.Restore)
	if second.Restore {
		fail("relapse", fmt.Errorf("synced state still decided to restore"))
	}

	fmt.Printf("restore_duration=%s\n", restoreEnd.Sub(restoreStart))
	fmt.Printf("sync_duration=%s\n", syncEnd.Sub(syncStart))
	fmt.Println("VERDICT PASS")
}
