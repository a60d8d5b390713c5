package syncloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/clawkeep/internal/config"
	keeperotel "github.com/basket/clawkeep/internal/otel"
	"github.com/basket/clawkeep/internal/remote"
	"github.com/basket/clawkeep/internal/restore"
)

type recordingRunner struct {
	calls  [][]string
	failOn string
}

func (r *recordingRunner) Run(_ context.Context, _ string, args []string, _ []string) (string, string, error) {
	r.calls = append(r.calls, args)
	if r.failOn != "" && args[0] == r.failOn {
		return "", "boom", errors.New("exit status 1")
	}
	return "", "", nil
}

func loopFixture(t *testing.T, runner remote.Runner) (*Loop, config.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Config{
		StateDir:     filepath.Join(base, "state"),
		WorkspaceDir: filepath.Join(base, "workspace"),
		Sync:         config.SyncConfig{InitialDelaySeconds: 1, IntervalSeconds: 600},
	}
	for _, dir := range []string{cfg.StateDir, cfg.WorkspaceDir, cfg.SkillsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	store := remote.NewStore(config.RemoteConfig{Remote: "clawremote", Bucket: "agent-state"}, "", nil)
	store.SetRunner(runner)
	l, err := New(store, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, cfg
}

func TestRunOnce_AllSteps(t *testing.T) {
	runner := &recordingRunner{}
	l, cfg := loopFixture(t, runner)

	results := l.RunOnce(context.Background())
	want := []string{"config", "workspace", "skills", "marker"}
	if len(results) != len(want) {
		t.Fatalf("got %d steps, want %d: %+v", len(results), len(want), results)
	}
	for i, step := range want {
		if results[i].Step != step {
			t.Fatalf("step %d = %q, want %q", i, results[i].Step, step)
		}
		if !results[i].Result.Success {
			t.Fatalf("step %q failed: %+v", step, results[i].Result)
		}
	}

	data, err := os.ReadFile(cfg.LocalMarkerPath())
	if err != nil {
		t.Fatalf("local marker not written: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, string(data)); err != nil {
		t.Fatalf("marker is not RFC3339: %q", data)
	}
}

func TestRunOnce_ConfigExcludesTransientFiles(t *testing.T) {
	runner := &recordingRunner{}
	l, _ := loopFixture(t, runner)
	l.RunOnce(context.Background())

	configSync := strings.Join(runner.calls[0], " ")
	for _, ex := range []string{"*.lock", "*.tmp", "logs/**", restore.MarkerName} {
		if !strings.Contains(configSync, "--exclude "+ex) {
			t.Fatalf("config step missing exclude %q: %s", ex, configSync)
		}
	}
	workspaceSync := strings.Join(runner.calls[1], " ")
	if !strings.Contains(workspaceSync, "--exclude skills/**") {
		t.Fatalf("workspace step must exclude the skills subtree: %s", workspaceSync)
	}
}

func TestRunOnce_StepFailureDoesNotAbort(t *testing.T) {
	runner := &recordingRunner{failOn: "sync"}
	l, cfg := loopFixture(t, runner)

	results := l.RunOnce(context.Background())
	if len(results) != 4 {
		t.Fatalf("all steps must run despite failures: %+v", results)
	}
	for _, r := range results[:3] {
		if r.Result.Success {
			t.Fatalf("step %q should have failed", r.Step)
		}
	}
	// The marker step uses copyto, which still succeeds here.
	if !results[3].Result.Success {
		t.Fatalf("marker step: %+v", results[3].Result)
	}
	if _, err := os.Stat(cfg.LocalMarkerPath()); err != nil {
		t.Fatal("marker must still be stamped after tree failures")
	}
}

func TestRunOnce_MissingLocalTree(t *testing.T) {
	runner := &recordingRunner{}
	l, cfg := loopFixture(t, runner)
	if err := os.RemoveAll(cfg.SkillsDir()); err != nil {
		t.Fatal(err)
	}

	results := l.RunOnce(context.Background())
	if results[2].Result.Success {
		t.Fatal("missing skills dir must be a failed step")
	}
	if !strings.Contains(results[2].Result.Error, "local tree missing") {
		t.Fatalf("unexpected error: %+v", results[2].Result)
	}
}

func TestNew_RejectsBadCron(t *testing.T) {
	store := remote.NewStore(config.RemoteConfig{Remote: "clawremote", Bucket: "b"}, "", nil)
	cfg := config.Config{Sync: config.SyncConfig{Cron: "not a cron line"}}
	if _, err := New(store, cfg, nil); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSleepUntilNext_CronSchedule(t *testing.T) {
	store := remote.NewStore(config.RemoteConfig{Remote: "clawremote", Bucket: "b"}, "", nil)
	cfg := config.Config{Sync: config.SyncConfig{Cron: "*/5 * * * *", IntervalSeconds: 600}}
	l, err := New(store, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := l.sleepUntilNext()
	if d <= 0 || d > 5*time.Minute {
		t.Fatalf("cron sleep out of range: %v", d)
	}
}

func TestStart_DisabledWithoutBucket(t *testing.T) {
	store := remote.NewStore(config.RemoteConfig{Remote: "clawremote"}, "", nil)
	store.SetRunner(&recordingRunner{})
	cfg := config.Config{Sync: config.SyncConfig{InitialDelaySeconds: 1, IntervalSeconds: 600}}
	l, err := New(store, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)
	// Stop must not block even though no goroutine was launched.
	l.Stop()
}

func TestNudge_NeverBlocks(t *testing.T) {
	l, _ := loopFixture(t, &recordingRunner{})
	for i := 0; i < 10; i++ {
		l.Nudge()
	}
}

func TestRunOnce_InstrumentedIteration(t *testing.T) {
	runner := &recordingRunner{failOn: "sync"}
	loop, _ := loopFixture(t, runner)

	provider, err := keeperotel.Init(context.Background(), keeperotel.Config{Enabled: false})
	if err != nil {
		t.Fatalf("otel init: %v", err)
	}
	metrics, err := keeperotel.NewMetrics(provider.Meter)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	loop.WithTelemetry(provider.Tracer, metrics)

	results := loop.RunOnce(context.Background())
	if len(results) != 4 {
		t.Fatalf("instrumented iteration must still run all steps: %+v", results)
	}
	for _, step := range results[:3] {
		if step.Result.Success {
			t.Fatalf("step %s should have failed", step.Step)
		}
	}
}
