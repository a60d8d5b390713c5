package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/remote"
	"github.com/basket/clawkeep/internal/restore"
	"github.com/basket/clawkeep/internal/syncloop"
	"github.com/basket/clawkeep/internal/telemetry"
)

// runSyncCommand performs a single push of local state to the remote and
// exits. Useful before tearing a container down by hand.
func runSyncCommand(ctx context.Context, interactive bool) int {
	cfg, store, logger, ok := oneShotSetup(interactive)
	if !ok {
		return 1
	}
	if !store.Enabled() {
		fmt.Fprintln(os.Stderr, "no bucket configured; nothing to sync")
		return 1
	}

	loop, err := syncloop.New(store, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync loop: %v\n", err)
		return 1
	}

	failed := 0
	for _, step := range loop.RunOnce(ctx) {
		mark := "ok"
		if !step.Result.Success {
			mark = "failed: " + step.Result.Error
			failed++
		}
		if interactive {
			fmt.Printf("  %-10s %s\n", step.Step, mark)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// runRestoreCommand forces a one-shot pull of the remote backup, bypassing
// the marker comparison. Intended for manual disaster recovery.
func runRestoreCommand(ctx context.Context, interactive bool) int {
	cfg, store, logger, ok := oneShotSetup(interactive)
	if !ok {
		return 1
	}
	if !store.Enabled() {
		fmt.Fprintln(os.Stderr, "no bucket configured; nothing to restore")
		return 1
	}

	decision := restore.Decision{Restore: true}
	outcome := restore.NewRestorer(store, cfg, logger).Restore(ctx, decision)
	if interactive {
		fmt.Printf("layout:    %s\n", outcome.Layout)
		fmt.Printf("config:    %v\n", outcome.RestoredConfig)
		fmt.Printf("workspace: %v\n", outcome.RestoredWorkspace)
		fmt.Printf("skills:    %v\n", outcome.RestoredSkills)
	}
	if !outcome.RestoredConfig && !outcome.RestoredWorkspace && !outcome.RestoredSkills {
		fmt.Fprintln(os.Stderr, "nothing restored; no backup found under any known layout")
		return 1
	}
	return 0
}

func oneShotSetup(interactive bool) (config.Config, *remote.Store, *slog.Logger, bool) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return cfg, nil, nil, false
	}
	logger, _, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return cfg, nil, nil, false
	}
	rcloneConf := rcloneConfigPath(cfg)
	if err := remote.EnsureConfig(cfg.Remote, rcloneConf); err != nil {
		fmt.Fprintf(os.Stderr, "remote config: %v\n", err)
		return cfg, nil, nil, false
	}
	return cfg, remote.NewStore(cfg.Remote, rcloneConf, logger), logger, true
}
