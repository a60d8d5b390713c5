package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/configdoc"
	"github.com/basket/clawkeep/internal/control"
	"github.com/basket/clawkeep/internal/doctor"
	keeperotel "github.com/basket/clawkeep/internal/otel"
	"github.com/basket/clawkeep/internal/reconcile"
	"github.com/basket/clawkeep/internal/remote"
	"github.com/basket/clawkeep/internal/restore"
	"github.com/basket/clawkeep/internal/supervisor"
	"github.com/basket/clawkeep/internal/syncloop"
	"github.com/basket/clawkeep/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

KEEPER MODE (default):
  %s                          Restore state, reconcile auth, start and
                              supervise the gateway, then sync forever

SUBCOMMANDS:
  %s status                   Query the control surface (/healthz)
  %s doctor [-json]           Run the integrity checklist
  %s sync                     One-shot push of local state to the remote
  %s restore                  One-shot pull of the remote backup

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  CLAWKEEP_HOME            Keeper data directory (default: ~/.clawkeep)
  OPENCLAW_STATE_DIR       Gateway state directory (default: ~/.openclaw)
  OPENCLAW_GATEWAY_PORT    Gateway port (default: 18789)
  BUCKET_NAME              Object-store bucket holding backups
`)
}

func main() {
	_ = godotenv.Load()

	flag.Usage = printUsage
	flag.Parse()

	interactive := isatty.IsTerminal(os.Stdout.Fd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "sync":
			os.Exit(runSyncCommand(ctx, interactive))
		case "restore":
			os.Exit(runRestoreCommand(ctx, interactive))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	instanceID := uuid.NewString()
	logger = logger.With("instance", instanceID)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	otelProvider, err := keeperotel.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	if err := runKeeper(ctx, cfg, logger, otelProvider, instanceID); err != nil {
		fatalStartup(logger, "E_KEEPER_RUN", err)
	}
}

// runKeeper drives the boot pipeline and then serves until shutdown. The
// phases are strictly sequential: each one's output is the next one's
// precondition.
func runKeeper(ctx context.Context, cfg config.Config, logger *slog.Logger, provider *keeperotel.Provider, instanceID string) error {
	bootStart := time.Now()
	env := config.ReadEnv()

	metrics, err := keeperotel.NewMetrics(provider.Meter)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	rcloneConf := rcloneConfigPath(cfg)
	if err := remote.EnsureConfig(cfg.Remote, rcloneConf); err != nil {
		// A configured-but-broken remote is a hard precondition failure.
		return err
	}
	store := remote.NewStore(cfg.Remote, rcloneConf, logger)

	sup := supervisor.New(cfg, logger)

	// A healthy gateway from a previous keeper incarnation means state is
	// already live; restoring over it would clobber newer local files.
	if handle := sup.FindExisting(); handle != nil && sup.ProbeHealth(ctx, 3*time.Second) {
		logger.Info("gateway already running; skipping restore pipeline", "pid", handle.PID)
		return serve(ctx, cfg, logger, store, sup, provider, metrics, instanceID)
	}

	// Phase: restore decision + backup restore.
	phaseCtx, span := keeperotel.StartSpan(ctx, provider.Tracer, "boot.restore", keeperotel.AttrBootPhase.String("restore"))
	resolver := restore.NewResolver(store, cfg.LocalMarkerPath(), logger)
	decision := resolver.Resolve(phaseCtx)
	outcome := restore.NewRestorer(store, cfg, logger).Restore(phaseCtx, decision)
	if outcome.Layout != "" {
		span.SetAttributes(keeperotel.AttrRemoteLayout.String(outcome.Layout))
	}
	span.End()
	logger.Info("startup phase", "phase", "restore_completed",
		"restored", decision.Restore,
		"layout", outcome.Layout,
		"config", outcome.RestoredConfig,
		"workspace", outcome.RestoredWorkspace,
		"skills", outcome.RestoredSkills)
	if decision.Restore {
		metrics.RestoreAttempts.Add(ctx, 1)
	}

	// Phase: config patch. A write failure here is fatal: the gateway
	// cannot start from a corrupt document.
	_, span = keeperotel.StartSpan(ctx, provider.Tracer, "boot.patch", keeperotel.AttrBootPhase.String("patch"))
	docPath := cfg.ConfigDocumentPath()
	doc, err := configdoc.Load(docPath)
	if err != nil {
		span.End()
		return fmt.Errorf("load config document: %w", err)
	}
	if err := configdoc.NewPatcher(cfg, logger).Patch(doc, env); err != nil {
		span.End()
		return fmt.Errorf("patch config document: %w", err)
	}
	if err := doc.Save(docPath); err != nil {
		span.End()
		return fmt.Errorf("write config document: %w", err)
	}
	span.End()
	logger.Info("startup phase", "phase", "config_patched")

	// Phase: auth reconciliation. Never fatal; worst case is degraded.
	phaseCtx, span = keeperotel.StartSpan(ctx, provider.Tracer, "boot.reconcile", keeperotel.AttrBootPhase.String("reconcile"))
	rec := reconcile.NewReconciler(cfg, store, logger).Reconcile(phaseCtx, env, decision.Restore)
	if rec.Snapshot.PrimaryProvider != "" {
		span.SetAttributes(keeperotel.AttrProvider.String(rec.Snapshot.PrimaryProvider))
	}
	span.End()
	if rec.State != reconcile.StateConsistent {
		metrics.AuthRecoveries.Add(ctx, 1)
	}
	logger.Info("startup phase", "phase", "auth_reconciled",
		"state", string(rec.State),
		"primary_provider", rec.Snapshot.PrimaryProvider,
		"mismatch", rec.Snapshot.Mismatch)

	// Phase: integrity checklist. Warnings only.
	report := doctor.Run(ctx, cfg, Version)
	for _, result := range report.Results {
		if result.Status != "PASS" {
			logger.Warn("integrity check", "name", result.Name, "status", result.Status, "message", result.Message)
		}
	}
	logger.Info("startup phase", "phase", "integrity_verified", "warnings", report.Warnings)

	// Phase: gateway start. A start failure leaves the control surface up
	// so an operator (or the restart endpoint) can retry.
	phaseCtx, span = keeperotel.StartSpan(ctx, provider.Tracer, "boot.start", keeperotel.AttrBootPhase.String("gateway_start"))
	if handle, err := sup.EnsureRunning(phaseCtx); err != nil {
		logger.Error("gateway start failed", "error", err)
	} else {
		metrics.GatewayStarts.Add(ctx, 1)
		span.SetAttributes(keeperotel.AttrGatewayPID.Int(handle.PID))
		logger.Info("startup phase", "phase", "gateway_started", "pid", handle.PID)
	}
	span.End()

	metrics.BootDuration.Record(ctx, time.Since(bootStart).Seconds())
	return serve(ctx, cfg, logger, store, sup, provider, metrics, instanceID)
}

// serve runs the sync loop, config watcher and control surface until the
// context is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, store *remote.Store, sup *supervisor.Supervisor, provider *keeperotel.Provider, metrics *keeperotel.Metrics, instanceID string) error {
	loop, err := syncloop.New(store, cfg, logger)
	if err != nil {
		return fmt.Errorf("sync loop: %w", err)
	}
	loop.WithTelemetry(provider.Tracer, metrics)
	sup.SetMetrics(metrics)
	loop.Start(ctx)
	defer loop.Stop()

	watcher := configdoc.NewWatcher(logger, cfg.ConfigDocumentPath(), cfg.AuthStorePath())
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				loop.Nudge()
			}
		}()
	}

	srv := control.New(cfg, sup, instanceID, logger)
	srv.SetTracer(provider.Tracer)
	return srv.ListenAndServe(ctx)
}

func rcloneConfigPath(cfg config.Config) string {
	return filepath.Join(cfg.HomeDir, "rclone.conf")
}

// fatalStartup logs a structured fatal error and exits non-zero.
func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	if logger != nil {
		logger.Error("fatal startup error", "reason", reasonCode, "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", reasonCode, err)
	}
	os.Exit(1)
}
