// Package syncloop pushes local state back to the object store on a fixed
// cadence. Every step is best-effort: one failing step is logged and the
// rest still run.
package syncloop

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/clawkeep/internal/config"
	keeperotel "github.com/basket/clawkeep/internal/otel"
	"github.com/basket/clawkeep/internal/remote"
	"github.com/basket/clawkeep/internal/restore"
)

// cronParser parses standard 5-field cron expressions.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// stateExcludes keeps transient files out of the config backup.
var stateExcludes = []string{"*.lock", "*.tmp", "logs/**", restore.MarkerName}

// workspaceExcludes keeps the skills subtree out of the workspace step; it
// syncs separately.
var workspaceExcludes = []string{"skills/**"}

// StepResult pairs a sync step name with its outcome.
type StepResult struct {
	Step   string        `json:"step"`
	Result remote.Result `json:"result"`
}

// Loop is the background push loop.
type Loop struct {
	store  *remote.Store
	cfg    config.Config
	logger *slog.Logger

	schedule cronlib.Schedule
	nudge    chan struct{}

	tracer  trace.Tracer
	metrics *keeperotel.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store *remote.Store, cfg config.Config, logger *slog.Logger) (*Loop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		store:  store,
		cfg:    cfg,
		logger: logger,
		nudge:  make(chan struct{}, 1),
	}
	if cfg.Sync.Cron != "" {
		schedule, err := cronParser.Parse(cfg.Sync.Cron)
		if err != nil {
			return nil, err
		}
		l.schedule = schedule
	}
	return l, nil
}

// WithTelemetry attaches the tracer and metric instruments recorded per
// iteration. Without it the loop runs uninstrumented.
func (l *Loop) WithTelemetry(tracer trace.Tracer, metrics *keeperotel.Metrics) {
	l.tracer = tracer
	l.metrics = metrics
}

// Nudge requests an early iteration, e.g. after an out-of-band config edit.
func (l *Loop) Nudge() {
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

// Start begins the loop after the stabilization delay. It runs in a
// background goroutine and respects the context for shutdown.
func (l *Loop) Start(ctx context.Context) {
	if !l.store.Enabled() {
		l.logger.Info("sync loop disabled: no remote bucket configured")
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)
	l.logger.Info("sync loop started",
		"initial_delay_s", l.cfg.Sync.InitialDelaySeconds,
		"interval_s", l.cfg.Sync.IntervalSeconds,
		"cron", l.cfg.Sync.Cron)
}

// Stop cancels the loop and waits for it to exit.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.logger.Info("sync loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(l.cfg.Sync.InitialDelaySeconds) * time.Second):
	}

	for {
		l.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-l.nudge:
		case <-time.After(l.sleepUntilNext()):
		}
	}
}

// sleepUntilNext returns the wait before the next iteration: the cron
// schedule when configured, the fixed interval otherwise.
func (l *Loop) sleepUntilNext() time.Duration {
	interval := time.Duration(l.cfg.Sync.IntervalSeconds) * time.Second
	if l.schedule == nil {
		return interval
	}
	next := l.schedule.Next(time.Now())
	if next.IsZero() {
		return interval
	}
	return time.Until(next)
}

// RunOnce performs one full push: config tree, workspace tree, skills tree,
// then a fresh sync marker. Step failures never abort the iteration.
func (l *Loop) RunOnce(ctx context.Context) []StepResult {
	start := time.Now()
	if l.tracer != nil {
		var span trace.Span
		ctx, span = keeperotel.StartSpan(ctx, l.tracer, "sync.iteration")
		defer span.End()
	}

	var results []StepResult

	record := func(step string, result remote.Result) {
		results = append(results, StepResult{Step: step, Result: result})
		if result.Success {
			l.logger.Debug("sync step ok", "step", step)
		} else {
			l.logger.Warn("sync step failed", "step", step, "error", result.Error, "details", result.Details)
			if l.metrics != nil {
				l.metrics.SyncStepFailures.Add(ctx, 1,
					metric.WithAttributes(keeperotel.AttrSyncStep.String(step)))
			}
		}
	}

	record("config", l.syncTree(ctx, l.cfg.StateDir, config.ProductName, stateExcludes))
	record("workspace", l.syncTree(ctx, l.cfg.WorkspaceDir, "workspace", workspaceExcludes))
	record("skills", l.syncTree(ctx, l.cfg.SkillsDir(), "workspace/skills", nil))
	record("marker", l.writeMarker(ctx))

	if l.metrics != nil {
		l.metrics.SyncDuration.Record(ctx, time.Since(start).Seconds())
	}
	return results
}

func (l *Loop) syncTree(ctx context.Context, localDir, rel string, excludes []string) remote.Result {
	if _, err := os.Stat(localDir); err != nil {
		return remote.Result{Success: false, Error: "local tree missing: " + localDir}
	}
	return l.store.SyncUp(ctx, localDir, rel, excludes)
}

// writeMarker stamps the remote and local sync markers with the same
// timestamp so the next boot's freshness comparison is exact.
func (l *Loop) writeMarker(ctx context.Context) remote.Result {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := l.store.Put(ctx, now, restore.MarkerName); err != nil {
		return remote.Result{Success: false, Error: err.Error()}
	}
	if err := os.WriteFile(l.cfg.LocalMarkerPath(), []byte(now), 0o644); err != nil {
		return remote.Result{Success: false, Error: "local marker: " + err.Error()}
	}
	return remote.Result{Success: true, Details: now}
}
