// Package supervisor enforces the single-gateway invariant: at most one
// gateway process alive, health-probed over HTTP, with forced cleanup that
// can never hang its caller.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/basket/clawkeep/internal/config"
	keeperotel "github.com/basket/clawkeep/internal/otel"
)

// Process status values observed on a Handle.
const (
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusKilled    = "killed"
)

const (
	defaultProbeTimeout = 3 * time.Second
	cleanupTimeout      = 10 * time.Second
	startPollInterval   = 500 * time.Millisecond
)

// Handle is an opaque reference to a discovered or spawned gateway process.
type Handle struct {
	PID      int    `json:"pid"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Supervisor owns gateway process lifecycle. EnsureRunning is safe to call
// concurrently with itself: callers racing past the health check serialize
// on the spawn mutex and re-check before spawning.
type Supervisor struct {
	cfg    config.Config
	logger *slog.Logger

	// procRoot is the proc filesystem root; overridable for tests.
	procRoot string
	client   *http.Client
	metrics  *keeperotel.Metrics

	spawnMu sync.Mutex
}

func New(cfg config.Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   logger,
		procRoot: "/proc",
		client:   &http.Client{},
	}
}

// SetProcRoot overrides the proc filesystem root. Test hook.
func (s *Supervisor) SetProcRoot(root string) { s.procRoot = root }

// SetMetrics attaches metric instruments. Without it the supervisor runs
// uninstrumented.
func (s *Supervisor) SetMetrics(m *keeperotel.Metrics) { s.metrics = m }

// signatureMatch reports whether a cmdline belongs to a gateway process:
// the gateway binary plus its "gateway" subcommand.
func (s *Supervisor) signatureMatch(cmdline []string) bool {
	if len(cmdline) < 2 {
		return false
	}
	base := filepath.Base(cmdline[0])
	if base != filepath.Base(s.cfg.Gateway.Binary) {
		return false
	}
	for _, arg := range cmdline[1:] {
		if arg == "gateway" {
			return true
		}
	}
	return false
}

// gatewayPIDs scans the proc filesystem for processes matching the gateway
// signature, excluding the keeper itself. An unreadable proc root is an
// error, distinct from an empty scan.
func (s *Supervisor) gatewayPIDs() ([]int, error) {
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil, fmt.Errorf("supervisor: scan %s: %w", s.procRoot, err)
	}
	self := os.Getpid()
	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.procRoot, entry.Name(), "cmdline"))
		if err != nil || len(raw) == 0 {
			continue
		}
		cmdline := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
		if s.signatureMatch(cmdline) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// FindExisting locates a running gateway process, if any. A failed scan
// reads as no process; callers needing the distinction use Status.
func (s *Supervisor) FindExisting() *Handle {
	pids, err := s.gatewayPIDs()
	if err != nil {
		s.logger.Warn("process scan failed", "error", err)
		return nil
	}
	if len(pids) == 0 {
		return nil
	}
	return &Handle{PID: pids[0], Status: StatusRunning}
}

// ProbeHealth is a bounded HTTP reachability check against the gateway's
// own port. It never returns an error: any failure or timeout is false.
func (s *Supervisor) ProbeHealth(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/", s.cfg.Gateway.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any HTTP response means the gateway is reachable; it may refuse
	// unauthenticated requests and still be healthy.
	return true
}

// Status reports the externally observable gateway state: one of running,
// not_running, not_responding or error.
func (s *Supervisor) Status(ctx context.Context) (string, *Handle) {
	pids, err := s.gatewayPIDs()
	if err != nil {
		s.logger.Warn("process scan failed", "error", err)
		return "error", nil
	}
	if len(pids) == 0 {
		return "not_running", nil
	}
	handle := &Handle{PID: pids[0], Status: StatusRunning}
	if !s.ProbeHealth(ctx, defaultProbeTimeout) {
		handle.Status = StatusStarting
		return "not_responding", handle
	}
	return "running", handle
}

// EnsureRunning is a no-op when a discovered instance answers the health
// probe. Otherwise it clears stale lock files and spawns a new gateway.
func (s *Supervisor) EnsureRunning(ctx context.Context) (*Handle, error) {
	if handle := s.FindExisting(); handle != nil && s.ProbeHealth(ctx, defaultProbeTimeout) {
		s.logger.Info("gateway already running", "pid", handle.PID)
		return handle, nil
	}

	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()

	// Re-check under the lock: a concurrent caller may have spawned.
	if handle := s.FindExisting(); handle != nil && s.ProbeHealth(ctx, defaultProbeTimeout) {
		return handle, nil
	}

	s.clearStaleLocks()
	return s.start(ctx)
}

// clearStaleLocks removes leftover gateway lock files from a previous
// incarnation of the container.
func (s *Supervisor) clearStaleLocks() {
	matches, err := filepath.Glob(filepath.Join(s.cfg.StateDir, "gateway*.lock"))
	if err != nil {
		return
	}
	for _, lock := range matches {
		if err := os.Remove(lock); err == nil {
			s.logger.Info("removed stale lock", "path", lock)
		}
	}
}

// start spawns the gateway and waits for it to answer the health probe.
// Token auth and device pairing are mutually exclusive start modes.
func (s *Supervisor) start(ctx context.Context) (*Handle, error) {
	args := []string{"gateway", "--port", strconv.Itoa(s.cfg.Gateway.Port), "--verbose"}
	if s.cfg.Gateway.Token != "" {
		args = append(args, "--token", s.cfg.Gateway.Token)
	} else if s.cfg.Gateway.DevMode {
		args = append(args, "--allow-unauthenticated")
	}

	cmd := exec.Command(s.cfg.Gateway.Binary, args...)
	cmd.Dir = s.cfg.StateDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start gateway: %w", err)
	}
	handle := &Handle{PID: cmd.Process.Pid, Status: StatusStarting}
	s.logger.Info("gateway spawned", "pid", handle.PID, "port", s.cfg.Gateway.Port)

	// Reap in the background so a dying gateway doesn't linger as a zombie.
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	deadline := time.Now().Add(time.Duration(s.cfg.Gateway.StartTimeoutSeconds) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-waitErr:
			code := cmd.ProcessState.ExitCode()
			handle.Status = StatusFailed
			handle.ExitCode = &code
			return nil, fmt.Errorf("supervisor: gateway exited during startup (code %d, err %v): %s",
				code, err, strings.TrimSpace(stderr.String()))
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(startPollInterval):
		}
		if s.ProbeHealth(ctx, defaultProbeTimeout) {
			handle.Status = StatusRunning
			s.logger.Info("gateway healthy", "pid", handle.PID)
			return handle, nil
		}
	}
	return nil, fmt.Errorf("supervisor: gateway did not become healthy within %ds: %s",
		s.cfg.Gateway.StartTimeoutSeconds, strings.TrimSpace(stderr.String()))
}

// ForceRestart kills every tracked gateway process, then runs a
// timeout-bounded best-effort cleanup pass. It always returns the number of
// processes killed; a wedged cleanup cannot hang the caller.
func (s *Supervisor) ForceRestart(ctx context.Context) int {
	killed := 0
	pids, err := s.gatewayPIDs()
	if err != nil {
		s.logger.Warn("process scan failed", "error", err)
	}
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			s.logger.Warn("kill failed", "pid", pid, "error", err)
			continue
		}
		s.logger.Info("gateway killed", "pid", pid)
		killed++
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()
	pattern := filepath.Base(s.cfg.Gateway.Binary) + " gateway"
	cmd := exec.CommandContext(cleanupCtx, "pkill", "-9", "-f", pattern)
	if err := cmd.Run(); err != nil {
		// Exit status 1 just means nothing matched.
		s.logger.Debug("cleanup pass finished", "error", err)
	}
	s.clearStaleLocks()
	if s.metrics != nil {
		s.metrics.GatewayKills.Add(ctx, int64(killed))
	}
	return killed
}
