// Package control exposes the keeper's HTTP surface: health identity,
// gateway status, idempotent start, force restart, and static asset
// passthrough. Internal failures become JSON error bodies, never transport
// errors.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/clawkeep/internal/config"
	keeperotel "github.com/basket/clawkeep/internal/otel"
	"github.com/basket/clawkeep/internal/supervisor"
)

type Server struct {
	cfg        config.Config
	sup        *supervisor.Supervisor
	logger     *slog.Logger
	instanceID string
	startedAt  time.Time
	tracer     trace.Tracer

	httpServer *http.Server
}

func New(cfg config.Config, sup *supervisor.Supervisor, instanceID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		sup:        sup,
		logger:     logger,
		instanceID: instanceID,
		startedAt:  time.Now().UTC(),
	}
}

// SetTracer attaches the tracer used for inbound-request spans. Without it
// the handlers run untraced.
func (s *Server) SetTracer(tracer trace.Tracer) { s.tracer = tracer }

// traced wraps a request context in a server span when a tracer is set.
func (s *Server) traced(r *http.Request, name string) (context.Context, func()) {
	if s.tracer == nil {
		return r.Context(), func() {}
	}
	ctx, span := keeperotel.StartServerSpan(r.Context(), s.tracer, name)
	return ctx, func() { span.End() }
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /supervisor/status", s.handleStatus)
	mux.HandleFunc("POST /supervisor/start", s.handleStart)
	mux.HandleFunc("POST /supervisor/restart", s.handleRestart)
	if s.cfg.StaticDir != "" {
		if _, err := os.Stat(s.cfg.StaticDir); err == nil {
			mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
		}
	}
	return mux
}

// ListenAndServe runs the control server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ControlAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("control surface listening", "addr", s.cfg.ControlAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	gateway, _ := s.sup.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"service":      "clawkeep",
		"instance":     s.instanceID,
		"gateway":      gateway,
		"gateway_port": s.cfg.Gateway.Port,
		"uptime_s":     int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, end := s.traced(r, "control.status")
	defer end()
	status, handle := s.sup.Status(ctx)
	body := map[string]any{"status": status}
	if handle != nil {
		body["pid"] = handle.PID
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, end := s.traced(r, "control.start")
	defer end()
	handle, err := s.sup.EnsureRunning(ctx)
	if err != nil {
		s.logger.Error("start failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "running",
		"pid":    handle.PID,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	ctx, end := s.traced(r, "control.restart")
	defer end()
	killed := s.sup.ForceRestart(ctx)
	handle, err := s.sup.EnsureRunning(ctx)
	if err != nil {
		s.logger.Error("restart: gateway did not come back", "error", err, "killed", killed)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"killed": killed,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"killed": killed,
		"status": "running",
		"pid":    handle.PID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
