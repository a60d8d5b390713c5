package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/supervisor"
)

// controlFixture wires a Server against an empty fake proc tree, so the
// supervisor reliably reports no gateway.
func controlFixture(t *testing.T, gatewayPort int) *Server {
	t.Helper()
	cfg := config.Config{
		StateDir: t.TempDir(),
		Gateway: config.GatewayConfig{
			Binary:              "openclaw",
			Port:                gatewayPort,
			StartTimeoutSeconds: 1,
		},
	}
	sup := supervisor.New(cfg, nil)
	sup.SetProcRoot(t.TempDir())
	return New(cfg, sup, "inst-test", nil)
}

func getJSON(t *testing.T, handler http.Handler, method, path string, wantStatus int) map[string]any {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status %d, want %d (body %s)", method, path, rec.Code, wantStatus, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body)
	}
	return body
}

func TestHealthz(t *testing.T) {
	s := controlFixture(t, 18789)
	body := getJSON(t, s.Handler(), http.MethodGet, "/healthz", http.StatusOK)

	if body["service"] != "clawkeep" {
		t.Fatalf("service = %v", body["service"])
	}
	if body["instance"] != "inst-test" {
		t.Fatalf("instance = %v", body["instance"])
	}
	if body["gateway"] != "not_running" {
		t.Fatalf("gateway = %v", body["gateway"])
	}
	if int(body["gateway_port"].(float64)) != 18789 {
		t.Fatalf("gateway_port = %v", body["gateway_port"])
	}
	if _, ok := body["uptime_s"]; !ok {
		t.Fatal("uptime_s missing")
	}
}

func TestSupervisorStatus_NotRunning(t *testing.T) {
	s := controlFixture(t, 18789)
	body := getJSON(t, s.Handler(), http.MethodGet, "/supervisor/status", http.StatusOK)
	if body["status"] != "not_running" {
		t.Fatalf("status = %v", body["status"])
	}
	if _, ok := body["pid"]; ok {
		t.Fatal("pid must be omitted when nothing is running")
	}
}

func TestSupervisorStatus_Running(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	u, _ := url.Parse(ts.URL)
	port, _ := strconv.Atoi(u.Port())

	s := controlFixture(t, port)
	procDir := filepath.Join(t.TempDir(), "4242")
	if err := os.MkdirAll(procDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(procDir, "cmdline"), []byte("openclaw\x00gateway\x00"), 0o444); err != nil {
		t.Fatal(err)
	}
	s.sup.SetProcRoot(filepath.Dir(procDir))

	body := getJSON(t, s.Handler(), http.MethodGet, "/supervisor/status", http.StatusOK)
	if body["status"] != "running" {
		t.Fatalf("status = %v", body["status"])
	}
	if int(body["pid"].(float64)) != 4242 {
		t.Fatalf("pid = %v", body["pid"])
	}
}

func TestSupervisorStart_FailureIsJSONError(t *testing.T) {
	s := controlFixture(t, 1) // nothing can listen on port 1 without privileges
	s.cfg.Gateway.Binary = "clawkeep-test-no-such-binary"
	s.sup = supervisor.New(s.cfg, nil)
	s.sup.SetProcRoot(t.TempDir())

	body := getJSON(t, s.Handler(), http.MethodPost, "/supervisor/start", http.StatusInternalServerError)
	if body["error"] == "" || body["error"] == nil {
		t.Fatalf("expected error body, got %v", body)
	}
}

func TestMethodDiscipline(t *testing.T) {
	s := controlFixture(t, 18789)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/supervisor/start", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on a POST route: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST on a GET route: %d", rec.Code)
	}
}

func TestStaticRouteOnlyWithExistingDir(t *testing.T) {
	s := controlFixture(t, 18789)
	s.cfg.StaticDir = filepath.Join(t.TempDir(), "missing")
	req := httptest.NewRequest(http.MethodGet, "/static/index.html", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing static dir must 404, got %d", rec.Code)
	}

	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.cfg.StaticDir = staticDir
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("static file: %d", rec.Code)
	}
}
