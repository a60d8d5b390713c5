// Package remote wraps the external rclone binary as an object-store
// capability: list, copy, cat, put and tree sync against a remote namespace.
// All operations are bounded by the caller's context plus a per-call timeout.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/clawkeep/internal/config"
)

const defaultCallTimeout = 2 * time.Minute

// Runner executes an external command and returns its output streams.
// Extracted so tests can substitute a fake rclone.
type Runner interface {
	Run(ctx context.Context, name string, args []string, env []string) (stdout, stderr string, err error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, env []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// Result is the structured outcome of a best-effort remote operation.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Store is an rclone-backed object store rooted at <remote>:<bucket>.
type Store struct {
	remote     string
	bucket     string
	bin        string
	configPath string
	timeout    time.Duration
	runner     Runner
	logger     *slog.Logger
}

// NewStore builds a Store from the keeper's remote config. The rclone config
// file is expected at configPath (see EnsureConfig).
func NewStore(cfg config.RemoteConfig, configPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		remote:     cfg.Remote,
		bucket:     cfg.Bucket,
		bin:        "rclone",
		configPath: configPath,
		timeout:    defaultCallTimeout,
		runner:     ExecRunner{},
		logger:     logger,
	}
}

// SetRunner substitutes the command runner. Test hook.
func (s *Store) SetRunner(r Runner) { s.runner = r }

// SetTimeout overrides the per-call timeout.
func (s *Store) SetTimeout(d time.Duration) { s.timeout = d }

// Enabled reports whether a remote namespace is configured at all.
func (s *Store) Enabled() bool { return s.bucket != "" }

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// EnsureConfig writes an rclone config section for the S3-compatible remote.
// This is a hard precondition for every remote operation; failure is an
// explicit error, not best-effort.
func EnsureConfig(cfg config.RemoteConfig, configPath string) error {
	if cfg.Bucket == "" {
		return nil
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Endpoint == "" {
		return fmt.Errorf("remote: bucket %q configured but endpoint or credentials missing", cfg.Bucket)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("remote: create rclone config dir: %w", err)
	}
	content := fmt.Sprintf(`[%s]
type = s3
provider = Other
env_auth = false
access_key_id = %s
secret_access_key = %s
endpoint = %s
acl = private
no_check_bucket = true
`, cfg.Remote, cfg.AccessKey, cfg.SecretKey, cfg.Endpoint)

	tmp := configPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return fmt.Errorf("remote: write rclone config: %w", err)
	}
	if err := os.Rename(tmp, configPath); err != nil {
		return fmt.Errorf("remote: install rclone config: %w", err)
	}
	return nil
}

// target joins a remote-relative path onto <remote>:<bucket>.
func (s *Store) target(rel string) string {
	base := s.remote + ":" + s.bucket
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return base
	}
	return base + "/" + rel
}

func (s *Store) run(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	env := []string{"RCLONE_CONFIG=" + s.configPath}
	return s.runner.Run(ctx, s.bin, args, env)
}

// List returns the entries directly under the given remote path.
func (s *Store) List(ctx context.Context, rel string) ([]string, error) {
	stdout, stderr, err := s.run(ctx, "lsf", s.target(rel))
	if err != nil {
		return nil, fmt.Errorf("remote: lsf %s: %w (%s)", rel, err, strings.TrimSpace(stderr))
	}
	var entries []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

// Exists reports whether a single remote file is present.
func (s *Store) Exists(ctx context.Context, rel string) bool {
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	entries, err := s.List(ctx, dir)
	if err != nil {
		return false
	}
	name := path.Base(rel)
	for _, e := range entries {
		if e == name {
			return true
		}
	}
	return false
}

// Cat reads a remote file's contents.
func (s *Store) Cat(ctx context.Context, rel string) (string, error) {
	stdout, stderr, err := s.run(ctx, "cat", s.target(rel))
	if err != nil {
		return "", fmt.Errorf("remote: cat %s: %w (%s)", rel, err, strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// Put writes content to a remote file via a local staging file.
func (s *Store) Put(ctx context.Context, content, rel string) error {
	staging, err := os.CreateTemp("", "clawkeep-put-*")
	if err != nil {
		return fmt.Errorf("remote: stage put: %w", err)
	}
	defer os.Remove(staging.Name())
	if _, err := staging.WriteString(content); err != nil {
		staging.Close()
		return fmt.Errorf("remote: stage put: %w", err)
	}
	staging.Close()

	_, stderr, err := s.run(ctx, "copyto", staging.Name(), s.target(rel))
	if err != nil {
		return fmt.Errorf("remote: put %s: %w (%s)", rel, err, strings.TrimSpace(stderr))
	}
	return nil
}

// Copy copies a remote tree (or file) into a local directory.
func (s *Store) Copy(ctx context.Context, rel, localDir string) error {
	_, stderr, err := s.run(ctx, "copy", s.target(rel), localDir)
	if err != nil {
		return fmt.Errorf("remote: copy %s: %w (%s)", rel, err, strings.TrimSpace(stderr))
	}
	return nil
}

// CopyShallow copies only the files directly under a remote path into a
// local directory, leaving subtrees alone. Used for the flat legacy backup
// layout where config files sit at the bucket root next to other trees.
func (s *Store) CopyShallow(ctx context.Context, rel, localDir string) error {
	_, stderr, err := s.run(ctx, "copy", "--max-depth", "1", s.target(rel), localDir)
	if err != nil {
		return fmt.Errorf("remote: shallow copy %s: %w (%s)", rel, err, strings.TrimSpace(stderr))
	}
	return nil
}

// CopyFile copies a single remote file to an exact local path.
func (s *Store) CopyFile(ctx context.Context, rel, localPath string) error {
	_, stderr, err := s.run(ctx, "copyto", s.target(rel), localPath)
	if err != nil {
		return fmt.Errorf("remote: copyto %s: %w (%s)", rel, err, strings.TrimSpace(stderr))
	}
	return nil
}

// SyncUp mirrors a local tree to the remote path, best-effort. Excludes use
// rclone filter syntax.
func (s *Store) SyncUp(ctx context.Context, localDir, rel string, excludes []string) Result {
	args := []string{"sync", localDir, s.target(rel)}
	for _, ex := range excludes {
		args = append(args, "--exclude", ex)
	}
	_, stderr, err := s.run(ctx, args...)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("sync %s: %v", rel, err), Details: strings.TrimSpace(stderr)}
	}
	return Result{Success: true}
}
