// Package reconcile detects mismatches between the configured primary model
// provider and the credentials actually on disk, and runs staged recovery
// before the gateway starts.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/basket/clawkeep/internal/authstore"
	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/configdoc"
	"github.com/basket/clawkeep/internal/remote"
)

// State names the reconciler's position in its recovery sequence.
type State string

const (
	StateConsistent           State = "consistent"
	StateMismatchDetected     State = "mismatch_detected"
	StateRecoveringFromStore  State = "recovering_from_store"
	StateRecoveringFromRemote State = "recovering_from_remote"
	StateRecoveringViaRefresh State = "recovering_via_refresh"
	StateDegraded             State = "degraded"
	StateResolved             State = "resolved"
)

// FallbackProvider is the secondary code-execution provider whose env
// credential may be installed directly as a profile.
const FallbackProvider = "openai-codex"

const refreshTimeout = 30 * time.Second

// remoteAuthPath is the store-relative location of the credential file
// within a backup tree.
const remoteAuthPath = "agents/main/agent/auth-profiles.json"

// Reconciler drives the auth recovery state machine. It re-reads the config
// document and auth store from disk at every evaluation; files on disk are
// the only authoritative state.
type Reconciler struct {
	cfg    config.Config
	store  *remote.Store
	runner remote.Runner
	logger *slog.Logger
}

func NewReconciler(cfg config.Config, store *remote.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{cfg: cfg, store: store, runner: remote.ExecRunner{}, logger: logger}
}

// SetRunner substitutes the CLI runner. Test hook.
func (r *Reconciler) SetRunner(runner remote.Runner) { r.runner = runner }

// Outcome is the reconciliation result handed to the boot pipeline.
type Outcome struct {
	Snapshot authstore.Snapshot
	State    State
	Trail    []State
}

// Reconcile evaluates auth state and, on mismatch, walks the recovery
// stages in order. An unresolved mismatch degrades rather than fails: the
// gateway is started anyway and the degraded marker is left for diagnostics.
func (r *Reconciler) Reconcile(ctx context.Context, env config.Env, restoredThisBoot bool) Outcome {
	r.bootstrapFallbackProfile(env)

	out := Outcome{}
	snap := r.evaluate(env)
	out.Snapshot = snap
	if !snap.Mismatch {
		out.State = StateConsistent
		out.Trail = []State{StateConsistent}
		ClearDegraded(r.cfg.DegradedMarkerPath())
		return out
	}

	r.logger.Warn("auth mismatch detected",
		"primary_provider", snap.PrimaryProvider,
		"providers_with_profiles", snap.ProfileProviders)
	out.Trail = []State{StateMismatchDetected}

	stages := []struct {
		state State
		run   func(context.Context, config.Env) bool
	}{
		{StateRecoveringFromStore, r.recoverFromStore},
		{StateRecoveringFromRemote, func(ctx context.Context, env config.Env) bool {
			return r.recoverFromRemote(ctx, restoredThisBoot)
		}},
		{StateRecoveringViaRefresh, r.recoverViaRefresh},
	}

	for _, stage := range stages {
		out.Trail = append(out.Trail, stage.state)
		if !stage.run(ctx, env) {
			continue
		}
		snap = r.evaluate(env)
		out.Snapshot = snap
		if !snap.Mismatch {
			out.State = StateResolved
			out.Trail = append(out.Trail, StateResolved)
			ClearDegraded(r.cfg.DegradedMarkerPath())
			r.logger.Info("auth mismatch resolved", "stage", stage.state)
			return out
		}
	}

	out.State = StateDegraded
	out.Trail = append(out.Trail, StateDegraded)
	if err := WriteDegraded(r.cfg.DegradedMarkerPath(), snap.PrimaryProvider); err != nil {
		r.logger.Warn("cannot write degraded marker", "error", err)
	}
	r.logger.Warn("auth mismatch unresolved; starting degraded",
		"primary_provider", snap.PrimaryProvider)
	return out
}

// evaluate re-reads document and store from disk and derives the snapshot.
func (r *Reconciler) evaluate(env config.Env) authstore.Snapshot {
	doc, err := configdoc.Load(r.cfg.ConfigDocumentPath())
	if err != nil {
		r.logger.Warn("cannot read config document", "error", err)
		doc = &configdoc.Document{}
	}
	return authstore.Evaluate(doc, r.cfg.AuthStorePath(), env)
}

// recoverFromStore migrates a legacy flat store in place.
func (r *Reconciler) recoverFromStore(_ context.Context, _ config.Env) bool {
	migrated, err := authstore.MigrateFile(r.cfg.AuthStorePath())
	if err != nil {
		r.logger.Warn("legacy store migration failed", "error", err)
		return false
	}
	if migrated {
		r.logger.Info("legacy auth store migrated")
	}
	return migrated
}

// recoverFromRemote fetches the credential file from the current backup
// layout, then the legacy one. Only attempted when a restore was indicated
// this boot.
func (r *Reconciler) recoverFromRemote(ctx context.Context, restoredThisBoot bool) bool {
	if !restoredThisBoot || !r.store.Enabled() {
		return false
	}
	for _, rel := range []string{
		config.ProductName + "/" + remoteAuthPath,
		config.LegacyProductName + "/" + remoteAuthPath,
	} {
		if !r.store.Exists(ctx, rel) {
			continue
		}
		if err := r.store.CopyFile(ctx, rel, r.cfg.AuthStorePath()); err != nil {
			r.logger.Warn("remote credential restore failed", "path", rel, "error", err)
			continue
		}
		r.logger.Info("credentials restored from remote", "path", rel)
		return true
	}
	return false
}

// recoverViaRefresh invokes the gateway CLI's non-interactive model listing
// as a side-effecting credential refresh. Only attempted when the legacy
// OAuth marker file exists; failures are swallowed.
func (r *Reconciler) recoverViaRefresh(ctx context.Context, _ config.Env) bool {
	if _, err := os.Stat(r.cfg.LegacyOAuthPath()); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	_, stderr, err := r.runner.Run(ctx, r.cfg.Gateway.Binary, []string{"models", "list", "--json"}, nil)
	if err != nil {
		r.logger.Info("cli refresh attempt failed", "error", err, "stderr", stderr)
	}
	// The refresh may have rewritten the store even on a non-zero exit.
	return true
}

// bootstrapFallbackProfile installs the env-provided fallback credential as
// a profile when it is an unexpired signed token. Runs on every boot, even
// without a mismatch, to keep the secondary code-execution provider usable.
func (r *Reconciler) bootstrapFallbackProfile(env config.Env) {
	token := env.CodexAPIKey
	if token == "" || !authstore.LooksLikeJWT(token) {
		return
	}
	if authstore.TokenExpired(token, time.Now()) {
		r.logger.Info("fallback provider token expired; not installing", "provider", FallbackProvider)
		return
	}

	storePath := r.cfg.AuthStorePath()
	store, err := authstore.Load(storePath)
	if err != nil || store == nil {
		store = authstore.NewStore()
	}
	cred := authstore.Credential{Type: authstore.KindToken, Provider: FallbackProvider, Token: token}
	if expiry, ok := authstore.DecodeExpiry(token); ok {
		cred.ExpiresAtMillis = expiry.UnixMilli()
	}
	key := FallbackProvider + ":default"
	if existing, ok := store.Profiles[key]; ok && existing.Token == token {
		return
	}
	store.Profiles[key] = cred
	if err := store.Save(storePath); err != nil {
		r.logger.Warn("cannot install fallback profile", "provider", FallbackProvider, "error", err)
		return
	}
	r.logger.Info("fallback provider profile installed", "provider", FallbackProvider)
}
