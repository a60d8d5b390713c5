package restore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/remote"
)

// Outcome reports which trees a restore attempt actually brought back.
type Outcome struct {
	RestoredConfig    bool   `json:"restored_config"`
	RestoredWorkspace bool   `json:"restored_workspace"`
	RestoredSkills    bool   `json:"restored_skills"`
	Layout            string `json:"layout,omitempty"`
}

// Backup layout generations, probed in order.
const (
	LayoutCurrent      = "current"
	LayoutLegacyNested = "legacy-nested"
	LayoutLegacyFlat   = "legacy-flat"
)

// Restorer copies remote backups onto local state. Every copy is
// best-effort: a missing or failing backup is a fresh start, not an error.
type Restorer struct {
	store  *remote.Store
	cfg    config.Config
	logger *slog.Logger
}

func NewRestorer(store *remote.Store, cfg config.Config, logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{store: store, cfg: cfg, logger: logger}
}

// Restore applies the latched decision. With a false decision (or no remote
// configured) it is a no-op.
func (r *Restorer) Restore(ctx context.Context, decision Decision) Outcome {
	var out Outcome
	if !decision.Restore || !r.store.Enabled() {
		return out
	}

	out.Layout, out.RestoredConfig = r.restoreConfig(ctx)
	out.RestoredWorkspace = r.restoreTree(ctx, "workspace", r.cfg.WorkspaceDir)
	out.RestoredSkills = r.restoreTree(ctx, "workspace/skills", r.cfg.SkillsDir())

	if out.RestoredConfig || out.RestoredWorkspace || out.RestoredSkills {
		r.adoptMarker(decision.RemoteMarker)
	}
	return out
}

// adoptMarker stamps the local sync marker with the remote one after a
// restore, so the next boot's freshness comparison treats the restored
// state as current instead of restoring again.
func (r *Restorer) adoptMarker(remoteMarker string) {
	if remoteMarker == "" {
		return
	}
	markerPath := r.cfg.LocalMarkerPath()
	if err := os.MkdirAll(filepath.Dir(markerPath), 0o755); err != nil {
		r.logger.Warn("cannot adopt sync marker", "error", err)
		return
	}
	if err := os.WriteFile(markerPath, []byte(remoteMarker), 0o644); err != nil {
		r.logger.Warn("cannot adopt sync marker", "error", err)
		return
	}
	r.logger.Info("adopted remote sync marker", "marker", remoteMarker)
}

// restoreConfig probes the three backup layout generations in order and
// copies the first one found into the state directory.
func (r *Restorer) restoreConfig(ctx context.Context) (string, bool) {
	if err := os.MkdirAll(r.cfg.StateDir, 0o755); err != nil {
		r.logger.Warn("cannot create state dir", "dir", r.cfg.StateDir, "error", err)
		return "", false
	}

	type layout struct {
		name   string
		marker string
		copy   func(context.Context) error
	}
	layouts := []layout{
		{
			name:   LayoutCurrent,
			marker: config.ProductName + "/" + config.ConfigFileName,
			copy: func(ctx context.Context) error {
				return r.store.Copy(ctx, config.ProductName, r.cfg.StateDir)
			},
		},
		{
			name:   LayoutLegacyNested,
			marker: config.LegacyProductName + "/" + config.LegacyConfigFileName,
			copy: func(ctx context.Context) error {
				return r.store.Copy(ctx, config.LegacyProductName, r.cfg.StateDir)
			},
		},
		{
			name:   LayoutLegacyFlat,
			marker: config.LegacyConfigFileName,
			copy: func(ctx context.Context) error {
				return r.store.CopyShallow(ctx, "", r.cfg.StateDir)
			},
		},
	}

	for _, l := range layouts {
		if !r.store.Exists(ctx, l.marker) {
			continue
		}
		r.logger.Info("restoring config backup", "layout", l.name)
		if err := l.copy(ctx); err != nil {
			r.logger.Warn("config restore failed", "layout", l.name, "error", err)
			return l.name, false
		}
		r.adoptLegacyConfigName()
		return l.name, true
	}

	r.logger.Info("no remote config backup found")
	return "", false
}

// adoptLegacyConfigName renames a restored legacy-named config file to the
// current name when no current-named file exists.
func (r *Restorer) adoptLegacyConfigName() {
	current := filepath.Join(r.cfg.StateDir, config.ConfigFileName)
	legacy := filepath.Join(r.cfg.StateDir, config.LegacyConfigFileName)
	if _, err := os.Stat(current); err == nil {
		return
	}
	if _, err := os.Stat(legacy); err != nil {
		return
	}
	if err := os.Rename(legacy, current); err != nil {
		r.logger.Warn("cannot adopt legacy config name", "error", err)
		return
	}
	r.logger.Info("renamed legacy config", "from", config.LegacyConfigFileName, "to", config.ConfigFileName)
}

// restoreTree copies a remote tree into localDir when the remote side is
// non-empty.
func (r *Restorer) restoreTree(ctx context.Context, rel, localDir string) bool {
	entries, err := r.store.List(ctx, rel)
	if err != nil || len(entries) == 0 {
		return false
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		r.logger.Warn("cannot create restore target", "dir", localDir, "error", err)
		return false
	}
	if err := r.store.Copy(ctx, rel, localDir); err != nil {
		r.logger.Warn("tree restore failed", "tree", rel, "error", err)
		return false
	}
	r.logger.Info("restored tree", "tree", rel, "entries", len(entries))
	return true
}
