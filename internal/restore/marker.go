// Package restore decides whether the remote backup supersedes local state
// and copies it into place, handling three generations of backup layout.
package restore

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/basket/clawkeep/internal/remote"
)

// MarkerName is the sync-freshness marker file, both locally and remotely.
const MarkerName = ".last-sync"

// ShouldRestore compares the remote and local sync markers. Empty strings
// mean "absent". Unparsable timestamps behave as epoch 0 on both sides.
func ShouldRestore(remoteMarker, localMarker string) bool {
	remoteMarker = strings.TrimSpace(remoteMarker)
	localMarker = strings.TrimSpace(localMarker)
	if remoteMarker == "" {
		return false
	}
	if localMarker == "" {
		return true
	}
	return parseEpoch(remoteMarker) > parseEpoch(localMarker)
}

// parseEpoch parses an ISO-8601 timestamp to Unix seconds, tolerating a few
// historical marker formats. Anything unparsable is epoch 0.
func parseEpoch(s string) int64 {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// Decision is the latched boot-time restore verdict.
type Decision struct {
	Restore      bool
	RemoteMarker string
	LocalMarker  string
}

// Resolver computes the restore decision exactly once per boot. Restore
// itself overwrites the local marker with the remote one, so a second
// evaluation would always report "no restore needed"; callers must consult
// the latched value.
type Resolver struct {
	store     *remote.Store
	localPath string
	logger    *slog.Logger

	once     sync.Once
	decision Decision
}

// NewResolver builds a Resolver reading the remote marker from the store and
// the local marker from localPath.
func NewResolver(store *remote.Store, localPath string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, localPath: localPath, logger: logger}
}

// Resolve returns the latched decision, computing it on first call.
func (r *Resolver) Resolve(ctx context.Context) Decision {
	r.once.Do(func() {
		var remoteMarker string
		if r.store.Enabled() {
			if content, err := r.store.Cat(ctx, MarkerName); err == nil {
				remoteMarker = strings.TrimSpace(content)
			} else {
				r.logger.Info("no remote sync marker", "error", err)
			}
		}
		var localMarker string
		if data, err := os.ReadFile(r.localPath); err == nil {
			localMarker = strings.TrimSpace(string(data))
		}
		r.decision = Decision{
			Restore:      ShouldRestore(remoteMarker, localMarker),
			RemoteMarker: remoteMarker,
			LocalMarker:  localMarker,
		}
		r.logger.Info("restore decision latched",
			"restore", r.decision.Restore,
			"remote_marker", remoteMarker,
			"local_marker", localMarker)
	})
	return r.decision
}
