package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DegradedMarker records an unresolved provider mismatch. Ephemeral: written
// when every recovery stage fails, cleared by the next consistent check.
type DegradedMarker struct {
	Provider string    `json:"provider"`
	Since    time.Time `json:"since"`
}

// WriteDegraded persists the marker.
func WriteDegraded(path, provider string) error {
	marker := DegradedMarker{Provider: provider, Since: time.Now().UTC()}
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("reconcile: encode degraded marker: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("reconcile: write degraded marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("reconcile: install degraded marker: %w", err)
	}
	return nil
}

// ReadDegraded loads the marker if present.
func ReadDegraded(path string) (*DegradedMarker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var marker DegradedMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("reconcile: parse degraded marker: %w", err)
	}
	return &marker, nil
}

// ClearDegraded removes the marker. Missing files are fine.
func ClearDegraded(path string) {
	_ = os.Remove(path)
}
