// Package authstore manages the per-agent credential store: the versioned
// profile map, migration from the legacy flat layout, and the derived
// auth-state snapshot the reconciler works from.
package authstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StoreVersion is the current on-disk store version.
const StoreVersion = 1

// Credential kinds.
const (
	KindToken  = "token"
	KindAPIKey = "api_key"
	KindOAuth  = "oauth"
)

// Credential is one stored credential. Type discriminates the variant.
type Credential struct {
	Type            string `json:"type"`
	Provider        string `json:"provider"`
	Token           string `json:"token,omitempty"`
	Key             string `json:"key,omitempty"`
	ExpiresAtMillis int64  `json:"expiresAtMillis,omitempty"`
	AccessToken     string `json:"accessToken,omitempty"`
	RefreshToken    string `json:"refreshToken,omitempty"`
}

// Expired reports whether the credential carries an expiry in the past.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAtMillis > 0 && c.ExpiresAtMillis <= now.UnixMilli()
}

// Store is the versioned profile store. Profile ids are "<provider>:<label>".
type Store struct {
	Version  int                   `json:"version"`
	Profiles map[string]Credential `json:"profiles"`
}

// NewStore returns an empty store at the current version.
func NewStore() *Store {
	return &Store{Version: StoreVersion, Profiles: make(map[string]Credential)}
}

// legacyEntry is the flat pre-versioning store shape: ProfileId -> entry.
type legacyEntry struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

// Load reads and, when necessary, migrates the store at path. A missing file
// returns (nil, nil). Malformed JSON is an error; callers needing resilience
// fall back to the snapshot's raw scan.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("authstore: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes store bytes, migrating the legacy flat layout when the
// versioned wrapper is absent. Migration is idempotent: a migrated store
// round-trips unchanged.
func Parse(data []byte) (*Store, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("authstore: parse: %w", err)
	}
	if _, versioned := probe["profiles"]; versioned {
		var s Store
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("authstore: parse versioned store: %w", err)
		}
		if s.Profiles == nil {
			s.Profiles = make(map[string]Credential)
		}
		if s.Version == 0 {
			s.Version = StoreVersion
		}
		return &s, nil
	}

	// Legacy flat layout: ProfileId -> {provider, apiKey}.
	var flat map[string]legacyEntry
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("authstore: parse legacy store: %w", err)
	}
	return migrateLegacy(flat), nil
}

// migrateLegacy lifts a flat store into the versioned shape. JWT-shaped keys
// become token credentials with their decoded expiry; expired ones are
// dropped.
func migrateLegacy(flat map[string]legacyEntry) *Store {
	s := NewStore()
	now := time.Now()
	for id, entry := range flat {
		provider := strings.ToLower(strings.TrimSpace(entry.Provider))
		if provider == "" {
			// Fall back to the id prefix when the entry omits a provider.
			if prefix, _, ok := strings.Cut(id, ":"); ok {
				provider = strings.ToLower(strings.TrimSpace(prefix))
			}
		}
		if provider == "" || entry.APIKey == "" {
			continue
		}

		key := provider + ":default"
		if prefix, _, ok := strings.Cut(id, ":"); ok && strings.EqualFold(prefix, provider) {
			key = id
		}

		if LooksLikeJWT(entry.APIKey) {
			expiry, _ := DecodeExpiry(entry.APIKey)
			cred := Credential{Type: KindToken, Provider: provider, Token: entry.APIKey}
			if !expiry.IsZero() {
				cred.ExpiresAtMillis = expiry.UnixMilli()
			}
			if cred.Expired(now) {
				continue
			}
			s.Profiles[key] = cred
			continue
		}
		s.Profiles[key] = Credential{Type: KindAPIKey, Provider: provider, Key: entry.APIKey}
	}
	return s
}

// MigrateFile rewrites the store at path into the versioned shape when it is
// still the legacy flat layout. Returns whether a migration happened.
func MigrateFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("authstore: read %s: %w", path, err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false, fmt.Errorf("authstore: parse %s: %w", path, err)
	}
	if _, versioned := probe["profiles"]; versioned {
		return false, nil
	}
	s, err := Parse(data)
	if err != nil {
		return false, err
	}
	if err := s.Save(path); err != nil {
		return false, err
	}
	return true, nil
}

// Providers returns the distinct lowercase providers present in the store,
// derived from both the provider field and the profile-id prefix.
func (s *Store) Providers() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for id, cred := range s.Profiles {
		if p := strings.ToLower(strings.TrimSpace(cred.Provider)); p != "" {
			seen[p] = struct{}{}
		}
		if prefix, _, ok := strings.Cut(id, ":"); ok {
			if p := strings.ToLower(strings.TrimSpace(prefix)); p != "" {
				seen[p] = struct{}{}
			}
		}
	}
	providers := make([]string, 0, len(seen))
	for p := range seen {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// HasProvider reports whether a usable (non-expired) profile exists for the
// provider, matching case-insensitively.
func (s *Store) HasProvider(provider string) bool {
	if s == nil {
		return false
	}
	now := time.Now()
	provider = strings.ToLower(strings.TrimSpace(provider))
	for id, cred := range s.Profiles {
		if cred.Expired(now) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(cred.Provider), provider) {
			return true
		}
		if prefix, _, ok := strings.Cut(id, ":"); ok && strings.EqualFold(strings.TrimSpace(prefix), provider) {
			return true
		}
	}
	return false
}

// Save writes the store atomically: staged to a temp file, then renamed.
func (s *Store) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("authstore: create store dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("authstore: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".auth-profiles-*.tmp")
	if err != nil {
		return fmt.Errorf("authstore: stage write: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("authstore: stage write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("authstore: stage write: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("authstore: stage write: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("authstore: install %s: %w", path, err)
	}
	return nil
}
