package authstore

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/configdoc"
)

// Snapshot is the derived auth state: computed fresh on demand, never
// mutated, and free of credential material by construction.
type Snapshot struct {
	PrimaryModel        string   `json:"primary_model"`
	PrimaryProvider     string   `json:"primary_provider"`
	ProfileProviders    []string `json:"providers_with_profiles"`
	AuthProfilesPresent bool     `json:"auth_profiles_present"`
	HasRequiredProvider bool     `json:"has_required_provider"`
	Mismatch            bool     `json:"mismatch_detected"`
}

// PrimaryModelRef extracts the primary model reference from
// agents.defaults.model, accepting either a bare string or an object with a
// primary field.
func PrimaryModelRef(doc *configdoc.Document) string {
	model := doc.Get("agents.defaults.model")
	if !model.Exists() {
		return ""
	}
	if model.IsObject() {
		return strings.TrimSpace(model.Get("primary").String())
	}
	return strings.TrimSpace(model.String())
}

// ProviderFromRef derives the provider segment of "<provider>/<modelId>".
// References that look like URLs or contain no slash are rejected.
func ProviderFromRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "://") {
		return ""
	}
	provider, _, ok := strings.Cut(ref, "/")
	if !ok || provider == "" {
		return ""
	}
	return strings.ToLower(provider)
}

// providerFieldPattern scans raw store text for provider fields. Deliberate
// best-effort fallback for malformed persisted stores; the structured read
// is the primary source of truth.
var providerFieldPattern = regexp.MustCompile(`"provider"\s*:\s*"([^"]+)"`)

// scanProviders extracts provider names from raw store text.
func scanProviders(raw []byte, required string) []string {
	seen := make(map[string]struct{})
	for _, m := range providerFieldPattern.FindAllSubmatch(raw, -1) {
		seen[strings.ToLower(string(m[1]))] = struct{}{}
	}
	// A truncated store may cut the provider field itself; the literal
	// substring still counts as presence.
	if required != "" && strings.Contains(strings.ToLower(string(raw)), required) {
		seen[required] = struct{}{}
	}
	providers := make([]string, 0, len(seen))
	for p := range seen {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// Evaluate computes the auth-state snapshot from the config document, the
// store at storePath, and the captured environment.
func Evaluate(doc *configdoc.Document, storePath string, env config.Env) Snapshot {
	snap := Snapshot{}
	snap.PrimaryModel = PrimaryModelRef(doc)
	snap.PrimaryProvider = ProviderFromRef(snap.PrimaryModel)

	store, err := Load(storePath)
	switch {
	case err == nil && store != nil:
		snap.AuthProfilesPresent = len(store.Profiles) > 0
		snap.ProfileProviders = store.Providers()
	case err != nil:
		// Malformed store: degrade to the raw scan instead of failing.
		if raw, readErr := os.ReadFile(storePath); readErr == nil {
			snap.ProfileProviders = scanProviders(raw, snap.PrimaryProvider)
			snap.AuthProfilesPresent = len(snap.ProfileProviders) > 0
		}
	}

	if snap.PrimaryProvider == "" {
		return snap
	}

	if env.ProviderKey(snap.PrimaryProvider) != "" {
		snap.HasRequiredProvider = true
	} else {
		for _, p := range snap.ProfileProviders {
			if strings.EqualFold(p, snap.PrimaryProvider) {
				snap.HasRequiredProvider = true
				break
			}
		}
	}
	snap.Mismatch = !snap.HasRequiredProvider
	return snap
}
