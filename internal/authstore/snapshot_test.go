package authstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/configdoc"
)

func docFromJSON(t *testing.T, raw string) *configdoc.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openclaw.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := configdoc.Load(path)
	if err != nil {
		t.Fatalf("load doc: %v", err)
	}
	return doc
}

func writeStore(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth-profiles.json")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrimaryModelRef(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"absent", `{}`, ""},
		{"bare string", `{"agents":{"defaults":{"model":"anthropic/claude-sonnet-4"}}}`, "anthropic/claude-sonnet-4"},
		{"object with primary", `{"agents":{"defaults":{"model":{"primary":"openai-codex/gpt-5.3-codex"}}}}`, "openai-codex/gpt-5.3-codex"},
		{"object without primary", `{"agents":{"defaults":{"model":{"fallback":"x/y"}}}}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PrimaryModelRef(docFromJSON(t, tc.doc)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestProviderFromRef(t *testing.T) {
	cases := map[string]string{
		"anthropic/claude-sonnet-4":  "anthropic",
		"Openai-Codex/gpt-5.3-codex": "openai-codex",
		"no-slash":                   "",
		"https://example.com/model":  "",
		"":                           "",
	}
	for ref, want := range cases {
		if got := ProviderFromRef(ref); got != want {
			t.Fatalf("ProviderFromRef(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestEvaluate_ConsistentState(t *testing.T) {
	doc := docFromJSON(t, `{"agents":{"defaults":{"model":{"primary":"openai-codex/gpt-5.3-codex"}}}}`)
	store := writeStore(t, `{"version":1,"profiles":{"openai-codex:default":{"type":"api_key","provider":"openai-codex","key":"sk"}}}`)

	snap := Evaluate(doc, store, config.Env{})
	if snap.PrimaryProvider != "openai-codex" {
		t.Fatalf("primary provider = %q", snap.PrimaryProvider)
	}
	if !snap.HasRequiredProvider || snap.Mismatch {
		t.Fatalf("expected consistent state: %+v", snap)
	}
}

func TestEvaluate_MismatchDetected(t *testing.T) {
	doc := docFromJSON(t, `{"agents":{"defaults":{"model":{"primary":"openai-codex/gpt-5.3-codex"}}}}`)
	store := writeStore(t, `{"version":1,"profiles":{"anthropic:default":{"type":"api_key","provider":"anthropic","key":"sk"}}}`)

	snap := Evaluate(doc, store, config.Env{})
	if !snap.Mismatch {
		t.Fatalf("expected mismatch when required provider has no profile: %+v", snap)
	}
	if !snap.AuthProfilesPresent {
		t.Fatal("other-provider profiles are still present")
	}
}

func TestEvaluate_EnvKeySatisfiesProvider(t *testing.T) {
	doc := docFromJSON(t, `{"agents":{"defaults":{"model":"anthropic/claude-sonnet-4"}}}`)
	store := writeStore(t, `{"version":1,"profiles":{}}`)

	env := config.Env{ProviderKeys: map[string]string{"anthropic": "sk-ant"}}
	snap := Evaluate(doc, store, env)
	if snap.Mismatch {
		t.Fatalf("direct env key must satisfy the provider: %+v", snap)
	}
}

func TestEvaluate_NoPrimaryModelNeverMismatches(t *testing.T) {
	doc := docFromJSON(t, `{}`)
	snap := Evaluate(doc, filepath.Join(t.TempDir(), "missing.json"), config.Env{})
	if snap.Mismatch {
		t.Fatalf("no primary model means nothing to mismatch against: %+v", snap)
	}
}

func TestEvaluate_MalformedStoreFallsBackToScan(t *testing.T) {
	doc := docFromJSON(t, `{"agents":{"defaults":{"model":{"primary":"openai-codex/gpt-5.3-codex"}}}}`)
	// Truncated mid-object: unparsable, but the provider field survives.
	store := writeStore(t, `{"version":1,"profiles":{"openai-codex:default":{"type":"token","provider":"openai-codex","token":"eyJh`)

	snap := Evaluate(doc, store, config.Env{})
	if snap.Mismatch {
		t.Fatalf("raw scan must find the provider in malformed stores: %+v", snap)
	}
	found := false
	for _, p := range snap.ProfileProviders {
		if p == "openai-codex" {
			found = true
		}
	}
	if !found {
		t.Fatalf("scan missed the provider: %v", snap.ProfileProviders)
	}
}

func TestSnapshot_SerializesWithoutSecrets(t *testing.T) {
	doc := docFromJSON(t, `{"agents":{"defaults":{"model":{"primary":"anthropic/claude-sonnet-4"}}}}`)
	secret := "sk-ant-REDACTED"
	store := writeStore(t, `{"version":1,"profiles":{"anthropic:default":{"type":"api_key","provider":"anthropic","key":"`+secret+`"}}}`)

	snap := Evaluate(doc, store, config.Env{ProviderKeys: map[string]string{"anthropic": secret}})
	out, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if strings.Contains(string(out), secret) {
		t.Fatalf("credential material leaked into snapshot: %s", out)
	}
}
