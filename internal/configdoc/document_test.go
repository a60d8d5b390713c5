package configdoc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileIsEmptyDocument(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "openclaw.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.JSON() != "{}" {
		t.Fatalf("expected empty document, got %q", doc.JSON())
	}
}

func TestLoad_EmptyFileIsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openclaw.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.JSON() != "{}" {
		t.Fatalf("expected empty document, got %q", doc.JSON())
	}
}

func TestLoad_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openclaw.json")
	if err := os.WriteFile(path, []byte(`{"gateway": {`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "openclaw.json")
	doc := &Document{data: "{}"}
	if err := doc.Set("gateway.port", 18789); err != nil {
		t.Fatal(err)
	}
	if err := doc.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get("gateway.port").Int(); got != 18789 {
		t.Fatalf("round trip lost data: port = %d", got)
	}
}

func TestSave_RejectsSchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openclaw.json")
	doc := &Document{data: `{"gateway": "not-an-object"}`}
	if err := doc.Save(path); err == nil {
		t.Fatal("expected schema violation for non-object gateway")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("invalid document must never reach disk")
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	doc := &Document{data: `{"channels":{}}`}
	if err := doc.Save(filepath.Join(dir, "openclaw.json")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Fatalf("staging file left behind: %s", e.Name())
		}
	}
}

func TestValidate_AllowsUnknownSubtrees(t *testing.T) {
	doc := &Document{data: `{"gateway":{},"somethingElse":[1,2,3]}`}
	if err := doc.Validate(); err != nil {
		t.Fatalf("unknown subtree must validate: %v", err)
	}
}

func TestEqual_IgnoresKeyOrder(t *testing.T) {
	a := &Document{data: `{"x":1,"y":2}`}
	b := &Document{data: `{"y":2,"x":1}`}
	if !a.Equal(b) {
		t.Fatal("semantic equality must ignore key order")
	}
}
