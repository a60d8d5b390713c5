// Package configdoc owns the gateway's JSON configuration document: reads,
// structural validation, idempotent env-driven patching, and atomic writes.
// The document is re-read from disk by every operation; there is no shared
// in-memory cache across boot phases.
package configdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Document is the parsed-but-raw configuration document. All access goes
// through JSON paths so unknown subtrees written by other tools survive
// untouched.
type Document struct {
	data string
}

// Load reads the document at path. A missing file yields an empty document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{data: "{}"}, nil
		}
		return nil, fmt.Errorf("configdoc: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return &Document{data: "{}"}, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("configdoc: %s is not valid JSON", path)
	}
	return &Document{data: string(data)}, nil
}

// Get reads a JSON path.
func (d *Document) Get(path string) gjson.Result {
	return gjson.Get(d.data, path)
}

// Set writes a value at a JSON path.
func (d *Document) Set(path string, value any) error {
	out, err := sjson.Set(d.data, path, value)
	if err != nil {
		return fmt.Errorf("configdoc: set %s: %w", path, err)
	}
	d.data = out
	return nil
}

// SetRaw replaces the subtree at path with pre-encoded JSON, wholesale.
func (d *Document) SetRaw(path, raw string) error {
	out, err := sjson.SetRaw(d.data, path, raw)
	if err != nil {
		return fmt.Errorf("configdoc: set raw %s: %w", path, err)
	}
	d.data = out
	return nil
}

// Delete removes the subtree at path.
func (d *Document) Delete(path string) error {
	out, err := sjson.Delete(d.data, path)
	if err != nil {
		return fmt.Errorf("configdoc: delete %s: %w", path, err)
	}
	d.data = out
	return nil
}

// JSON returns the raw document text.
func (d *Document) JSON() string { return d.data }

// Equal reports semantic equality of two documents.
func (d *Document) Equal(other *Document) bool {
	var a, b any
	if err := json.Unmarshal([]byte(d.data), &a); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(other.data), &b); err != nil {
		return false
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return string(ja) == string(jb)
}

// documentSchema constrains the known subtrees without forbidding unknown
// ones; older documents carry keys this subsystem never touches.
const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"gateway":  {"type": "object"},
		"channels": {"type": "object"},
		"plugins":  {"type": "object"},
		"models":   {"type": "object"},
		"agents":   {"type": "object"}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
	if err != nil {
		panic(fmt.Sprintf("configdoc: schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("configdoc.schema.json", doc); err != nil {
		panic(fmt.Sprintf("configdoc: schema: %v", err))
	}
	schema, err := c.Compile("configdoc.schema.json")
	if err != nil {
		panic(fmt.Sprintf("configdoc: schema: %v", err))
	}
	return schema
}

// Validate checks the document is a JSON object with well-typed known
// subtrees.
func (d *Document) Validate() error {
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(d.data))
	if err != nil {
		return fmt.Errorf("configdoc: not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(value); err != nil {
		return fmt.Errorf("configdoc: schema violation: %w", err)
	}
	return nil
}

// Save validates the document, stages it to a temporary file and renames it
// into place. A crash mid-write can never leave a truncated document.
func (d *Document) Save(path string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("configdoc: create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".openclaw-*.json.tmp")
	if err != nil {
		return fmt.Errorf("configdoc: stage write: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(d.data); err != nil {
		tmp.Close()
		return fmt.Errorf("configdoc: stage write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("configdoc: stage write: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("configdoc: install %s: %w", path, err)
	}
	return nil
}
