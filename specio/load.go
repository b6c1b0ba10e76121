// Package specio is the narrow boundary between a spec document on disk and
// the typed, gated in-memory spec.Spec the engine runs. It owns exactly the
// concerns spec.md marks as external collaborators: YAML parsing and the
// translation from a generic document into spec's closed Pattern/Step
// variant set. Everything past that line — schema validation, structural
// checks, defaulting — is spec.ValidateSchema and spec.Gate.
package specio

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentflowhq/engine/spec"
)

// Document is the result of loading a spec file: the verbatim bytes (stored
// as the session's spec_snapshot.yaml), the raw decoded document (fed to
// spec.ValidateSchema and spec.Canonicalize), and the typed Spec before
// capability gating.
type Document struct {
	Raw    []byte
	Fields map[string]any
	Spec   spec.Spec
}

// Load reads path, decodes it as YAML into both a generic document (for
// schema validation and hashing) and a typed spec.Spec (for the capability
// gate and the engine itself). It does not run the capability gate: callers
// validate and gate separately so a schema failure and a capability failure
// remain distinguishable error classes.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("specio: reading %q: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw spec bytes without touching the filesystem, for callers
// that already have the bytes (e.g. a resumed session's stored snapshot).
func Parse(raw []byte) (Document, error) {
	var fields map[string]any
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("specio: decoding spec document: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}

	s, err := decodeSpec(fields)
	if err != nil {
		return Document{}, fmt.Errorf("specio: %w", err)
	}
	return Document{Raw: raw, Fields: fields, Spec: s}, nil
}
