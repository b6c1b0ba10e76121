package specio

import _ "embed"

// Schema is the JSON Schema pre-validated against every spec document before
// the capability gate's structural checks run (spec §4.1: "JSON Schema
// validation of the incoming spec is a library call"). It only covers
// shape and enum membership shallow enough for a library validator to own;
// cross-field and pattern-specific structural rules belong to spec.Gate.
//
//go:embed schema.json
var Schema []byte
