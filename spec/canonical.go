package spec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Canonicalize renders raw into the canonical byte form used for hashing:
// stable key order, UTF-8, LF line endings, no trailing whitespace.
// raw is expected to be the decoded top-level document (map[string]any),
// typically produced by the caller's YAML/JSON loader.
func Canonicalize(raw map[string]any) []byte {
	var buf strings.Builder
	writeCanonicalValue(&buf, raw)
	out := buf.String()
	out = stripTrailingWhitespace(out)
	return []byte(out)
}

// Hash returns the sha256 hex digest of the canonicalized document. A
// session's recorded spec_hash is this value computed over its spec snapshot.
func Hash(raw map[string]any) string {
	sum := sha256.Sum256(Canonicalize(raw))
	return hex.EncodeToString(sum[:])
}

func writeCanonicalValue(buf *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalValue(buf, k)
			buf.WriteByte(':')
			writeCanonicalValue(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalValue(buf, e)
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			// Unreachable for values decoded from JSON/YAML; fall back to a
			// deterministic placeholder rather than panicking mid-hash.
			buf.WriteString("null")
			return
		}
		buf.Write(b)
	}
}

func stripTrailingWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}
