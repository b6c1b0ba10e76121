// Package exprlang implements the sandboxed template renderer and restricted
// boolean-expression evaluator used for prompt rendering and conditional
// routing.
package exprlang

import "strings"

// Scope is the read-only mapping of accumulated outputs and inputs available
// to template and expression evaluation. It is a plain value, not a live
// object graph: the renderer and evaluator only ever see what has been
// copied into it. Keys are fixed by the calling pattern executor: inputs,
// steps, tasks, branches, nodes, last_response, iteration, evaluation,
// $TRACE, timestamp, and user input values.
type Scope map[string]any

// Get resolves a dotted path (e.g. "steps.0.response" or "inputs.topic")
// against the scope. It never uses reflection over arbitrary Go values:
// only map[string]any and []any are traversed, so values placed in Scope by
// the engine cannot leak internal struct fields regardless of what the
// renderer or evaluator could otherwise reach.
func (s Scope) Get(path string) (any, bool) {
	var cur any = map[string]any(s)
	for _, part := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Scope:
			v, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := parseIndex(part)
			if !ok || idx < 0 || idx >= len(t) {
				return nil, false
			}
			cur = t[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func parseIndex(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// WithValue returns a shallow copy of s with key set to value. The original
// scope is left untouched so callers building per-branch/per-step scopes
// never mutate a shared ancestor.
func (s Scope) WithValue(key string, value any) Scope {
	out := make(Scope, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[key] = value
	return out
}
