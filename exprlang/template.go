package exprlang

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

// SecurityError indicates a template or expression sandbox violation: an
// unknown filter, disallowed syntax, or an attempt to reach beyond the
// supplied Scope. It is always fatal and never retryable.
type SecurityError struct {
	Template string
	Reason   string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("exprlang: template security violation (%s): %q", e.Reason, e.Template)
}

// actionPattern matches the full contents of one {{ ... }} block. Anything
// that does not match this grammar (control-flow keywords, attribute/method
// calls, arbitrary Go template syntax) is rejected before it ever reaches
// text/template's parser, so the sandbox does not depend on what
// text/template itself is capable of reaching.
var actionPattern = regexp.MustCompile(`^([A-Za-z_$][\w.]*)((?:\s*\|\s*[A-Za-z]+\s*(?:\([^()]*\))?)*)\s*$`)

var filterCallPattern = regexp.MustCompile(`\|\s*([A-Za-z]+)\s*(?:\(([^()]*)\))?`)

var allowedFilters = map[string]bool{
	"truncate": true,
	"tojson":   true,
	"title":    true,
	"length":   true,
	"default":  true,
	"join":     true,
}

// blockPattern finds every {{ ... }} block in the raw template string.
var blockPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Template is a compiled, sandboxed prompt/artifact template.
type Template struct {
	raw  string
	tmpl *template.Template
}

// Compile validates raw against the action grammar and filter whitelist and
// compiles it for repeated rendering. Any violation returns a *SecurityError.
func Compile(raw string) (*Template, error) {
	rewritten, err := rewrite(raw)
	if err != nil {
		return nil, err
	}
	t, err := template.New("tmpl").Funcs(funcMap).Option("missingkey=error").Parse(rewritten)
	if err != nil {
		return nil, &SecurityError{Template: raw, Reason: err.Error()}
	}
	return &Template{raw: raw, tmpl: t}, nil
}

// Render renders a compiled template against scope.
func (t *Template) Render(scope Scope) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, scope); err != nil {
		return "", &SecurityError{Template: t.raw, Reason: err.Error()}
	}
	return buf.String(), nil
}

// Render compiles and renders raw in one call; callers that render the same
// template repeatedly (e.g. a Chain step executed across resumes) should
// call Compile once and reuse the *Template instead.
func Render(raw string, scope Scope) (string, error) {
	t, err := Compile(raw)
	if err != nil {
		return "", err
	}
	return t.Render(scope)
}

// rewrite translates the restricted `{{ path | filter(args) }}` grammar into
// a valid text/template action `{{ get . "path" | filter arg1 arg2 }}`, so
// the actual substitution is performed by text/template while the sandbox
// boundary is enforced by our own grammar, not by text/template's.
func rewrite(raw string) (string, error) {
	var rewriteErr error
	out := blockPattern.ReplaceAllStringFunc(raw, func(block string) string {
		if rewriteErr != nil {
			return block
		}
		inner := strings.TrimSpace(block[2 : len(block)-2])
		m := actionPattern.FindStringSubmatch(inner)
		if m == nil {
			rewriteErr = &SecurityError{Template: raw, Reason: "disallowed template syntax"}
			return block
		}
		path, filters := m[1], m[2]
		rewritten := fmt.Sprintf("get . %s", strconv.Quote(path))
		for _, fm := range filterCallPattern.FindAllStringSubmatch(filters, -1) {
			name, args := fm[1], fm[2]
			if !allowedFilters[name] {
				rewriteErr = &SecurityError{Template: raw, Reason: "unknown filter " + name}
				return block
			}
			if args == "" {
				rewritten = fmt.Sprintf("%s | %s", rewritten, name)
				continue
			}
			rewritten = fmt.Sprintf("%s | %s %s", rewritten, name, args)
		}
		return "{{" + rewritten + "}}"
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}
	return out, nil
}

var funcMap = template.FuncMap{
	"get": func(s Scope, path string) (any, error) {
		v, ok := s.Get(path)
		if !ok {
			return "", nil
		}
		return v, nil
	},
	"truncate": func(n any, v any) (string, error) {
		limit, err := toInt(n)
		if err != nil {
			return "", err
		}
		s := toString(v)
		r := []rune(s)
		if len(r) <= limit {
			return s, nil
		}
		return string(r[:limit]), nil
	},
	"tojson": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"title": func(v any) (string, error) {
		s := toString(v)
		words := strings.Fields(s)
		for i, w := range words {
			if w == "" {
				continue
			}
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " "), nil
	},
	"length": func(v any) (int, error) {
		switch t := v.(type) {
		case string:
			return len([]rune(t)), nil
		case []any:
			return len(t), nil
		case map[string]any:
			return len(t), nil
		case nil:
			return 0, nil
		default:
			return 0, errors.New("length: unsupported value type")
		}
	},
	"default": func(d any, v any) any {
		if v == nil || v == "" {
			return d
		}
		return v
	},
	"join": func(sep any, v any) (string, error) {
		list, ok := v.([]any)
		if !ok {
			return toString(v), nil
		}
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = toString(e)
		}
		return strings.Join(parts, toString(sep)), nil
	},
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("expected integer argument, got %T", v)
	}
}
