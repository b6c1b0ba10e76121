package specio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentflowhq/engine/spec"
)

// CoerceInputs applies CLI-style "key=value" overrides to declared against
// each input's declared type (spec §6 "Inputs"), filling in any declared
// default for a key the caller never supplied, and reports every required
// input still missing after defaults are applied.
func CoerceInputs(overrides []string, declared map[string]spec.InputSpec) (map[string]any, error) {
	values := make(map[string]any, len(declared))

	for _, kv := range overrides {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("specio: input override %q is not in key=value form", kv)
		}
		decl, ok := declared[key]
		if !ok {
			return nil, fmt.Errorf("specio: input %q is not declared by this spec", key)
		}
		v, err := coerce(decl.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("specio: input %q: %w", key, err)
		}
		if len(decl.Enum) > 0 && !enumContains(decl.Enum, v) {
			return nil, fmt.Errorf("specio: input %q: %v is not one of %v", key, v, decl.Enum)
		}
		values[key] = v
	}

	var missing []string
	for name, decl := range declared {
		if _, ok := values[name]; ok {
			continue
		}
		if decl.Default != nil {
			values[name] = decl.Default
			continue
		}
		if decl.Required {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("specio: missing required input(s): %s", strings.Join(missing, ", "))
	}
	return values, nil
}

func coerce(t spec.InputType, raw string) (any, error) {
	switch t {
	case spec.InputTypeInteger:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", raw)
		}
		return n, nil
	case spec.InputTypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return n, nil
	case spec.InputTypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %q", raw)
		}
		return b, nil
	default: // InputTypeString and unset both mean string
		return raw, nil
	}
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
