package tools

import "fmt"

// validateParams checks params against the definition's contract. It
// returns a human-readable description of the first violation, or "" when
// the parameters pass. Parameters not named in the contract are tolerated.
func validateParams(contract Parameters, params map[string]any) string {
	for _, name := range contract.Required {
		v, ok := params[name]
		if !ok || v == nil {
			return fmt.Sprintf("missing required parameter %q", name)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return fmt.Sprintf("missing required parameter %q", name)
		}
	}
	for name, spec := range contract.Properties {
		v, ok := params[name]
		if !ok || v == nil {
			continue
		}
		if spec.Type != "" && !typeMatches(spec.Type, v) {
			return fmt.Sprintf("parameter %q must be of type %s", name, spec.Type)
		}
		if len(spec.Enum) > 0 {
			s, isStr := v.(string)
			if !isStr {
				return fmt.Sprintf("parameter %q must be one of %v", name, spec.Enum)
			}
			found := false
			for _, allowed := range spec.Enum {
				if s == allowed {
					found = true
					break
				}
			}
			if !found {
				return fmt.Sprintf("parameter %q must be one of %v", name, spec.Enum)
			}
		}
	}
	return ""
}

func typeMatches(want string, v any) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer":
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
