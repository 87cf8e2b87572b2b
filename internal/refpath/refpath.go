// Package refpath resolves dotted reference paths like "invoices.total"
// against JSON-shaped data bags and substitutes {{path}} placeholders in
// templates. It is the one place the array coercion rules live: on an
// array, "length" yields the element count and any other property access
// projects into element 0 (object arrays only).
package refpath

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Resolve walks path segment by segment through bag. The second return
// value reports whether every segment resolved; callers that substitute
// leave the original placeholder untouched when it is false.
func Resolve(path string, bag map[string]any) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}
	var cur any = bag
	for _, seg := range segments {
		arr, isArr := asArray(cur)
		if isArr {
			if seg == "length" {
				cur = len(arr)
				continue
			}
			if len(arr) == 0 {
				return nil, false
			}
			first, ok := arr[0].(map[string]any)
			if !ok {
				return nil, false
			}
			cur = first
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Substitute replaces every {{path}} occurrence in template with the
// resolved value's string form. Arrays and objects render as JSON, scalars
// as plain text. Unresolvable paths stay as their literal placeholder.
func Substitute(template string, bag map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(placeholderRe.FindStringSubmatch(match)[1])
		v, ok := Resolve(path, bag)
		if !ok {
			return match
		}
		return Render(v)
	})
}

// SubstituteValue applies substitution recursively through a JSON-shaped
// value. A string consisting of exactly one placeholder is replaced by the
// resolved value itself, preserving its type; any other string goes through
// Substitute. Maps and slices are rebuilt, other values pass through.
func SubstituteValue(v any, bag map[string]any) any {
	switch t := v.(type) {
	case string:
		if path, ok := solePlaceholder(t); ok {
			if resolved, found := Resolve(path, bag); found {
				return resolved
			}
			return t
		}
		return Substitute(t, bag)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = SubstituteValue(val, bag)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = SubstituteValue(val, bag)
		}
		return out
	default:
		return v
	}
}

// Render converts a resolved value to its text form.
func Render(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case map[string]any, []any, []map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

func solePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	match := placeholderRe.FindStringSubmatch(trimmed)
	if match == nil || match[0] != trimmed {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}
