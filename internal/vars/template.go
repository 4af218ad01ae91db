package vars

import (
	"fmt"
	"regexp"
	"strings"
)

var exprRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Render substitutes {{ name }} references in v. Strings inside maps and
// slices are rendered recursively. A string that is exactly one reference
// yields the referenced value itself, keeping its type. Unknown names render
// as the empty string.
func Render(v any, vars map[string]any) any {
	switch val := v.(type) {
	case string:
		return renderString(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Render(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Render(item, vars)
		}
		return out
	default:
		return v
	}
}

// RenderParams renders every value of a task parameter map.
func RenderParams(params map[string]any, vars map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return Render(params, vars).(map[string]any)
}

func renderString(s string, vars map[string]any) any {
	if m := exprRe.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		val, ok := Lookup(s[m[2]:m[3]], vars)
		if !ok || val == nil {
			return ""
		}
		return val
	}
	return exprRe.ReplaceAllStringFunc(s, func(ref string) string {
		name := exprRe.FindStringSubmatch(ref)[1]
		val, ok := Lookup(name, vars)
		if !ok || val == nil {
			return ""
		}
		return fmt.Sprint(val)
	})
}

// Lookup resolves a dotted path such as "result.stdout" against vars.
func Lookup(path string, vars map[string]any) (any, bool) {
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[fmt.Sprint(k)] = item
		}
		return out, true
	}
	return nil, false
}
