package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// ValidateArgs checks args against an eino parameter schema: required keys present,
// no unknown keys, values of the declared type, enum membership.
func ValidateArgs(params map[string]*schema.ParameterInfo, args map[string]any) error {
	var problems []string

	for _, name := range sortedKeys(params) {
		p := params[name]
		if p == nil {
			continue
		}
		v, ok := args[name]
		if !ok || v == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required argument %q", name))
			}
			continue
		}
		if err := checkValue(name, p, v); err != nil {
			problems = append(problems, err.Error())
		}
	}

	for _, name := range sortedKeys(args) {
		if _, ok := params[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown argument %q", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func checkValue(path string, p *schema.ParameterInfo, v any) error {
	switch p.Type {
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", path)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return fmt.Errorf("argument %q must be one of %s", path, strings.Join(p.Enum, ", "))
		}
	case schema.Integer:
		f, ok := asNumber(v)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("argument %q must be an integer", path)
		}
	case schema.Number:
		if _, ok := asNumber(v); !ok {
			return fmt.Errorf("argument %q must be a number", path)
		}
	case schema.Boolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", path)
		}
	case schema.Array:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("argument %q must be an array", path)
		}
		if p.ElemInfo != nil {
			for i, item := range items {
				if err := checkValue(fmt.Sprintf("%s[%d]", path, i), p.ElemInfo, item); err != nil {
					return err
				}
			}
		}
	case schema.Object:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("argument %q must be an object", path)
		}
		if len(p.SubParams) > 0 {
			if err := ValidateArgs(p.SubParams, obj); err != nil {
				return fmt.Errorf("argument %q: %w", path, err)
			}
		}
	}
	return nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
