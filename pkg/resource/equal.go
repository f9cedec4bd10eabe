package resource

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Equal compares two normalized values. Absent and empty values are equal,
// numbers and numeric strings compare by value, "true"/"false" strings
// compare with booleans, and lists and maps are compared element-wise.
func Equal(a, b any, caseInsensitive bool) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ba, ok := toBool(a); ok {
		if bb, ok := toBool(b); ok {
			return ba == bb
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		if caseInsensitive {
			return strings.EqualFold(av, bv)
		}
		return av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i], caseInsensitive) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range av {
			if !Equal(v, bv[k], caseInsensitive) {
				return false
			}
		}
		for k, v := range bv {
			if _, seen := av[k]; !seen && !isEmpty(v) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		if t == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			// "NaN" and "Inf" stay strings and compare as text.
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(t) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// normalizeValue converts provider values to the canonical shapes Equal
// understands: float64 numbers, []any lists and map[string]any maps.
// Nil entries inside maps are dropped.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, normalizeValue(e))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if n := normalizeValue(e); n != nil {
				out[k] = n
			}
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return f
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, normalizeValue(rv.Index(i).Interface()))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if n := normalizeValue(iter.Value().Interface()); n != nil {
				out[fmt.Sprint(iter.Key().Interface())] = n
			}
		}
		return out
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Int8, reflect.Int16:
		return float64(rv.Int())
	case reflect.String:
		return rv.String()
	}
	return fmt.Sprint(v)
}

// canonical renders a normalized value deterministically for sorting.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// sortList orders a list by canonical form so it compares as a set.
func sortList(list []any) []any {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b any) int {
		return strings.Compare(canonical(a), canonical(b))
	})
	return out
}
