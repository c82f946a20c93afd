package config

// This file collects small, duck-typed accessors over the generic
// map[string]interface{}/[]interface{} trees LoadConfigFile hands back
// (after normalizeYAML unifies the YAML/JSON shape). Every cmd/<module>
// main uses these to build its own typed primitive Config without
// duplicating type-switch boilerplate across eight otherwise-identical
// call sites.

import (
	"strconv"
	"strings"
)

// AsMap asserts v is a map[string]interface{}, returning an empty map
// (never nil) when it is not.
func AsMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// AsSlice asserts v is a []interface{}, returning nil when it is not.
func AsSlice(v interface{}) []interface{} {
	if s, ok := v.([]interface{}); ok {
		return s
	}
	return nil
}

// AsString asserts v is a string, returning "" when it is not.
func AsString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// AsFloat coerces v to float64 across the numeric types a YAML/JSON
// decode can produce, and parses a decimal string (the form a
// value-taking CLI/ENV parameter resolves to).
func AsFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// AsFloatDefault is AsFloat with a fallback for a missing/non-numeric value.
func AsFloatDefault(v interface{}, def float64) float64 {
	if f, ok := AsFloat(v); ok {
		return f
	}
	return def
}

// AsBool asserts v is a bool, returning false when it is not.
func AsBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// AsStringSlice converts a []interface{} (from a config file) or a
// []string (from a bound positional slot) into []string, skipping any
// non-string elements of a []interface{}.
func AsStringSlice(v interface{}) []string {
	if ss, ok := v.([]string); ok {
		return ss
	}
	items := AsSlice(v)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// AsFloatMap converts a map[string]interface{} of numeric values into
// map[string]float64, skipping non-numeric entries.
func AsFloatMap(v interface{}) map[string]float64 {
	m := AsMap(v)
	out := make(map[string]float64, len(m))
	for k, val := range m {
		if f, ok := AsFloat(val); ok {
			out[k] = f
		}
	}
	return out
}

// AsBoolMap converts a map[string]interface{} of bool values into
// map[string]bool, skipping non-bool entries.
func AsBoolMap(v interface{}) map[string]bool {
	m := AsMap(v)
	out := make(map[string]bool, len(m))
	for k, val := range m {
		if b, ok := val.(bool); ok {
			out[k] = b
		}
	}
	return out
}

// AsStringMap converts a map[string]interface{} of string values into
// map[string]string, skipping non-string entries.
func AsStringMap(v interface{}) map[string]string {
	m := AsMap(v)
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
