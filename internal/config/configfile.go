package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	apperrors "tmcp-go/pkg/errors"
)

// LoadConfigFileOptions controls LoadConfigFile.
type LoadConfigFileOptions struct {
	// DefaultScope selects a subtree of the document when no global
	// --config-tag parameter is given.
	DefaultScope string
	// ConfigTag, when non-empty, overrides DefaultScope: it is the value
	// of the global --config-tag parameter.
	ConfigTag string
}

// LoadConfigFile reads a JSON-shaped YAML file at refOrPath, selects a
// subtree by ConfigTag or DefaultScope, applies registered defaults,
// enforces required fields, eagerly resolves {"$env": "NAME"} indirection,
// and returns an Accessor with the same override surface as LoadCLI
// (spec.md §4.2).
func (r *Registry) LoadConfigFile(refOrPath string, opts LoadConfigFileOptions) (*Accessor, error) {
	raw, err := os.ReadFile(refOrPath)
	if err != nil {
		return nil, apperrors.ConfigError("load_config_file", err.Error())
	}

	var rawDoc map[string]interface{}
	if err := yaml.Unmarshal(raw, &rawDoc); err != nil {
		return nil, apperrors.ConfigError("parse_config_file", err.Error())
	}
	doc, _ := normalizeYAML(rawDoc).(map[string]interface{})

	scope := doc
	tag := opts.ConfigTag
	if tag == "" {
		tag = opts.DefaultScope
	}
	if tag != "" {
		if sub, ok := lookupCI(doc, tag); ok {
			if subMap, ok := sub.(map[string]interface{}); ok {
				scope = subMap
			} else {
				return nil, apperrors.ConfigError("select_scope",
					fmt.Sprintf("config-tag %q does not select an object", tag))
			}
		}
	}

	resolved := resolveEnvIndirection(scope)

	acc := newAccessor()
	for _, field := range r.configFields {
		value, ok := lookupDottedCI(resolved, field.Path)
		if !ok {
			if field.Default != nil {
				value, ok = field.Default, true
			}
		}
		if !ok && field.Required {
			return nil, requiredValueError("config field", field.Path)
		}
		acc.set(field.Path, value, field, field.Immutable)
	}

	return acc, nil
}

// normalizeYAML recursively converts the map[interface{}]interface{} and
// nested-map shapes gopkg.in/yaml.v2 produces for untyped documents into
// map[string]interface{}, so the rest of this package (and every module
// that walks a config subtree into its own typed Config) can rely on the
// same JSON-like shape regardless of whether the document came from JSON
// or YAML.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// resolveEnvIndirection walks v recursively, replacing every
// {"$env": "NAME"} object with the value of environment variable NAME
// (empty string if unset). Resolution happens eagerly, once, at load time.
func resolveEnvIndirection(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 1 {
			if name, ok := t["$env"].(string); ok {
				return os.Getenv(name)
			}
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = resolveEnvIndirection(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = resolveEnvIndirection(val)
		}
		return out
	default:
		return v
	}
}

// lookupCI looks up key in m case-insensitively.
func lookupCI(m map[string]interface{}, key string) (interface{}, bool) {
	key = strings.ToLower(key)
	for k, v := range m {
		if strings.ToLower(k) == key {
			return v, true
		}
	}
	return nil, false
}

// lookupDottedCI resolves a dotted path ("gate.blocks.0.mustHave") against
// a tree of map[string]interface{} / []interface{} case-insensitively on
// map keys.
func lookupDottedCI(root interface{}, path string) (interface{}, bool) {
	cur := root
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := lookupCI(node, part)
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
