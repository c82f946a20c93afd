// Package config implements the parameter registry described in spec.md
// §4.2: declarative CLI/ENV/default parameters, positional schemas, and
// file-scoped configuration fields with indirection and runtime overrides.
//
// The CLI layer is built on spf13/pflag (long/short names, --no-<name>
// negation come for free) instead of hand-rolled argv scanning; the
// config-file layer parses YAML with gopkg.in/yaml.v2 into a generic tree
// and walks it with case-insensitive dotted paths, the way the teacher's
// loadFilePipeline handles its own pipeline file.
package config

import (
	"fmt"

	"tmcp-go/pkg/errors"
)

// ParamSpec declares one CLI/ENV/default parameter (spec.md §3,
// "Parameter registry entry").
type ParamSpec struct {
	Long          string      // long flag name, e.g. "interval-ms"
	Short         string      // optional one-character short name
	Env           string      // optional environment variable name
	Default       interface{} // used when CLI and ENV are both absent
	TakesValue    bool        // false for boolean flags
	Negatable     bool        // enables --no-<long> for boolean flags
	Required      bool        // a missing required value is a usage error
	RuntimeMutable bool       // permits OverrideValue at runtime
	Description   string
}

// PositionalSlot declares one slot in an ordered positional schema
// (spec.md §3, "Positional schema"). Only the last slot may be variadic.
type PositionalSlot struct {
	Name     string
	Required bool
	Variadic bool
}

// ConfigFieldSpec declares one dotted-path field loaded from a config file
// (spec.md §3, "Configuration field entry").
type ConfigFieldSpec struct {
	Path        string // dotted, case-insensitive, e.g. "gate.blocks"
	Default     interface{}
	Required    bool
	Description string
	Immutable   bool // rejects OverrideValue (spec.md §4.2)
}

// Registry accumulates declarative registrations made during module
// startup, before LoadCLI/LoadConfigFile is called. Registering twice under
// the same long/short name, or a non-terminal variadic positional slot, is
// a programming error and panics immediately (spec.md §4.2: "fail loudly").
type Registry struct {
	ModuleName string

	params      []*ParamSpec
	paramsByLong map[string]*ParamSpec
	paramsByShort map[string]*ParamSpec

	positionals []PositionalSlot

	configFields []*ConfigFieldSpec
}

// NewRegistry creates an empty registry for moduleName (used to build the
// "<moduleName>(<configPath|no-conf>)" diagnostic prefix).
func NewRegistry(moduleName string) *Registry {
	return &Registry{
		ModuleName:    moduleName,
		paramsByLong:  make(map[string]*ParamSpec),
		paramsByShort: make(map[string]*ParamSpec),
	}
}

// RegisterParam declares spec. Duplicate long/short names are programming
// errors and panic.
func (r *Registry) RegisterParam(spec ParamSpec) *ParamSpec {
	if spec.Long == "" {
		panic("config: RegisterParam requires a non-empty Long name")
	}
	if _, dup := r.paramsByLong[spec.Long]; dup {
		panic(fmt.Sprintf("config: duplicate long parameter name %q", spec.Long))
	}
	if spec.Short != "" {
		if _, dup := r.paramsByShort[spec.Short]; dup {
			panic(fmt.Sprintf("config: duplicate short parameter name %q", spec.Short))
		}
	}

	p := spec
	r.params = append(r.params, &p)
	r.paramsByLong[p.Long] = &p
	if p.Short != "" {
		r.paramsByShort[p.Short] = &p
	}
	return &p
}

// RegisterPositionals declares the ordered positional schema. Only the
// final slot may be variadic; any earlier variadic slot is a programming
// error and panics.
func (r *Registry) RegisterPositionals(schema []PositionalSlot) {
	for i, slot := range schema {
		if slot.Variadic && i != len(schema)-1 {
			panic(fmt.Sprintf("config: non-terminal variadic positional slot %q", slot.Name))
		}
	}
	r.positionals = schema
}

// RegisterConfigField declares a dotted-path configuration field.
func (r *Registry) RegisterConfigField(spec ConfigFieldSpec) *ConfigFieldSpec {
	s := spec
	r.configFields = append(r.configFields, &s)
	return &s
}

// requiredValueError builds the spec.md §4.2 usage error for a required
// parameter/field with no resolved value.
func requiredValueError(kind, name string) error {
	return errors.ConfigError("resolve", fmt.Sprintf("required %s %q has no value", kind, name))
}
