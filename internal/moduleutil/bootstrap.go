// Package moduleutil registers the CLI surface every module shares and
// supervises a module's process lifecycle (signal handling, termination
// modes). It is the thin layer cmd/<module>/main.go calls into before
// wiring its own positionals and config fields.
package moduleutil

import (
	"strconv"
	"strings"

	"tmcp-go/internal/config"
)

// RegisterUniversal declares the parameters spec.md §6 lists as present on
// every module: tagging, verbosity, protocol selection, per-channel
// policy overrides, and termination mode. Call this before a module
// registers its own parameters and positionals.
func RegisterUniversal(r *config.Registry) {
	r.RegisterParam(config.ParamSpec{
		Long: "do-tag", Env: "TMCP_DO_TAG", Default: true, Negatable: true,
		Description: "append this module's tag to meta.pipeline",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "verbose", Env: "TMCP_VERBOSE", Default: false, Negatable: true,
		Description: "echo decoded input and encoded output to stderr",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "verbose-input", Default: false, Negatable: true,
		Description: "echo decoded input records to stderr",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "verbose-output", Default: false, Negatable: true,
		Description: "echo encoded output records to stderr",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "verbose-log-level", TakesValue: true, Default: "warn",
		Description: "none|error|warn|info",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "in-protocol", TakesValue: true, Default: "ndjson",
		Description: "ndjson|msgpack",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "out-protocol", TakesValue: true, Default: "ndjson",
		Description: "ndjson|msgpack",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "exit-on-close", TakesValue: true,
		Description: "channelId=bool,... overrides for exitOnClose",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "retry", TakesValue: true,
		Description: "channelId=bool,... overrides for retry",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "exit-instead-of-kill", Default: false, Negatable: true,
		Description: "terminate via clean exit instead of re-sending the host signal",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "config-tag", TakesValue: true,
		Description: "selects a scope when loading a config file",
	})
	r.RegisterParam(config.ParamSpec{
		Long: "metrics-addr", TakesValue: true,
		Description: "bind address for the Prometheus /metrics and /health endpoints; unset disables the server",
	})
}

// ParseChannelBoolMap parses the "channelId=bool,channelId=bool" syntax
// used by --exit-on-close and --retry.
func ParseChannelBoolMap(s string) map[string]bool {
	out := make(map[string]bool)
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val, err := strconv.ParseBool(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		out[key] = val
	}
	return out
}
