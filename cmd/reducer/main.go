// Command reducer runs the declarative reducer primitive (spec.md
// §4.11): a multi-pass expression/aggregation engine that computes
// derived outputs from a record's data according to a list of named
// rules.
package main

import (
	"fmt"
	"os"

	"tmcp-go/internal/config"
	"tmcp-go/internal/expr"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/reducer"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "reducer"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	var cfgPath *config.ParamSpec
	registerExtra := func(r *config.Registry) {
		cfgPath = r.RegisterParam(config.ParamSpec{
			Long: "config", Short: "c", Required: true, TakesValue: true,
			Description: "path to a YAML file with a top-level 'reducer' block (rules, passes, forwardPolicy)",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "reduce",
			Description: "tag appended to meta.pipeline",
		})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "rules", Description: "ordered list of named computation rules"})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "passes", Default: 1.0, Description: "number of sweeps over the rule list per record"})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "forwardPolicy", Default: "all", Description: "'all' or 'known': which working-map keys reach the output record"})
	}

	acc, err := moduleutil.Bootstrap(r, registerExtra)
	if err != nil {
		r.WriteUsage(os.Stderr)
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	configPathVal, _ := acc.Get("param." + cfgPath.Long)
	configPath := config.AsString(configPathVal)

	configTagVal, _ := acc.Get("param.config-tag")
	confAcc, err := r.LoadConfigFile(configPath, config.LoadConfigFileOptions{
		DefaultScope: moduleName, ConfigTag: config.AsString(configTagVal),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	rt, err := moduleutil.NewRuntime(moduleName, configPath, acc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	rulesRaw, _ := confAcc.Get("rules")
	passesVal, _ := confAcc.Get("passes")
	forwardVal, _ := confAcc.Get("forwardPolicy")
	tagVal, _ := acc.Get("param.tag")

	rules, err := parseRules(rulesRaw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	forwardPolicy := reducer.ForwardAll
	if config.AsString(forwardVal) == "known" {
		forwardPolicy = reducer.ForwardKnown
	}

	rd := reducer.New(reducer.Config{
		Tag:           config.AsString(tagVal),
		Rules:         rules,
		Passes:        int(config.AsFloatDefault(passesVal, 1)),
		ForwardPolicy: forwardPolicy,
	}, rt.Logger.Raw())

	outPolicy := transport.ResolvePolicy("stdout", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	out, err := transport.OpenChannel(nil, "stdout", transport.WriteOptions{
		Protocol: rt.OutProtocol, Policy: outPolicy, Verbose: verboseFlag(acc, "output"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer out.Close()

	inPolicy := transport.ResolvePolicy("stdin", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	err = transport.Read(nil, func(rec record.Record) error {
		metrics.RecordProcessed(moduleName, "stdin")
		result, ok := rd.Evaluate(rec)
		if !ok {
			metrics.RecordDropped(moduleName, "missing_required_input")
			return nil
		}
		metrics.RecordEmitted(moduleName, "stdout")
		return out.Emit(result)
	}, transport.ReadOptions{
		Protocol: rt.InProtocol, Policy: inPolicy, Verbose: verboseFlag(acc, "input"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func parseRules(raw interface{}) ([]reducer.Rule, error) {
	items := config.AsSlice(raw)
	out := make([]reducer.Rule, 0, len(items))
	for _, it := range items {
		m := config.AsMap(it)
		rule := reducer.Rule{
			Name:           config.AsString(m["name"]),
			Op:             config.AsString(m["op"]),
			Src:            config.AsString(m["src"]),
			InputFields:    config.AsStringSlice(m["inputFields"]),
			WeightedInputs: config.AsFloatMap(m["weightedInputs"]),
			Temp:           config.AsBool(m["temp"]),
			Retain:         config.AsBool(m["retain"]),
			Missing:        reducer.MissingPolicy(config.AsString(m["missing"])),
		}
		for _, lv := range config.AsSlice(m["inputs"]) {
			lm := config.AsMap(lv)
			rule.Locals = append(rule.Locals, reducer.LocalBinding{
				Alias: config.AsString(lm["alias"]),
				Field: config.AsString(lm["field"]),
			})
		}
		if exprSrc := config.AsString(m["expr"]); exprSrc != "" {
			prog, err := expr.Parse(exprSrc)
			if err != nil {
				return nil, fmt.Errorf("reducer: rule %q: %w", rule.Name, err)
			}
			rule.Expr = prog
		}
		out = append(out, rule)
	}
	return out, nil
}

func verboseFlag(acc *config.Accessor, direction string) bool {
	v, _ := acc.Get("param.verbose")
	d, _ := acc.Get("param.verbose-" + direction)
	return config.AsBool(v) || config.AsBool(d)
}
