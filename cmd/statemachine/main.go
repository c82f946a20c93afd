// Command statemachine runs the state-machine annotator primitive
// (spec.md §4.10): one or more independent, configuration-defined FSMs
// evaluated per record, each annotating output data with its current
// state.
package main

import (
	"fmt"
	"os"

	"tmcp-go/internal/config"
	"tmcp-go/internal/expr"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/primitives/statemachine"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "statemachine"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	var cfgPath *config.ParamSpec
	registerExtra := func(r *config.Registry) {
		cfgPath = r.RegisterParam(config.ParamSpec{
			Long: "config", Short: "c", Required: true, TakesValue: true,
			Description: "path to a YAML file with a top-level 'statemachine' block (states, instances, constants, passes)",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "fsm",
			Description: "tag appended to meta.pipeline",
		})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "states", Description: "named states and their ordered transitions"})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "instances", Description: "named FSM instances"})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "constants", Description: "named constants visible to transition expressions"})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "passes", Default: 1.0, Description: "max chained transitions per instance per record"})
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

	statesRaw, _ := confAcc.Get("states")
	instancesRaw, _ := confAcc.Get("instances")
	constantsRaw, _ := confAcc.Get("constants")
	passesVal, _ := confAcc.Get("passes")
	tagVal, _ := acc.Get("param.tag")

	states, err := parseStates(statesRaw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	instances, err := parseInstances(instancesRaw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	m := statemachine.New(statemachine.Config{
		Tag:       config.AsString(tagVal),
		States:    states,
		Instances: instances,
		Constants: config.AsMap(constantsRaw),
		Passes:    int(config.AsFloatDefault(passesVal, 1)),
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
		annotated := m.Evaluate(rec)
		metrics.RecordEmitted(moduleName, "stdout")
		return out.Emit(annotated)
	}, transport.ReadOptions{
		Protocol: rt.InProtocol, Policy: inPolicy, Verbose: verboseFlag(acc, "input"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func parseStates(raw interface{}) (map[string]statemachine.StateDef, error) {
	src := config.AsMap(raw)
	out := make(map[string]statemachine.StateDef, len(src))
	for name, v := range src {
		stateMap := config.AsMap(v)
		trRaw := config.AsSlice(stateMap["transitions"])
		transitions := make([]statemachine.Transition, 0, len(trRaw))
		for _, tv := range trRaw {
			tm := config.AsMap(tv)
			whenSrc := config.AsString(tm["when"])
			prog, err := expr.Parse(whenSrc)
			if err != nil {
				return nil, fmt.Errorf("statemachine: state %q: %w", name, err)
			}
			transitions = append(transitions, statemachine.Transition{
				When: prog,
				Goto: config.AsString(tm["goto"]),
			})
		}
		out[name] = statemachine.StateDef{Transitions: transitions}
	}
	return out, nil
}

func parseInstances(raw interface{}) (map[string]statemachine.InstanceDef, error) {
	src := config.AsMap(raw)
	out := make(map[string]statemachine.InstanceDef, len(src))
	for name, v := range src {
		im := config.AsMap(v)
		out[name] = statemachine.InstanceDef{
			InitialState: config.AsString(im["initialState"]),
			Inputs:       config.AsStringMap(im["inputs"]),
			StateField:   config.AsString(im["stateField"]),
		}
	}
	return out, nil
}

func verboseFlag(acc *config.Accessor, direction string) bool {
	v, _ := acc.Get("param.verbose")
	d, _ := acc.Get("param.verbose-" + direction)
	return config.AsBool(v) || config.AsBool(d)
}
