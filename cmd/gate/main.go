// Command gate runs the activation gate primitive (spec.md §4.4): it
// blocks every record on stdin until one satisfies every configured
// block, then latches open and passes everything from then on.
package main

import (
	"fmt"
	"os"

	"tmcp-go/internal/config"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/primitives/gate"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "gate"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	var cfgPath *config.ParamSpec
	registerExtra := func(r *config.Registry) {
		cfgPath = r.RegisterParam(config.ParamSpec{
			Long: "config", Short: "c", TakesValue: true,
			Description: "path to a YAML file with a top-level 'gate' block list",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "gat",
			Description: "tag appended to meta.pipeline once the gate opens",
		})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "blocks", Description: "ordered list of gate blocks"})
	}

	acc, err := moduleutil.Bootstrap(r, registerExtra)
	if err != nil {
		r.WriteUsage(os.Stderr)
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	configPathVal, _ := acc.Get("param." + cfgPath.Long)
	configPath := config.AsString(configPathVal)

	var blocksRaw interface{}
	if configPath != "" {
		configTagVal, _ := acc.Get("param.config-tag")
		confAcc, err := r.LoadConfigFile(configPath, config.LoadConfigFileOptions{
			DefaultScope: moduleName, ConfigTag: config.AsString(configTagVal),
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		blocksRaw, _ = confAcc.Get("blocks")
	}

	rt, err := moduleutil.NewRuntime(moduleName, configPath, acc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	tagVal, _ := acc.Get("param.tag")
	g := gate.New(gate.Config{Blocks: parseBlocks(blocksRaw), Tag: config.AsString(tagVal)}, rt.Logger.Raw())
	defer g.Close()

	outPolicy := transport.ResolvePolicy("stdout", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	out, err := transport.OpenChannel(nil, "stdout", transport.WriteOptions{
		Protocol: rt.OutProtocol, Policy: outPolicy, Verbose: verboseOutput(acc), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer out.Close()

	inPolicy := transport.ResolvePolicy("stdin", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	err = transport.Read(nil, func(rec record.Record) error {
		metrics.RecordProcessed(moduleName, "stdin")
		tagged, ok := g.Evaluate(rec)
		if !ok {
			metrics.RecordDropped(moduleName, "gate_closed")
			return nil
		}
		metrics.RecordEmitted(moduleName, "stdout")
		return out.Emit(tagged)
	}, transport.ReadOptions{
		Protocol: rt.InProtocol, Policy: inPolicy, Verbose: verboseInput(acc), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func verboseInput(acc *config.Accessor) bool {
	v, _ := acc.Get("param.verbose")
	vi, _ := acc.Get("param.verbose-input")
	return config.AsBool(v) || config.AsBool(vi)
}

func verboseOutput(acc *config.Accessor) bool {
	v, _ := acc.Get("param.verbose")
	vo, _ := acc.Get("param.verbose-output")
	return config.AsBool(v) || config.AsBool(vo)
}

func parseBlocks(raw interface{}) []gate.Block {
	items := config.AsSlice(raw)
	blocks := make([]gate.Block, 0, len(items))
	for _, it := range items {
		m := config.AsMap(it)
		b := gate.Block{
			MustHave:  config.AsStringSlice(m["mustHave"]),
			MinValues: config.AsFloatMap(m["minValues"]),
			BoolEqual: config.AsBoolMap(m["boolEqual"]),
			StrEqual:  config.AsStringMap(m["strEqual"]),
		}
		if v, ok := config.AsFloat(m["maxAgeMs"]); ok {
			b.MaxAgeMs = &v
		}
		if v, ok := config.AsFloat(m["timeoutMs"]); ok {
			b.TimeoutMs = &v
		}
		blocks = append(blocks, b)
	}
	return blocks
}
