// Command merge runs the time-aligned multi-stream join primitive
// (spec.md §4.8): stdin is the primary stream, and each positional
// argument is a side stream read concurrently in the background and
// joined onto the primary record nearest (or interpolated) in time.
package main

import (
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"tmcp-go/internal/config"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/primitives/merge"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "merge"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	var cfgPath *config.ParamSpec
	registerExtra := func(r *config.Registry) {
		cfgPath = r.RegisterParam(config.ParamSpec{
			Long: "config", Short: "c", TakesValue: true,
			Description: "path to a YAML file with a top-level 'merge' block listing per-side settings",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "merg",
			Description: "tag appended to meta.pipeline",
		})
		r.RegisterConfigField(config.ConfigFieldSpec{Path: "sides", Description: "ordered list of side configurations, matched by position to the side targets"})
		r.RegisterPositionals([]config.PositionalSlot{
			{Name: "side", Required: false, Variadic: true},
		})
	}

	acc, err := moduleutil.Bootstrap(r, registerExtra)
	if err != nil {
		r.WriteUsage(os.Stderr)
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	configPathVal, _ := acc.Get("param." + cfgPath.Long)
	configPath := config.AsString(configPathVal)

	var sidesRaw interface{}
	if configPath != "" {
		configTagVal, _ := acc.Get("param.config-tag")
		confAcc, err := r.LoadConfigFile(configPath, config.LoadConfigFileOptions{
			DefaultScope: moduleName, ConfigTag: config.AsString(configTagVal),
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		sidesRaw, _ = confAcc.Get("sides")
	}

	rt, err := moduleutil.NewRuntime(moduleName, configPath, acc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sideVal, _ := acc.Get("positionals.side")
	sidePaths := config.AsStringSlice(sideVal)

	sideConfigs := parseSides(sidesRaw, len(sidePaths))
	tagVal, _ := acc.Get("param.tag")

	m := merge.New(merge.Config{Tag: config.AsString(tagVal), Sides: sideConfigs}, rt.Logger.Raw())

	outPolicy := transport.ResolvePolicy("stdout", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	out, err := transport.OpenChannel(nil, "stdout", transport.WriteOptions{
		Protocol: rt.OutProtocol, Policy: outPolicy, Verbose: verboseFlag(acc, "output"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer out.Close()

	var g errgroup.Group
	for i, path := range sidePaths {
		i, path := i, path
		g.Go(func() error {
			retrySide := true
			sidePolicy := transport.ResolvePolicy(sideChannelID(i), transport.Option{Retry: &retrySide}, rt.GlobalExitOnClose, rt.GlobalRetry)
			err := transport.Read(path, func(rec record.Record) error {
				m.IngestSide(i, rec)
				return nil
			}, transport.ReadOptions{
				Protocol: rt.InProtocol, Policy: sidePolicy, Verbose: verboseFlag(acc, "input"), Logger: rt.Logger, Stats: nil, Term: rt.Supervisor,
			})
			if err != nil {
				rt.Logger.Warn("side stream ended", map[string]interface{}{"side": i, "error": err.Error()})
			}
			return nil
		})
	}

	inPolicy := transport.ResolvePolicy("stdin", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	err = transport.Read(nil, func(rec record.Record) error {
		metrics.RecordProcessed(moduleName, "stdin")
		merged := m.Forward(rec)
		metrics.RecordEmitted(moduleName, "stdout")
		return out.Emit(merged)
	}, transport.ReadOptions{
		Protocol: rt.InProtocol, Policy: inPolicy, Verbose: verboseFlag(acc, "input"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	g.Wait()
	return 0
}

func sideChannelID(i int) string {
	return fmt.Sprintf("side:%d", i)
}

func parseSides(raw interface{}, n int) []merge.SideConfig {
	items := config.AsSlice(raw)
	out := make([]merge.SideConfig, n)
	for i := 0; i < n; i++ {
		if i >= len(items) {
			continue
		}
		m := config.AsMap(items[i])
		out[i] = merge.SideConfig{
			AllowUnboundedDelay: config.AsBool(m["allowUnboundedDelay"]),
			MaxBufferMs:         config.AsFloatDefault(m["maxBufferMs"], 0),
			MatchToleranceMs:    config.AsFloatDefault(m["matchToleranceMs"], 0),
			Postfix:             config.AsString(m["postfix"]),
		}
	}
	return out
}

func verboseFlag(acc *config.Accessor, direction string) bool {
	v, _ := acc.Get("param.verbose")
	d, _ := acc.Get("param.verbose-" + direction)
	return config.AsBool(v) || config.AsBool(d)
}
