// Command split runs the split/tee primitive (spec.md §4.7): copy every
// record to stdout and to N side targets given as positional arguments,
// with side-channel failures fully isolated from the primary chain.
package main

import (
	"fmt"
	"os"

	"tmcp-go/internal/config"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/primitives/split"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "split"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	registerExtra := func(r *config.Registry) {
		r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "split",
			Description: "tag appended to meta.pipeline",
		})
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

	rt, err := moduleutil.NewRuntime(moduleName, "", acc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sideVal, _ := acc.Get("positionals.side")
	sidePaths := config.AsStringSlice(sideVal)

	tagVal, _ := acc.Get("param.tag")

	outPolicy := transport.ResolvePolicy("stdout", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	primary, err := transport.OpenChannel(nil, "stdout", transport.WriteOptions{
		Protocol: rt.OutProtocol, Policy: outPolicy, Verbose: verboseFlag(acc, "output"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer primary.Close()

	sp, err := split.New(split.Config{
		Tag:        config.AsString(tagVal),
		ModuleName: moduleName,
		SidePaths:  sidePaths,
	}, rt.Logger.Raw(), primary, rt.OutProtocol)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sp.Close()

	inPolicy := transport.ResolvePolicy("stdin", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	err = transport.Read(nil, func(rec record.Record) error {
		metrics.RecordProcessed(moduleName, "stdin")
		if err := sp.Forward(rec); err != nil {
			return err
		}
		metrics.RecordEmitted(moduleName, "stdout")
		return nil
	}, transport.ReadOptions{
		Protocol: rt.InProtocol, Policy: inPolicy, Verbose: verboseFlag(acc, "input"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func verboseFlag(acc *config.Accessor, direction string) bool {
	v, _ := acc.Get("param.verbose")
	d, _ := acc.Get("param.verbose-" + direction)
	return config.AsBool(v) || config.AsBool(d)
}
