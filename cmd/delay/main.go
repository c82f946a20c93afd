// Command delay runs the logical-delay primitive (spec.md §4.9): defer
// each record's emission by a fixed offset, driven by the input
// watermark, flushing the buffer entirely on stdin EOF.
package main

import (
	"fmt"
	"os"

	"tmcp-go/internal/config"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/primitives/delay"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "delay"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	var delayParam, tagParam *config.ParamSpec
	registerExtra := func(r *config.Registry) {
		delayParam = r.RegisterParam(config.ParamSpec{
			Long: "delay-ms", TakesValue: true, Required: true,
			Description: "logical offset, in milliseconds, applied to each record's timestamp before emission",
		})
		tagParam = r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "dely",
			Description: "tag appended to meta.pipeline",
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

	delayVal, _ := acc.Get("param." + delayParam.Long)
	tagVal, _ := acc.Get("param." + tagParam.Long)
	delayMs, _ := config.AsFloat(delayVal)

	d := delay.New(delay.Config{DelayMs: delayMs, Tag: config.AsString(tagVal)}, rt.Logger.Raw())

	outPolicy := transport.ResolvePolicy("stdout", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	out, err := transport.OpenChannel(nil, "stdout", transport.WriteOptions{
		Protocol: rt.OutProtocol, Policy: outPolicy, Verbose: verboseFlag(acc, "output"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer out.Close()

	emit := func(rec record.Record) error {
		if err := out.Emit(rec); err != nil {
			return err
		}
		metrics.RecordEmitted(moduleName, "stdout")
		return nil
	}

	inPolicy := transport.ResolvePolicy("stdin", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	err = transport.Read(nil, func(rec record.Record) error {
		metrics.RecordProcessed(moduleName, "stdin")
		for _, out := range d.Ingest(rec) {
			if err := emit(out); err != nil {
				return err
			}
		}
		return nil
	}, transport.ReadOptions{
		Protocol: rt.InProtocol, Policy: inPolicy, Verbose: verboseFlag(acc, "input"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	for _, rec := range d.Flush() {
		if err := emit(rec); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return 0
}

func verboseFlag(acc *config.Accessor, direction string) bool {
	v, _ := acc.Get("param.verbose")
	di, _ := acc.Get("param.verbose-" + direction)
	return config.AsBool(v) || config.AsBool(di)
}
