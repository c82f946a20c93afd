// Command minrate runs the minimum-rate primitive (spec.md §4.5): forward
// every real record immediately and fill any gap longer than I ms with a
// forward-only monotonic clone of the last record.
package main

import (
	"fmt"
	"os"
	"sync"

	"tmcp-go/internal/config"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/primitives/minrate"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "minrate"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	var intervalParam, rateParam, tagParam *config.ParamSpec
	registerExtra := func(r *config.Registry) {
		intervalParam = r.RegisterParam(config.ParamSpec{
			Long: "interval-ms", TakesValue: true,
			Description: "minimum emission interval in milliseconds; exactly one of --interval-ms/--rate is required",
		})
		rateParam = r.RegisterParam(config.ParamSpec{
			Long: "rate", TakesValue: true,
			Description: "minimum emission rate in Hz; exactly one of --interval-ms/--rate is required",
		})
		tagParam = r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "minr",
			Description: "tag appended to meta.pipeline",
		})
	}

	acc, err := moduleutil.Bootstrap(r, registerExtra)
	if err != nil {
		r.WriteUsage(os.Stderr)
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	intervalVal, _ := acc.Get("param." + intervalParam.Long)
	rateVal, _ := acc.Get("param." + rateParam.Long)
	intervalMs, intervalOK := config.AsFloat(intervalVal)
	rateHz, rateOK := config.AsFloat(rateVal)

	switch {
	case intervalOK == rateOK:
		fmt.Fprintln(os.Stderr, "minrate: exactly one of --interval-ms or --rate is required")
		return 2
	case rateOK:
		if rateHz <= 0 {
			fmt.Fprintln(os.Stderr, "minrate: --rate must be > 0")
			return 2
		}
		intervalMs = 1000.0 / rateHz
	}

	rt, err := moduleutil.NewRuntime(moduleName, "", acc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	tagVal, _ := acc.Get("param." + tagParam.Long)

	outPolicy := transport.ResolvePolicy("stdout", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	out, err := transport.OpenChannel(nil, "stdout", transport.WriteOptions{
		Protocol: rt.OutProtocol, Policy: outPolicy, Verbose: verboseFlag(acc, "output"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer out.Close()

	// minrate's background clone timer and the primary read loop both
	// call emit; Channel.Emit is not safe for concurrent callers, so every
	// emission is serialized through this mutex (spec.md §5: a module is
	// single-logical-thread except at its own suspension points, and the
	// minrate timer is exactly the kind of suspension point that
	// introduces a second caller).
	var emitMu sync.Mutex
	emit := func(rec record.Record) {
		emitMu.Lock()
		defer emitMu.Unlock()
		if err := out.Emit(rec); err != nil {
			rt.Logger.Error("write failed", map[string]interface{}{"error": err.Error()})
			return
		}
		metrics.RecordEmitted(moduleName, "stdout")
	}

	m := minrate.New(minrate.Config{IntervalMs: intervalMs, Tag: config.AsString(tagVal)}, rt.Logger.Raw(), emit)
	defer m.Close()

	inPolicy := transport.ResolvePolicy("stdin", transport.Option{}, rt.GlobalExitOnClose, rt.GlobalRetry)
	err = transport.Read(nil, func(rec record.Record) error {
		metrics.RecordProcessed(moduleName, "stdin")
		m.Forward(rec)
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
