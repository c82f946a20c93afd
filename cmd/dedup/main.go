// Command dedup runs the deduplication primitive (spec.md §4.6): forward
// only records whose data differs meaningfully from the last one emitted.
package main

import (
	"fmt"
	"os"
	"strings"

	"tmcp-go/internal/config"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/moduleutil"
	"tmcp-go/internal/primitives/dedup"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

const moduleName = "dedup"

func main() {
	os.Exit(run())
}

func run() int {
	r := config.NewRegistry(moduleName)
	registerExtra := func(r *config.Registry) {
		r.RegisterParam(config.ParamSpec{
			Long: "ignore-fields", TakesValue: true,
			Description: "comma-separated data keys excluded from the comparison",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "check-fields", TakesValue: true,
			Description: "comma-separated data keys the comparison is restricted to, when non-empty",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "numeric-tolerance", TakesValue: true, Default: "0",
			Description: "|a-b| <= tolerance is considered equal for numeric fields",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "debug", Negatable: true, Default: false,
			Description: "log each dropped record",
		})
		r.RegisterParam(config.ParamSpec{
			Long: "tag", TakesValue: true, Default: "dedup",
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

	ignoreVal, _ := acc.Get("param.ignore-fields")
	checkVal, _ := acc.Get("param.check-fields")
	toleranceVal, _ := acc.Get("param.numeric-tolerance")
	debugVal, _ := acc.Get("param.debug")
	tagVal, _ := acc.Get("param.tag")

	d := dedup.New(dedup.Config{
		IgnoreFields:     splitCSV(config.AsString(ignoreVal)),
		CheckFields:      splitCSV(config.AsString(checkVal)),
		NumericTolerance: config.AsFloatDefault(toleranceVal, 0),
		Debug:            config.AsBool(debugVal),
		Tag:              config.AsString(tagVal),
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
		tagged, ok := d.Evaluate(rec)
		if !ok {
			metrics.RecordDropped(moduleName, "unchanged")
			return nil
		}
		metrics.RecordEmitted(moduleName, "stdout")
		return out.Emit(tagged)
	}, transport.ReadOptions{
		Protocol: rt.InProtocol, Policy: inPolicy, Verbose: verboseFlag(acc, "input"), Logger: rt.Logger, Stats: rt.Stats, Term: rt.Supervisor,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func verboseFlag(acc *config.Accessor, direction string) bool {
	v, _ := acc.Get("param.verbose")
	d, _ := acc.Get("param.verbose-" + direction)
	return config.AsBool(v) || config.AsBool(d)
}
