package moduleutil

import (
	"os"

	"tmcp-go/internal/config"
	"tmcp-go/internal/logging"
	"tmcp-go/internal/metrics"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

// Runtime bundles the pieces every cmd/<module> main builds identically
// from the universal CLI surface (spec.md §6) before wiring its own
// primitive: a level-filtered logger, the throughput/delay stats
// collector, the signal/termination supervisor, the resolved wire
// protocols, and the parsed global per-channel policy overrides.
type Runtime struct {
	Logger            *logging.Logger
	Stats             *logging.Stats
	Supervisor        *Supervisor
	InProtocol        transport.Protocol
	OutProtocol       transport.Protocol
	GlobalExitOnClose map[string]bool
	GlobalRetry       map[string]bool
	Metrics           *metrics.Server
}

// Bootstrap registers the universal parameters on r, invokes registerExtra
// for the module's own positionals/params/config fields, then parses argv.
// Callers print usage and exit(2) on error.
func Bootstrap(r *config.Registry, registerExtra func(*config.Registry)) (*config.Accessor, error) {
	RegisterUniversal(r)
	if registerExtra != nil {
		registerExtra(r)
	}
	return r.LoadCLI(os.Args[1:])
}

// NewRuntime builds a Runtime from a loaded Accessor. configPath is used
// only for the logger's "<module>(<configPath|no-conf>)" diagnostic
// prefix (spec.md §7); pass "" when the module has no config file.
func NewRuntime(moduleName, configPath string, acc *config.Accessor) (*Runtime, error) {
	levelVal, _ := acc.Get("param.verbose-log-level")
	logger := logging.New(moduleName, configPath, logging.ParseLevel(config.AsString(levelVal)))

	verboseVal, _ := acc.Get("param.verbose")
	var stats *logging.Stats
	if config.AsBool(verboseVal) {
		stats = logging.NewStats(logger, 0)
	}

	exitInsteadVal, _ := acc.Get("param.exit-instead-of-kill")
	sup := NewSupervisor(logger.Raw(), config.AsBool(exitInsteadVal), func() {
		if stats != nil {
			stats.Stop()
		}
	})
	sup.WatchSignals()

	inProtoVal, _ := acc.Get("param.in-protocol")
	inProto, err := transport.ParseProtocol(config.AsString(inProtoVal))
	if err != nil {
		return nil, err
	}
	outProtoVal, _ := acc.Get("param.out-protocol")
	outProto, err := transport.ParseProtocol(config.AsString(outProtoVal))
	if err != nil {
		return nil, err
	}

	exitOnCloseVal, _ := acc.Get("param.exit-on-close")
	retryVal, _ := acc.Get("param.retry")

	rt := &Runtime{
		Logger:            logger,
		Stats:             stats,
		Supervisor:        sup,
		InProtocol:        inProto,
		OutProtocol:       outProto,
		GlobalExitOnClose: ParseChannelBoolMap(config.AsString(exitOnCloseVal)),
		GlobalRetry:       ParseChannelBoolMap(config.AsString(retryVal)),
	}

	addrVal, _ := acc.Get("param.metrics-addr")
	if addr := config.AsString(addrVal); addr != "" {
		rt.Metrics = metrics.NewServer(addr, logger.Raw())
		rt.Metrics.Start()
	}

	doTagVal, _ := acc.Get("param.do-tag")
	record.SetTaggingEnabled(config.AsBool(doTagVal))

	return rt, nil
}
