// Package metrics exposes the Prometheus surface a dataflow module can
// optionally serve alongside its stdin/stdout/FIFO channels: records
// processed/emitted/dropped, per-channel queue depth, processing latency,
// and the instance's component-health gauge. Modules that never bind
// --metrics-addr simply never call NewServer; the counters still
// accumulate so a later bind can pick them up.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// RecordsProcessedTotal counts records a module has read from an input
	// channel, labeled by module name and channel name.
	RecordsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmcp_records_processed_total",
			Help: "Total number of records read from an input channel",
		},
		[]string{"module", "channel"},
	)

	// RecordsEmittedTotal counts records written to an output channel.
	RecordsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmcp_records_emitted_total",
			Help: "Total number of records written to an output channel",
		},
		[]string{"module", "channel"},
	)

	// RecordsDroppedTotal counts records discarded by a control primitive
	// (gate closed, dedup suppression, reducer missing input, split
	// side-write failure) labeled with the reason.
	RecordsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmcp_records_dropped_total",
			Help: "Total number of records dropped, labeled by reason",
		},
		[]string{"module", "reason"},
	)

	// ChannelQueueDepth reports the number of records buffered for an
	// output channel awaiting a slow or reconnecting FIFO.
	ChannelQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tmcp_channel_queue_depth",
			Help: "Current number of buffered records for an output channel",
		},
		[]string{"module", "channel"},
	)

	// ProcessingDuration measures time spent in a module's per-record
	// callback.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmcp_processing_duration_seconds",
			Help:    "Time spent in a module's per-record callback",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"module"},
	)

	// ErrorsTotal counts AppErrors surfaced by severity.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmcp_errors_total",
			Help: "Total number of errors, labeled by module and severity",
		},
		[]string{"module", "severity"},
	)

	// ComponentHealth reports 1 for a healthy module instance and 0
	// otherwise, as set through SetComponentHealthy; no module in this
	// tree calls SetComponentHealthy, so the gauge is never set.
	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tmcp_component_health",
			Help: "1 if the module instance is healthy, 0 otherwise",
		},
		[]string{"module"},
	)

	// DelaySecondsObserved is a Prometheus gauge for the average record
	// delay, set through SetDelaySeconds; the logging package's throughput
	// ticker does not feed it, and no module in this tree sets it.
	DelaySecondsObserved = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tmcp_delay_seconds",
			Help: "Average wall-clock minus record timestamp delay observed over the last report interval",
		},
		[]string{"module"},
	)
)

// RecordProcessed increments RecordsProcessedTotal for module/channel.
func RecordProcessed(module, channel string) {
	RecordsProcessedTotal.WithLabelValues(module, channel).Inc()
}

// RecordEmitted increments RecordsEmittedTotal for module/channel.
func RecordEmitted(module, channel string) {
	RecordsEmittedTotal.WithLabelValues(module, channel).Inc()
}

// RecordDropped increments RecordsDroppedTotal for module/reason.
func RecordDropped(module, reason string) {
	RecordsDroppedTotal.WithLabelValues(module, reason).Inc()
}

// SetQueueDepth sets the current buffered-record count for module/channel.
func SetQueueDepth(module, channel string, depth int) {
	ChannelQueueDepth.WithLabelValues(module, channel).Set(float64(depth))
}

// ObserveProcessingDuration records d against module's latency histogram.
func ObserveProcessingDuration(module string, d time.Duration) {
	ProcessingDuration.WithLabelValues(module).Observe(d.Seconds())
}

// RecordErrorSeverity increments ErrorsTotal for module/severity.
func RecordErrorSeverity(module, severity string) {
	ErrorsTotal.WithLabelValues(module, severity).Inc()
}

// SetComponentHealthy sets ComponentHealth for module.
func SetComponentHealthy(module string, healthy bool) {
	var v float64
	if healthy {
		v = 1
	}
	ComponentHealth.WithLabelValues(module).Set(v)
}

// SetDelaySeconds sets the delay gauge for module.
func SetDelaySeconds(module string, seconds float64) {
	DelaySecondsObserved.WithLabelValues(module).Set(seconds)
}

// Server serves /metrics and /health on a single HTTP listener, started
// only when a module's --metrics-addr parameter is set.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

var registerOnce sync.Once

// safeRegister registers collector, tolerating the "already registered"
// panic promauto avoids but a second Server in the same process (tests)
// can still trigger.
func safeRegister(collector prometheus.Collector) {
	defer func() { recover() }()
	prometheus.Register(collector)
}

// NewServer builds a metrics server bound to addr. Registration of the
// package-level collectors happens once per process regardless of how
// many module instances call NewServer (relevant only in tests, which run
// multiple modules in one binary).
func NewServer(addr string, logger *logrus.Logger) *Server {
	registerOnce.Do(func() {
		safeRegister(RecordsProcessedTotal)
		safeRegister(RecordsEmittedTotal)
		safeRegister(RecordsDroppedTotal)
		safeRegister(ChannelQueueDepth)
		safeRegister(ProcessingDuration)
		safeRegister(ErrorsTotal)
		safeRegister(ComponentHealth)
		safeRegister(DelaySecondsObserved)
	})

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background. It never blocks; a bind
// failure is logged once the listener goroutine observes it.
func (s *Server) Start() {
	s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
}

// Stop shuts the server down, giving in-flight scrapes up to ctx's
// deadline to complete.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
