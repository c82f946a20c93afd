// Package logging provides the level-filtered diagnostic logger shared by
// every module, plus the per-interval throughput/delay statistics collector
// described in spec.md §4.3 and §7. Grounded on the teacher's pervasive
// *logrus.Logger plus internal/dispatcher's StatsCollector shape.
package logging

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the spec's four-level verbose-log-level filter.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
)

// ParseLevel maps the --verbose-log-level parameter value onto a Level.
func ParseLevel(s string) Level {
	switch s {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "info":
		return LevelInfo
	default:
		return LevelNone
	}
}

// Logger wraps logrus with the stable "<moduleName>(<configPath|no-conf>)"
// prefix spec.md §7 requires and the verbose-log-level filter.
type Logger struct {
	raw    *logrus.Logger
	prefix string
	level  Level
}

// New builds a Logger that writes to stderr (spec.md §6: diagnostics are
// exclusively on stderr).
func New(moduleName, configPath string, level Level) *Logger {
	raw := logrus.New()
	raw.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	confTag := configPath
	if confTag == "" {
		confTag = "no-conf"
	}

	return &Logger{
		raw:    raw,
		prefix: fmt.Sprintf("%s(%s)", moduleName, confTag),
		level:  level,
	}
}

// Raw returns the underlying *logrus.Logger, for callers (the Supervisor,
// the metrics server) that need a plain logrus instance rather than the
// level-filtered, prefixed wrapper.
func (l *Logger) Raw() *logrus.Logger {
	return l.raw
}

func (l *Logger) entry() *logrus.Entry {
	return l.raw.WithField("component", l.prefix)
}

// Info logs at info level, filtered out unless level >= LevelInfo.
func (l *Logger) Info(msg string, fields logrus.Fields) {
	if l.level < LevelInfo {
		return
	}
	l.entry().WithFields(fields).Info(msg)
}

// Warn logs at warn level, filtered out unless level >= LevelWarn.
func (l *Logger) Warn(msg string, fields logrus.Fields) {
	if l.level < LevelWarn {
		return
	}
	l.entry().WithFields(fields).Warn(msg)
}

// Error logs at error level, filtered out unless level >= LevelError.
func (l *Logger) Error(msg string, fields logrus.Fields) {
	if l.level < LevelError {
		return
	}
	l.entry().WithFields(fields).Error(msg)
}

// Stats accumulates the per-second throughput/delay figures spec.md §4.3
// describes: message rate, average delay (now - meta.timestamp), and the
// last pipeline tag chain observed.
type Stats struct {
	logger   *Logger
	interval time.Duration

	count      atomic.Int64
	delaySum   atomic.Int64 // milliseconds, accumulated
	delayCount atomic.Int64

	mu       sync.Mutex
	lastTags []string

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewStats starts a 1000ms ticker reporting throughput/delay metrics. Call
// Stop to end it. Grounded on the teacher's StatsCollector background loop.
func NewStats(logger *Logger, interval time.Duration) *Stats {
	if interval <= 0 {
		interval = time.Second
	}
	s := &Stats{logger: logger, interval: interval, stop: make(chan struct{})}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Observe records one emitted record's delay (now - ts, in ms, when ts is
// known) and pipeline chain.
func (s *Stats) Observe(nowMs float64, ts *float64, pipeline []string) {
	s.count.Add(1)
	if ts != nil {
		delay := nowMs - *ts
		s.delaySum.Add(int64(delay))
		s.delayCount.Add(1)
	}
	s.mu.Lock()
	s.lastTags = pipeline
	s.mu.Unlock()
}

func (s *Stats) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.report()
		}
	}
}

func (s *Stats) report() {
	count := s.count.Swap(0)
	delaySum := s.delaySum.Swap(0)
	delayCount := s.delayCount.Swap(0)

	rate := float64(count) / s.interval.Seconds()
	avgDelay := float64(0)
	if delayCount > 0 {
		avgDelay = float64(delaySum) / float64(delayCount)
	}

	s.mu.Lock()
	tags := s.lastTags
	s.mu.Unlock()

	s.logger.Info("throughput", logrus.Fields{
		"rate_msg_per_sec": rate,
		"avg_delay_ms":     avgDelay,
		"pipeline":         tags,
	})
}

// Stop ends the reporting ticker and waits for it to exit.
func (s *Stats) Stop() {
	close(s.stop)
	s.wg.Wait()
}
