// Package minrate implements the minimum-rate primitive (spec.md §4.5):
// it forwards every real record immediately and fills the gaps between
// them with forward-only monotonic clones so downstream consumers never
// wait longer than I ms for output. Structurally grounded on the
// teacher's pkg/ratelimit.AdaptiveRateLimiter (Config+background
// ticker+mutex-guarded last-emission state) and pkg/batching's periodic
// flush goroutine; the adaptive RPS/latency-feedback logic itself does
// not survive, since spec.md's minrate has no adaptation, only a fixed
// interval and forward-only logical clock.
package minrate

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tmcp-go/pkg/record"
)

// Config configures a MinRate instance. IntervalMs is I; callers translate
// --interval-ms/--rate into it before calling New.
type Config struct {
	IntervalMs float64
	Tag        string
}

// MinRate forwards real records immediately and emits forward-only clones
// on a background timer when no real record has arrived recently.
type MinRate struct {
	cfg    Config
	logger *logrus.Logger
	emit   func(record.Record)

	mu           sync.Mutex
	haveEmitted  bool
	lastEmitWall time.Time
	lastData     map[string]interface{}
	lastPipeline []string
	lastLogicalTs float64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a MinRate that calls emit for every forwarded or cloned
// record. The background clone timer starts immediately, at
// max(5, I/4) ms per spec.md §4.5.
func New(cfg Config, logger *logrus.Logger, emit func(record.Record)) *MinRate {
	m := &MinRate{cfg: cfg, logger: logger, emit: emit, stop: make(chan struct{})}
	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *MinRate) tickInterval() time.Duration {
	ms := m.cfg.IntervalMs / 4
	if ms < 5 {
		ms = 5
	}
	return time.Duration(ms) * time.Millisecond
}

func (m *MinRate) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.maybeClone()
		}
	}
}

func (m *MinRate) maybeClone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveEmitted {
		return
	}
	if time.Since(m.lastEmitWall) < time.Duration(m.cfg.IntervalMs)*time.Millisecond {
		return
	}

	data := make(map[string]interface{}, len(m.lastData))
	for k, v := range m.lastData {
		data[k] = v
	}

	newTs := m.lastLogicalTs + m.cfg.IntervalMs
	meta := record.Meta{}
	meta = meta.WithTimestamp(newTs)
	meta.Pipeline = append([]string{}, m.lastPipeline...)

	clone := record.Record{Meta: meta, Data: data}
	record.AppendTag(&clone.Meta, m.cfg.Tag)

	m.lastLogicalTs = newTs
	m.lastEmitWall = time.Now()
	m.lastPipeline = clone.Meta.Pipeline

	m.emit(clone)
}

// Forward handles one real input record: it stamps a tag, emits it
// immediately, and caches it as the basis for the next clone.
func (m *MinRate) Forward(rec record.Record) {
	ts, ok := rec.Meta.Timestamp()
	if !ok {
		ts = float64(time.Now().UnixMilli())
		rec.Meta = rec.Meta.WithTimestamp(ts)
	}
	record.AppendTag(&rec.Meta, m.cfg.Tag)

	m.mu.Lock()
	m.haveEmitted = true
	m.lastEmitWall = time.Now()
	m.lastLogicalTs = ts
	m.lastData = rec.Data
	m.lastPipeline = rec.Meta.ClonePipeline()
	m.mu.Unlock()

	m.emit(rec)
}

// Close stops the background clone timer.
func (m *MinRate) Close() {
	close(m.stop)
	m.wg.Wait()
}
