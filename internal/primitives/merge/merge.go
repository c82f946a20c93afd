// Package merge implements the time-aligned multi-stream join primitive
// (spec.md §4.8): one output record per primary record, enriched with
// the nearest-in-time or linearly interpolated value from each side
// stream. Structurally grounded on the teacher's pkg/batching package
// (Config+logger+mutex-guarded buffer+background trim), but the
// size/time adaptive batching logic does not survive: merge's buffer is
// a time-ordered window trimmed by wall-clock age, and its emission is
// driven by primary records, not batch thresholds.
package merge

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tmcp-go/pkg/record"
)

// SideConfig configures one side stream's join behavior.
type SideConfig struct {
	// AllowUnboundedDelay selects unbounded hold-last mode when true,
	// bounded interpolation mode when false (spec.md §4.8).
	AllowUnboundedDelay bool
	MaxBufferMs         float64
	MatchToleranceMs    float64
	// Postfix is appended to each of this side's data keys in the
	// merged output. Defaults to "_<index+1>" when empty.
	Postfix string
}

// Config configures a Merge instance.
type Config struct {
	Tag   string
	Sides []SideConfig
}

type sideSample struct {
	ts   float64
	data map[string]interface{}
}

type sideState struct {
	cfg SideConfig

	mu         sync.Mutex
	window     []sideSample // ascending ts, bounded mode only
	lastSample *sideSample  // unbounded mode only
}

// Merge joins side streams onto a primary stream.
type Merge struct {
	cfg    Config
	logger *logrus.Logger
	sides  []*sideState
}

// New builds a Merge with one sideState per configured side.
func New(cfg Config, logger *logrus.Logger) *Merge {
	m := &Merge{cfg: cfg, logger: logger}
	for i, sc := range cfg.Sides {
		if sc.Postfix == "" {
			sc.Postfix = defaultPostfix(i)
		}
		m.sides = append(m.sides, &sideState{cfg: sc})
	}
	return m
}

func defaultPostfix(i int) string {
	return "_" + strconv.Itoa(i+1)
}

// IngestSide records one decoded record arriving on side stream i. Side
// records with a non-numeric timestamp are ignored: the algorithm has no
// way to place them on the timeline.
func (m *Merge) IngestSide(i int, rec record.Record) {
	ts, ok := rec.Meta.Timestamp()
	if !ok {
		return
	}
	s := m.sides[i]
	sample := sideSample{ts: ts, data: rec.Data}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.AllowUnboundedDelay {
		if s.lastSample == nil || sample.ts >= s.lastSample.ts {
			s.lastSample = &sample
		}
		return
	}

	s.window = append(s.window, sample)
	sort.Slice(s.window, func(a, b int) bool { return s.window[a].ts < s.window[b].ts })
	m.trimWindow(s)
}

// trimWindow drops side samples outside [now-maxBufferMs, now] (spec.md
// §4.8's bounded-mode window). Called with s.mu held.
func (m *Merge) trimWindow(s *sideState) {
	if s.cfg.MaxBufferMs <= 0 {
		return
	}
	nowMs := float64(time.Now().UnixNano()) / 1e6
	cutoff := nowMs - s.cfg.MaxBufferMs
	i := 0
	for i < len(s.window) && s.window[i].ts < cutoff {
		i++
	}
	if i > 0 {
		s.window = s.window[i:]
	}
}

// Forward builds the merged output record for one primary record.
// Degenerate case: a non-numeric main timestamp passes through unchanged
// plus the tag, with no side merging (spec.md §4.8).
func (m *Merge) Forward(main record.Record) record.Record {
	record.AppendTag(&main.Meta, m.cfg.Tag)

	t, ok := main.Meta.Timestamp()
	if !ok {
		return main
	}

	merged := make(map[string]interface{}, len(main.Data))
	for k, v := range main.Data {
		merged[k] = v
	}

	for _, s := range m.sides {
		selected := m.selectSide(s, t)
		if selected == nil {
			continue
		}
		for k, v := range selected.data {
			merged[k+s.cfg.Postfix] = v
		}
	}

	out := main
	out.Data = merged
	out.Meta = out.Meta.WithTimestamp(t)
	return out
}

// selectSide picks or synthesizes the side sample to contribute at
// timestamp t, implementing spec.md §4.8's matching algorithm.
func (m *Merge) selectSide(s *sideState, t float64) *sideSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.AllowUnboundedDelay {
		return s.lastSample
	}

	if len(s.window) == 0 {
		return nil
	}

	nearest, minDiff := s.window[0], absDiff(s.window[0].ts, t)
	for _, cand := range s.window[1:] {
		d := absDiff(cand.ts, t)
		if d < minDiff {
			nearest, minDiff = cand, d
		}
	}
	if minDiff <= s.cfg.MatchToleranceMs {
		picked := nearest
		return &picked
	}

	var before, after *sideSample
	for i := range s.window {
		if s.window[i].ts <= t {
			before = &s.window[i]
		} else if after == nil {
			after = &s.window[i]
			break
		}
	}

	if before != nil && after != nil && after.ts > before.ts {
		r := (t - before.ts) / (after.ts - before.ts)
		synthesized := make(map[string]interface{}, len(before.data))
		for k, bv := range before.data {
			synthesized[k] = bv
		}
		for k, bv := range before.data {
			av, ok := after.data[k]
			if !ok {
				continue
			}
			bf, bok := toFloat(bv)
			af, aok := toFloat(av)
			if bok && aok {
				synthesized[k] = bf + (af-bf)*r
			}
		}
		return &sideSample{ts: t, data: synthesized}
	}

	if before != nil {
		return before
	}
	return after
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
