// Package record defines the canonical {meta, data} shape that flows between
// every module in the runtime, plus the handful of pure functions allowed to
// create or mutate it. Outside this package, Meta literals are built only by
// minrate (clones) and delay (buffered copies), from a copied pipeline.
package record

import (
	"sync/atomic"
	"time"
)

// taggingEnabled is a process-wide flag read by NewMeta and AppendTag. It is
// not threaded through call sites as a parameter: spec.md documents tagging
// as an observational, global concern, so it lives here as a package-level
// service instead.
var taggingEnabled atomic.Bool

func init() {
	taggingEnabled.Store(true)
}

// SetTaggingEnabled toggles pipeline tagging process-wide. Modules call this
// once at startup from the --do-tag/--no-do-tag parameter.
func SetTaggingEnabled(enabled bool) {
	taggingEnabled.Store(enabled)
}

// TaggingEnabled reports the current state of the process-wide tag flag.
func TaggingEnabled() bool {
	return taggingEnabled.Load()
}

// Meta carries record provenance: the original wall-clock timestamp the
// record was stamped with, and the ordered list of module tags it has
// traversed.
type Meta struct {
	TimestampMs *float64 `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Pipeline    []string `json:"pipeline,omitempty" msgpack:"pipeline,omitempty"`
}

// Record is the canonical {meta, data} pair. Data is duck-typed on purpose:
// modules only look at the keys they care about and must pass the rest
// through untouched.
type Record struct {
	Meta Meta                   `json:"meta" msgpack:"meta"`
	Data map[string]interface{} `json:"data" msgpack:"data"`
}

// NewMeta stamps the current wall-clock time in milliseconds and, if
// tagging is enabled, seeds Pipeline with tag. It is the only constructor of
// a fresh Meta used by sources.
func NewMeta(tag string) Meta {
	ts := float64(time.Now().UnixMilli())
	m := Meta{TimestampMs: &ts}
	if taggingEnabled.Load() && tag != "" {
		m.Pipeline = []string{tag}
	}
	return m
}

// AppendTag pushes tag onto meta.Pipeline in place. A no-op when tagging is
// globally disabled or tag is empty.
func AppendTag(meta *Meta, tag string) {
	if !taggingEnabled.Load() || tag == "" {
		return
	}
	meta.Pipeline = append(meta.Pipeline, tag)
}

// Timestamp returns meta.TimestampMs as (value, ok); ok is false when the
// record carries no numeric timestamp.
func (m Meta) Timestamp() (float64, bool) {
	if m.TimestampMs == nil {
		return 0, false
	}
	return *m.TimestampMs, true
}

// WithTimestamp returns a copy of m with TimestampMs set to ts.
func (m Meta) WithTimestamp(ts float64) Meta {
	m.TimestampMs = &ts
	return m
}

// ClonePipeline returns a copy of meta.Pipeline, safe to mutate independently
// of the original record (used by minrate/delay to avoid aliasing
// bugs across cached or buffered records).
func (m Meta) ClonePipeline() []string {
	if m.Pipeline == nil {
		return nil
	}
	out := make([]string, len(m.Pipeline))
	copy(out, m.Pipeline)
	return out
}

// Normalize enforces the invariants of spec.md §3 on an arbitrary decoded
// value and is idempotent: Normalize(Normalize(v)) == Normalize(v).
//
//  1. The result is always a Record with both Meta and Data non-nil maps.
//  2. Meta.Pipeline is always a slice of strings (nil when tagging produced
//     none, never a bare interface{}).
//  3. Scalars and non-mapping inputs are wrapped as {meta:{}, data:{value:v}}.
//  4. Unknown data/meta keys flow through untouched.
func Normalize(v interface{}) Record {
	switch t := v.(type) {
	case Record:
		return normalizeRecord(t)
	case *Record:
		if t == nil {
			return Record{Data: map[string]interface{}{}}
		}
		return normalizeRecord(*t)
	case map[string]interface{}:
		return normalizeMap(t)
	default:
		return Record{Data: map[string]interface{}{"value": v}}
	}
}

func normalizeRecord(r Record) Record {
	if r.Data == nil {
		r.Data = map[string]interface{}{}
	}
	if r.Meta.Pipeline == nil {
		r.Meta.Pipeline = nil
	}
	return r
}

// normalizeMap interprets a raw decoded JSON/msgpack object. A document that
// carries top-level "meta" and "data" keys is treated as an already-shaped
// record; anything else is treated as a bare data payload.
func normalizeMap(m map[string]interface{}) Record {
	metaRaw, hasMeta := m["meta"]
	dataRaw, hasData := m["data"]
	if !hasMeta && !hasData {
		return Record{Data: m}
	}

	out := Record{Data: map[string]interface{}{}}
	if dm, ok := dataRaw.(map[string]interface{}); ok {
		out.Data = dm
	} else if hasData {
		out.Data["value"] = dataRaw
	}

	if mm, ok := metaRaw.(map[string]interface{}); ok {
		if ts, ok := toFloat(mm["timestamp"]); ok {
			out.Meta.TimestampMs = &ts
		}
		if pl, ok := mm["pipeline"].([]interface{}); ok {
			tags := make([]string, 0, len(pl))
			for _, e := range pl {
				if s, ok := e.(string); ok {
					tags = append(tags, s)
				}
			}
			out.Meta.Pipeline = tags
		}
	}
	return out
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
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
