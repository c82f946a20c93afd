// Package dedup implements the deduplication primitive (spec.md §4.6):
// forward only records whose data differs meaningfully from the single
// last emitted record. Structurally grounded on the teacher's
// pkg/deduplication.Manager (Config+logger+mutex-guarded comparison
// state, content-hash pre-check), but the comparison itself is rewritten:
// the teacher hashes into a TTL/LRU cache, whereas spec.md compares only
// against the single most recently emitted record, with no cache and no
// expiry. The teacher's xxhash pre-check survives as a cheap reject: a
// matching digest means the two data maps serialize identically, which
// is sufficient to conclude "unchanged" even when NumericTolerance > 0
// (exact equality is strictly stronger than within-tolerance equality),
// so it never produces a false "unchanged" verdict and lets the common
// case skip the full per-key walk below.
package dedup

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"tmcp-go/pkg/record"
)

// Config configures a Dedup instance.
type Config struct {
	IgnoreFields     []string
	CheckFields      []string // restricts comparison to this set when non-empty
	NumericTolerance float64
	Debug            bool
	Tag              string
}

// Dedup compares each record's data against the last one it forwarded.
type Dedup struct {
	cfg    Config
	logger *logrus.Logger
	ignore map[string]bool
	check  map[string]bool

	mu       sync.Mutex
	hasLast  bool
	hasHash  bool
	lastData map[string]interface{}
	lastHash uint64
}

// New builds a Dedup instance.
func New(cfg Config, logger *logrus.Logger) *Dedup {
	ignore := make(map[string]bool, len(cfg.IgnoreFields))
	for _, f := range cfg.IgnoreFields {
		ignore[f] = true
	}
	check := make(map[string]bool, len(cfg.CheckFields))
	for _, f := range cfg.CheckFields {
		check[f] = true
	}
	return &Dedup{cfg: cfg, logger: logger, ignore: ignore, check: check}
}

// Evaluate returns the (possibly tagged) record and whether it should be
// forwarded. The first record always passes (spec.md §4.6, rule 1).
func (d *Dedup) Evaluate(rec record.Record) (record.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasLast {
		d.hasLast = true
		d.lastData = cloneData(rec.Data)
		d.lastHash = d.hashOf(rec.Data)
		d.hasHash = true
		record.AppendTag(&rec.Meta, d.cfg.Tag)
		return rec, true
	}

	changed, hash := d.changed(rec.Data, d.lastData)
	if !changed {
		if d.cfg.Debug && d.logger != nil {
			d.logger.Info("dedup: dropped unchanged record")
		}
		return rec, false
	}

	d.lastData = cloneData(rec.Data)
	d.lastHash = hash
	d.hasHash = true
	record.AppendTag(&rec.Meta, d.cfg.Tag)
	return rec, true
}

// changed implements spec.md §4.6's comparison algorithm steps 2-5, with
// an xxhash digest over the comparison key set as a fast path: a hash
// match short-circuits straight to "unchanged" and skips the per-key
// walk entirely.
func (d *Dedup) changed(current, last map[string]interface{}) (bool, uint64) {
	keys := d.comparisonKeys(current)
	hash := hashKeys(current, keys)

	if d.hasHash && hash == d.lastHash {
		return false, hash
	}

	for key := range keys {
		cv, cok := current[key]
		lv, lok := last[key]

		if cok && !lok {
			return true, hash
		}
		if !valuesEqual(cv, lv, d.cfg.NumericTolerance) {
			return true, hash
		}
	}
	return false, hash
}

// hashOf computes the digest over every key in data (the first record has
// no comparisonKeys restriction to apply yet).
func (d *Dedup) hashOf(data map[string]interface{}) uint64 {
	keys := make(map[string]bool, len(data))
	for k := range data {
		keys[k] = true
	}
	return hashKeys(data, keys)
}

// hashKeys digests the sorted key set of data restricted to keys, so two
// maps with identical values under that key set always hash the same
// regardless of map iteration order.
func hashKeys(data map[string]interface{}, keys map[string]bool) uint64 {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, k := range names {
		v, ok := data[k]
		if !ok {
			fmt.Fprintf(h, "%s\x01\x00", k)
			continue
		}
		fmt.Fprintf(h, "%s=%#v\x00", k, v)
	}
	return h.Sum64()
}

// comparisonKeys determines the key set spec.md §4.6 rule 2 describes:
// checkFields if given, else all keys in current data, minus ignoreFields.
func (d *Dedup) comparisonKeys(current map[string]interface{}) map[string]bool {
	keys := make(map[string]bool)
	if len(d.check) > 0 {
		for k := range d.check {
			keys[k] = true
		}
	} else {
		for k := range current {
			keys[k] = true
		}
	}
	for k := range d.ignore {
		delete(keys, k)
	}
	return keys
}

func valuesEqual(a, b interface{}, tolerance float64) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		diff := af - bf
		if diff < 0 {
			diff = -diff
		}
		return diff <= tolerance
	}

	am, amok := a.(map[string]interface{})
	bm, bmok := b.(map[string]interface{})
	if amok || bmok {
		if !amok || !bmok {
			return false
		}
		return shallowMapEqual(am, bm, tolerance)
	}

	return a == b
}

// shallowMapEqual implements spec.md §4.6's "one level of shallow
// key-set + value equality" for nested mappings.
func shallowMapEqual(a, b map[string]interface{}, tolerance float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valuesEqual(av, bv, tolerance) {
			return false
		}
	}
	return true
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

func cloneData(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
