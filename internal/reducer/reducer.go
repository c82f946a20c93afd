// Package reducer implements the declarative reducer primitive (spec.md
// §4.11): a multi-pass expression/aggregation engine that computes
// derived outputs from a record's data according to a list of named
// rules. Structurally grounded on the teacher's pkg/batching.AdaptiveBatcher
// (Config+logger+mutex-guarded accumulator state, recomputed every
// record) and shares internal/expr with the state machine for the
// expr/condition rule ops, per spec.md §9.
package reducer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tmcp-go/internal/expr"
	"tmcp-go/pkg/record"
)

// MissingPolicy controls how a rule handles an absent or null input
// (spec.md §4.11).
type MissingPolicy string

const (
	MissingIgnore MissingPolicy = "ignore"
	MissingZero   MissingPolicy = "zero"
	MissingFail   MissingPolicy = "fail"
)

// ForwardPolicy controls which working-map keys spec.md §4.11 forwards
// into the output record.
type ForwardPolicy string

const (
	ForwardAll   ForwardPolicy = "all"
	ForwardKnown ForwardPolicy = "known"
)

// LocalBinding is one entry of a rule's "inputs" mapping from local alias
// to source working-map key. Order matters for the "passthrough" op,
// which emits the first one.
type LocalBinding struct {
	Alias string
	Field string
}

// Rule is one named computation spec.md §4.11 describes.
type Rule struct {
	Name string
	Op   string // copy, sum, sub, avg, max, min, range, weighted_avg, expr, condition, passthrough

	// Src is the source working-map key for "copy".
	Src string
	// InputFields names the working-map keys aggregated by sum/sub/avg/
	// max/min/range.
	InputFields []string
	// WeightedInputs maps a working-map key to its weight for
	// weighted_avg.
	WeightedInputs map[string]float64
	// Locals binds local aliases to working-map keys for expr/condition/
	// passthrough.
	Locals []LocalBinding
	Expr   *expr.Program

	Temp    bool
	Retain  bool
	Missing MissingPolicy
}

// Config configures a Reducer instance.
type Config struct {
	Tag           string
	Rules         []Rule
	Passes        int
	ForwardPolicy ForwardPolicy
}

// Reducer evaluates Config.Rules against every incoming record, carrying
// retained "<name>__prev" state across records (spec.md §4.11,
// "Retention").
type Reducer struct {
	cfg    Config
	logger *logrus.Logger

	mu        sync.Mutex
	retained  map[string]interface{}
	startedAt float64
	started   bool
}

// New builds a Reducer. passes < 1 is coerced to 1.
func New(cfg Config, logger *logrus.Logger) *Reducer {
	if cfg.Passes < 1 {
		cfg.Passes = 1
	}
	if cfg.ForwardPolicy == "" {
		cfg.ForwardPolicy = ForwardAll
	}
	return &Reducer{cfg: cfg, logger: logger, retained: make(map[string]interface{})}
}

// Evaluate runs every configured pass over rec.Data and returns the
// resulting record plus whether it should be forwarded. ok is false when
// a rule with missing:"fail" hit an absent required input (spec.md §4.11:
// "drop the whole record with a diagnostic").
func (r *Reducer) Evaluate(rec record.Record) (record.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e6
	if !r.started {
		r.startedAt = now
		r.started = true
	}

	working := make(map[string]interface{}, len(rec.Data)+8)
	for k, v := range rec.Data {
		working[k] = v
	}
	var tsVal interface{}
	if ts, ok := rec.Meta.Timestamp(); ok {
		tsVal = ts
	}
	working["__timestamp"] = tsVal
	working["__now"] = now
	working["__start"] = r.startedAt
	for k, v := range r.retained {
		working[k] = v
	}

	for pass := 0; pass < r.cfg.Passes; pass++ {
		for i := range r.cfg.Rules {
			rule := &r.cfg.Rules[i]
			value, drop := r.evaluateRule(rule, working)
			if drop {
				if r.logger != nil {
					r.logger.WithField("rule", rule.Name).Warn("reducer dropped record: required input missing")
				}
				return rec, false
			}
			if value != nil || r.cfg.ForwardPolicy == ForwardKnown {
				working[rule.Name] = value
			}
		}
	}

	for _, rule := range r.cfg.Rules {
		if rule.Retain {
			r.retained[rule.Name+"__prev"] = working[rule.Name]
		}
	}

	out := rec
	out.Data = r.buildOutput(working)
	record.AppendTag(&out.Meta, r.cfg.Tag)
	return out, true
}

func (r *Reducer) buildOutput(working map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	if r.cfg.ForwardPolicy == ForwardKnown {
		for _, rule := range r.cfg.Rules {
			if rule.Temp {
				continue
			}
			if v, ok := working[rule.Name]; ok {
				out[rule.Name] = v
			}
		}
		return out
	}

	temp := make(map[string]bool, len(r.cfg.Rules))
	for _, rule := range r.cfg.Rules {
		if rule.Temp {
			temp[rule.Name] = true
		}
	}
	for k, v := range working {
		if len(k) >= 2 && k[:2] == "__" {
			continue
		}
		if temp[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// evaluateRule computes one rule's value. drop is true only when the rule
// hit an absent input under missing:"fail".
func (r *Reducer) evaluateRule(rule *Rule, working map[string]interface{}) (value interface{}, drop bool) {
	switch rule.Op {
	case "copy":
		v, ok := lookup(working, rule.Src)
		return r.resolveMissing(rule, v, ok)

	case "passthrough":
		if len(rule.Locals) == 0 {
			return nil, false
		}
		v, ok := lookup(working, rule.Locals[0].Field)
		return r.resolveMissing(rule, v, ok)

	case "sum", "sub", "avg", "max", "min", "range":
		return r.evaluateAggregate(rule, working)

	case "weighted_avg":
		return r.evaluateWeightedAvg(rule, working)

	case "expr", "condition":
		return r.evaluateExpr(rule, working)

	default:
		if r.logger != nil {
			r.logger.WithField("op", rule.Op).Warn("reducer: unknown rule op")
		}
		return nil, false
	}
}

func (r *Reducer) resolveMissing(rule *Rule, v interface{}, ok bool) (interface{}, bool) {
	if ok && v != nil {
		return v, false
	}
	switch rule.Missing {
	case MissingZero:
		return 0.0, false
	case MissingFail:
		return nil, true
	default:
		return nil, false
	}
}

func (r *Reducer) evaluateAggregate(rule *Rule, working map[string]interface{}) (interface{}, bool) {
	values := make([]float64, 0, len(rule.InputFields))
	for _, field := range rule.InputFields {
		v, ok := lookup(working, field)
		f, fok := toFloat(v)
		if ok && fok {
			values = append(values, f)
			continue
		}
		switch rule.Missing {
		case MissingZero:
			values = append(values, 0)
		case MissingFail:
			return nil, true
		default:
			// ignore: omit this value from the aggregate
		}
	}
	if len(values) == 0 {
		return nil, false
	}

	switch rule.Op {
	case "sum":
		var total float64
		for _, v := range values {
			total += v
		}
		return total, false
	case "sub":
		total := values[0]
		for _, v := range values[1:] {
			total -= v
		}
		return total, false
	case "avg":
		var total float64
		for _, v := range values {
			total += v
		}
		return total / float64(len(values)), false
	case "max":
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, false
	case "min":
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, false
	case "range":
		lo, hi := values[0], values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		return hi - lo, false
	}
	return nil, false
}

func (r *Reducer) evaluateWeightedAvg(rule *Rule, working map[string]interface{}) (interface{}, bool) {
	fields := make([]string, 0, len(rule.WeightedInputs))
	for f := range rule.WeightedInputs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var weightedSum, weightTotal float64
	any := false
	for _, field := range fields {
		weight := rule.WeightedInputs[field]
		v, ok := lookup(working, field)
		f, fok := toFloat(v)
		if ok && fok {
			weightedSum += f * weight
			weightTotal += weight
			any = true
			continue
		}
		switch rule.Missing {
		case MissingZero:
			weightTotal += weight
			any = true
		case MissingFail:
			return nil, true
		default:
			// ignore
		}
	}
	if !any || weightTotal == 0 {
		return nil, false
	}
	return weightedSum / weightTotal, false
}

func (r *Reducer) evaluateExpr(rule *Rule, working map[string]interface{}) (interface{}, bool) {
	env := &localResolver{locals: rule.Locals, working: working}
	value, err := rule.Expr.Eval(env)
	if err != nil {
		if r.logger != nil {
			r.logger.WithField("rule", rule.Name).WithError(err).Warn("reducer expression evaluation failed")
		}
		value = nil
	}
	if rule.Op == "condition" {
		if value == nil {
			return r.resolveMissing(rule, nil, false)
		}
		return toBool(value), false
	}
	return r.resolveMissing(rule, value, value != nil)
}

// localResolver implements expr.Resolver over a rule's Locals, pulling
// values from the shared working map (spec.md §4.11: "the expression is
// evaluated in a sandbox with those locals").
type localResolver struct {
	locals  []LocalBinding
	working map[string]interface{}
}

func (l *localResolver) Resolve(path []string) (interface{}, bool) {
	if len(path) != 1 {
		return nil, false
	}
	for _, b := range l.locals {
		if b.Alias == path[0] {
			v, ok := lookup(l.working, b.Field)
			return v, ok
		}
	}
	return nil, false
}

func lookup(m map[string]interface{}, key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
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

func toBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return fmt.Sprintf("%v", t) != ""
	}
}
