package expr

import (
	"fmt"
	"math"
	"time"
)

// Resolver resolves a dotted identifier path to a value. Both the state
// machine (data.<alias>, instance.state, instance.timeInStateMs,
// instancesInState.<name>, constant.<name>) and the reducer (bare local
// aliases) implement this over their own scope; spec.md §4.10 says a
// missing identifier resolves to null rather than erroring.
type Resolver interface {
	Resolve(path []string) (interface{}, bool)
}

// budget bounds the wall-clock time a single Eval call may spend, per
// spec.md §4.11's "short per-call time budget (on the order of tens of
// ms)" requirement. It is checked every checkEvery node visits rather than
// via a goroutine-per-call timeout, which would leak a goroutine on a
// pathological expression (spec.md §8, DESIGN.md).
const (
	defaultBudget = 30 * time.Millisecond
	checkEvery    = 64
)

// ErrBudgetExceeded is returned when an expression exceeds its per-call
// time budget.
var ErrBudgetExceeded = fmt.Errorf("expr: time budget exceeded")

type evalState struct {
	env      Resolver
	deadline time.Time
	visits   int
}

// Eval evaluates the program against env using the default time budget.
func (p *Program) Eval(env Resolver) (interface{}, error) {
	return p.EvalWithBudget(env, defaultBudget)
}

// EvalWithBudget evaluates the program against env, failing with
// ErrBudgetExceeded if evaluation runs longer than budget.
func (p *Program) EvalWithBudget(env Resolver, budget time.Duration) (interface{}, error) {
	st := &evalState{env: env, deadline: time.Now().Add(budget)}
	return st.eval(p.root)
}

// EvalBool evaluates the program and coerces the result to a boolean
// (spec.md §4.10's "when" condition and §4.11's "condition" op both need
// this). A value that fails to coerce, or an evaluation error, yields
// false.
func (p *Program) EvalBool(env Resolver) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

func (s *evalState) checkBudget() error {
	s.visits++
	if s.visits%checkEvery != 0 {
		return nil
	}
	if time.Now().After(s.deadline) {
		return ErrBudgetExceeded
	}
	return nil
}

func (s *evalState) eval(n Node) (interface{}, error) {
	if err := s.checkBudget(); err != nil {
		return nil, err
	}

	switch t := n.(type) {
	case numberLit:
		return t.value, nil
	case stringLit:
		return t.value, nil
	case boolLit:
		return t.value, nil
	case nullLit:
		return nil, nil
	case identNode:
		if s.env == nil {
			return nil, nil
		}
		v, ok := s.env.Resolve(t.path)
		if !ok {
			return nil, nil
		}
		return v, nil
	case unaryNode:
		return s.evalUnary(t)
	case binaryNode:
		return s.evalBinary(t)
	case ternaryNode:
		return s.evalTernary(t)
	case callNode:
		return s.evalCall(t)
	default:
		return nil, fmt.Errorf("expr: unknown node type %T", n)
	}
}

func (s *evalState) evalUnary(n unaryNode) (interface{}, error) {
	x, err := s.eval(n.x)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokNot:
		return !toBool(x), nil
	case tokMinus:
		f, _ := toFloat(x)
		return -f, nil
	}
	return nil, fmt.Errorf("expr: unsupported unary operator")
}

func (s *evalState) evalBinary(n binaryNode) (interface{}, error) {
	switch n.op {
	case tokAnd:
		l, err := s.eval(n.l)
		if err != nil {
			return nil, err
		}
		if !toBool(l) {
			return false, nil
		}
		r, err := s.eval(n.r)
		if err != nil {
			return nil, err
		}
		return toBool(r), nil
	case tokOr:
		l, err := s.eval(n.l)
		if err != nil {
			return nil, err
		}
		if toBool(l) {
			return true, nil
		}
		r, err := s.eval(n.r)
		if err != nil {
			return nil, err
		}
		return toBool(r), nil
	}

	l, err := s.eval(n.l)
	if err != nil {
		return nil, err
	}
	r, err := s.eval(n.r)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokEq:
		return valuesEqual(l, r), nil
	case tokNeq:
		return !valuesEqual(l, r), nil
	case tokLt, tokLte, tokGt, tokGte:
		return compare(n.op, l, r), nil
	case tokPlus:
		if ls, lok := l.(string); lok {
			rs, _ := toString(r)
			return ls + rs, nil
		}
		lf, lok := toFloat(l)
		rf, rok := toFloat(r)
		if !lok || !rok {
			return nil, nil
		}
		return lf + rf, nil
	case tokMinus, tokStar, tokSlash, tokPercent:
		lf, lok := toFloat(l)
		rf, rok := toFloat(r)
		if !lok || !rok {
			return nil, nil
		}
		switch n.op {
		case tokMinus:
			return lf - rf, nil
		case tokStar:
			return lf * rf, nil
		case tokSlash:
			if rf == 0 {
				return nil, nil
			}
			return lf / rf, nil
		case tokPercent:
			if rf == 0 {
				return nil, nil
			}
			return math.Mod(lf, rf), nil
		}
	}
	return nil, fmt.Errorf("expr: unsupported binary operator")
}

func (s *evalState) evalTernary(n ternaryNode) (interface{}, error) {
	c, err := s.eval(n.cond)
	if err != nil {
		return nil, err
	}
	if toBool(c) {
		return s.eval(n.then)
	}
	return s.eval(n.els)
}

// whitelisted Math functions (spec.md §9).
var mathFuncs = map[string]func(args []float64) (float64, bool){
	"abs":   func(a []float64) (float64, bool) { return unary(a, math.Abs) },
	"sign":  func(a []float64) (float64, bool) { return unary(a, sign) },
	"floor": func(a []float64) (float64, bool) { return unary(a, math.Floor) },
	"ceil":  func(a []float64) (float64, bool) { return unary(a, math.Ceil) },
	"round": func(a []float64) (float64, bool) { return unary(a, math.Round) },
	"sqrt":  func(a []float64) (float64, bool) { return unary(a, math.Sqrt) },
	"log":   func(a []float64) (float64, bool) { return unary(a, math.Log) },
	"exp":   func(a []float64) (float64, bool) { return unary(a, math.Exp) },
	"pow": func(a []float64) (float64, bool) {
		if len(a) != 2 {
			return 0, false
		}
		return math.Pow(a[0], a[1]), true
	},
	"min": func(a []float64) (float64, bool) {
		if len(a) == 0 {
			return 0, false
		}
		m := a[0]
		for _, v := range a[1:] {
			if v < m {
				m = v
			}
		}
		return m, true
	},
	"max": func(a []float64) (float64, bool) {
		if len(a) == 0 {
			return 0, false
		}
		m := a[0]
		for _, v := range a[1:] {
			if v > m {
				m = v
			}
		}
		return m, true
	},
}

func unary(a []float64, f func(float64) float64) (float64, bool) {
	if len(a) != 1 {
		return 0, false
	}
	return f(a[0]), true
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// evalCall implements the whitelisted "Math.<fn>(...)" call form spec.md
// §9 requires. Any other call path is rejected: the sandbox has no access
// to file, network or process APIs, and no identifier resolves outside
// the caller-provided Resolver.
func (s *evalState) evalCall(n callNode) (interface{}, error) {
	if len(n.path) != 2 || n.path[0] != "Math" {
		return nil, fmt.Errorf("expr: call to unknown function %v", n.path)
	}
	fn, ok := mathFuncs[n.path[1]]
	if !ok {
		return nil, fmt.Errorf("expr: call to unknown Math function %q", n.path[1])
	}

	args := make([]float64, 0, len(n.args))
	for _, a := range n.args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, nil
		}
		args = append(args, f)
	}

	result, ok := fn(args)
	if !ok {
		return nil, nil
	}
	return result, nil
}

func toBool(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case nil:
		return "", true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// valuesEqual implements spec.md §4.10's "comparisons with null yield
// false" alongside ordinary value equality.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}
	}
	return a == b
}

func compare(op tokenKind, a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case tokLt:
			return af < bf
		case tokLte:
			return af <= bf
		case tokGt:
			return af > bf
		case tokGte:
			return af >= bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case tokLt:
			return as < bs
		case tokLte:
			return as <= bs
		case tokGt:
			return as > bs
		case tokGte:
			return as >= bs
		}
	}
	return false
}
