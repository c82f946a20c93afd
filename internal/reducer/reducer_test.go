package reducer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tmcp-go/internal/expr"
	"tmcp-go/pkg/record"
)

func mustExpr(t *testing.T, src string) *expr.Program {
	t.Helper()
	p, err := expr.Parse(src)
	require.NoError(t, err)
	return p
}

func TestCopyAndSum(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "x_copy", Op: "copy", Src: "x"},
			{Name: "total", Op: "sum", InputFields: []string{"x", "y"}},
		},
		ForwardPolicy: ForwardAll,
	}
	red := New(cfg, nil)
	out, ok := red.Evaluate(record.Record{Data: map[string]interface{}{"x": 2.0, "y": 3.0}})
	require.True(t, ok)
	require.Equal(t, 2.0, out.Data["x_copy"])
	require.Equal(t, 5.0, out.Data["total"])
	require.Equal(t, 2.0, out.Data["x"], "forward_policy all keeps unknown keys")
}

func TestMissingFailDropsWholeRecord(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "total", Op: "sum", InputFields: []string{"x", "y"}, Missing: MissingFail},
		},
	}
	red := New(cfg, nil)
	_, ok := red.Evaluate(record.Record{Data: map[string]interface{}{"x": 2.0}})
	require.False(t, ok)
}

func TestMissingZeroTreatsAbsentAsZero(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "total", Op: "sum", InputFields: []string{"x", "y"}, Missing: MissingZero},
		},
	}
	red := New(cfg, nil)
	out, ok := red.Evaluate(record.Record{Data: map[string]interface{}{"x": 2.0}})
	require.True(t, ok)
	require.Equal(t, 2.0, out.Data["total"])
}

func TestForwardPolicyKnownOnlyEmitsDeclaredOutputs(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "total", Op: "sum", InputFields: []string{"x"}},
			{Name: "helper", Op: "copy", Src: "x", Temp: true},
		},
		ForwardPolicy: ForwardKnown,
	}
	red := New(cfg, nil)
	out, ok := red.Evaluate(record.Record{Data: map[string]interface{}{"x": 4.0}})
	require.True(t, ok)
	require.Equal(t, map[string]interface{}{"total": 4.0}, out.Data)
}

func TestExprAndCondition(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "doubled", Op: "expr", Locals: []LocalBinding{{Alias: "v", Field: "x"}}, Expr: mustExpr(t, "v * 2")},
			{Name: "is_high", Op: "condition", Locals: []LocalBinding{{Alias: "v", Field: "x"}}, Expr: mustExpr(t, "v > 5")},
		},
		ForwardPolicy: ForwardKnown,
	}
	red := New(cfg, nil)
	out, ok := red.Evaluate(record.Record{Data: map[string]interface{}{"x": 10.0}})
	require.True(t, ok)
	require.Equal(t, 20.0, out.Data["doubled"])
	require.Equal(t, true, out.Data["is_high"])
}

func TestMultiPassConsumesEarlierOutput(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "a", Op: "copy", Src: "x"},
			{Name: "b", Op: "expr", Locals: []LocalBinding{{Alias: "v", Field: "a"}}, Expr: mustExpr(t, "v + 1")},
		},
		Passes:        1,
		ForwardPolicy: ForwardKnown,
	}
	red := New(cfg, nil)
	out, ok := red.Evaluate(record.Record{Data: map[string]interface{}{"x": 1.0}})
	require.True(t, ok)
	require.Equal(t, 2.0, out.Data["b"])
}

func TestRetentionSeedsNextRecord(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "speed", Op: "copy", Src: "x", Retain: true},
			{Name: "delta", Op: "expr",
				Locals: []LocalBinding{{Alias: "cur", Field: "speed"}, {Alias: "prev", Field: "speed__prev"}},
				Expr:   mustExpr(t, "cur - prev"), Missing: MissingZero,
			},
		},
		ForwardPolicy: ForwardKnown,
	}
	red := New(cfg, nil)

	out, ok := red.Evaluate(record.Record{Data: map[string]interface{}{"x": 10.0}})
	require.True(t, ok)
	require.Equal(t, 0.0, out.Data["delta"], "no retained value yet, expr evaluates to null and missing:zero maps the rule's own null output to 0")

	out, ok = red.Evaluate(record.Record{Data: map[string]interface{}{"x": 15.0}})
	require.True(t, ok)
	require.Equal(t, 5.0, out.Data["delta"])
}
