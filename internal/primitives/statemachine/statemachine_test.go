package statemachine

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

func TestTransitionFiresOnCondition(t *testing.T) {
	cfg := Config{
		Tag: "fsm",
		States: map[string]StateDef{
			"idle":    {Transitions: []Transition{{When: mustExpr(t, "data.ready == true"), Goto: "running"}}},
			"running": {Transitions: []Transition{{When: mustExpr(t, "data.ready == false"), Goto: "idle"}}},
		},
		Instances: map[string]InstanceDef{
			"main": {InitialState: "idle", Inputs: map[string]string{"ready": "ready"}, StateField: "state"},
		},
	}
	m := New(cfg, nil)

	out := m.Evaluate(record.Record{Data: map[string]interface{}{"ready": false}})
	require.Equal(t, "idle", out.Data["state"])

	out = m.Evaluate(record.Record{Data: map[string]interface{}{"ready": true}})
	require.Equal(t, "running", out.Data["state"])

	out = m.Evaluate(record.Record{Data: map[string]interface{}{"ready": true}})
	require.Equal(t, "running", out.Data["state"], "no transition matches running->running again, state invariant")
}

func TestMultiPassChaining(t *testing.T) {
	cfg := Config{
		States: map[string]StateDef{
			"a": {Transitions: []Transition{{When: mustExpr(t, "true"), Goto: "b"}}},
			"b": {Transitions: []Transition{{When: mustExpr(t, "true"), Goto: "c"}}},
			"c": {},
		},
		Instances: map[string]InstanceDef{
			"x": {InitialState: "a", Inputs: map[string]string{}, StateField: "state"},
		},
		Passes: 2,
	}
	m := New(cfg, nil)
	out := m.Evaluate(record.Record{Data: map[string]interface{}{}})
	require.Equal(t, "c", out.Data["state"])
}

func TestInstancesInStateCount(t *testing.T) {
	cfg := Config{
		States: map[string]StateDef{
			"idle": {Transitions: []Transition{{When: mustExpr(t, "instancesInState.idle >= 2"), Goto: "crowded"}}},
			"crowded": {},
		},
		Instances: map[string]InstanceDef{
			"a": {InitialState: "idle", Inputs: map[string]string{}, StateField: "a_state"},
			"b": {InitialState: "idle", Inputs: map[string]string{}, StateField: "b_state"},
		},
	}
	m := New(cfg, nil)
	out := m.Evaluate(record.Record{Data: map[string]interface{}{}})
	require.Equal(t, "crowded", out.Data["a_state"])
	require.Equal(t, "crowded", out.Data["b_state"])
}

func TestNoTransitionLeavesStateAndTimeInvariant(t *testing.T) {
	cfg := Config{
		States: map[string]StateDef{
			"idle": {Transitions: []Transition{{When: mustExpr(t, "false"), Goto: "running"}}},
		},
		Instances: map[string]InstanceDef{
			"main": {InitialState: "idle", Inputs: map[string]string{}, StateField: "state"},
		},
	}
	m := New(cfg, nil)
	before := m.instances["main"].enteredAt
	out := m.Evaluate(record.Record{Data: map[string]interface{}{}})
	require.Equal(t, "idle", out.Data["state"])
	require.Equal(t, before, m.instances["main"].enteredAt)
}
