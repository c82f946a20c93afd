package dedup

import (
	"testing"

	"tmcp-go/pkg/record"
)

func rec(data map[string]interface{}) record.Record {
	return record.Normalize(map[string]interface{}{"data": data})
}

func TestFirstRecordAlwaysPasses(t *testing.T) {
	d := New(Config{Tag: "dedup"}, nil)
	_, passed := d.Evaluate(rec(map[string]interface{}{"x": 1.0}))
	if !passed {
		t.Fatal("expected first record to pass")
	}
}

func TestUnchangedRecordDropped(t *testing.T) {
	d := New(Config{}, nil)
	d.Evaluate(rec(map[string]interface{}{"x": 1.0}))
	_, passed := d.Evaluate(rec(map[string]interface{}{"x": 1.0}))
	if passed {
		t.Fatal("expected unchanged record to be dropped")
	}
}

func TestNumericTolerance(t *testing.T) {
	d := New(Config{NumericTolerance: 0.5}, nil)
	d.Evaluate(rec(map[string]interface{}{"x": 1.0}))
	_, passed := d.Evaluate(rec(map[string]interface{}{"x": 1.2}))
	if passed {
		t.Fatal("expected change within tolerance to be dropped")
	}
	_, passed = d.Evaluate(rec(map[string]interface{}{"x": 2.0}))
	if !passed {
		t.Fatal("expected change beyond tolerance to pass")
	}
}

func TestIgnoreFields(t *testing.T) {
	d := New(Config{IgnoreFields: []string{"seq"}}, nil)
	d.Evaluate(rec(map[string]interface{}{"x": 1.0, "seq": 1.0}))
	_, passed := d.Evaluate(rec(map[string]interface{}{"x": 1.0, "seq": 2.0}))
	if passed {
		t.Fatal("expected ignored field change to not trigger forward")
	}
}

func TestCheckFieldsRestrictsComparison(t *testing.T) {
	d := New(Config{CheckFields: []string{"x"}}, nil)
	d.Evaluate(rec(map[string]interface{}{"x": 1.0, "y": 1.0}))
	_, passed := d.Evaluate(rec(map[string]interface{}{"x": 1.0, "y": 99.0}))
	if passed {
		t.Fatal("expected change outside checkFields to be ignored")
	}
	_, passed = d.Evaluate(rec(map[string]interface{}{"x": 2.0, "y": 99.0}))
	if !passed {
		t.Fatal("expected change within checkFields to pass")
	}
}

func TestNestedMapShallowEquality(t *testing.T) {
	d := New(Config{}, nil)
	d.Evaluate(rec(map[string]interface{}{"pos": map[string]interface{}{"x": 1.0, "y": 2.0}}))
	_, passed := d.Evaluate(rec(map[string]interface{}{"pos": map[string]interface{}{"x": 1.0, "y": 2.0}}))
	if passed {
		t.Fatal("expected identical nested map to be dropped")
	}
	_, passed = d.Evaluate(rec(map[string]interface{}{"pos": map[string]interface{}{"x": 1.0, "y": 3.0}}))
	if !passed {
		t.Fatal("expected changed nested map to pass")
	}
}

func TestNewKeyInCurrentTriggersChange(t *testing.T) {
	d := New(Config{}, nil)
	d.Evaluate(rec(map[string]interface{}{"x": 1.0}))
	_, passed := d.Evaluate(rec(map[string]interface{}{"x": 1.0, "y": 1.0}))
	if !passed {
		t.Fatal("expected new key to trigger a change")
	}
}
