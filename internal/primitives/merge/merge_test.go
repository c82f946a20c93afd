package merge

import (
	"testing"

	"tmcp-go/pkg/record"
)

func mainRec(ts float64) record.Record {
	r := record.Normalize(map[string]interface{}{"data": map[string]interface{}{"m": 1.0}})
	r.Meta = r.Meta.WithTimestamp(ts)
	return r
}

func sideRec(ts float64, data map[string]interface{}) record.Record {
	r := record.Normalize(map[string]interface{}{"data": data})
	r.Meta = r.Meta.WithTimestamp(ts)
	return r
}

func TestDegenerateNonNumericMainTimestamp(t *testing.T) {
	m := New(Config{Tag: "merge", Sides: []SideConfig{{}}}, nil)
	r := record.Normalize(map[string]interface{}{"data": map[string]interface{}{"m": 1.0}})
	out := m.Forward(r)
	if out.Data["m"] != 1.0 {
		t.Fatalf("expected passthrough data, got %v", out.Data)
	}
	if len(out.Meta.Pipeline) != 1 {
		t.Fatalf("expected tag appended, got %v", out.Meta.Pipeline)
	}
}

func TestExactMatchWithinTolerance(t *testing.T) {
	m := New(Config{Sides: []SideConfig{{MatchToleranceMs: 5}}}, nil)
	m.IngestSide(0, sideRec(1000, map[string]interface{}{"v": 10.0}))

	out := m.Forward(mainRec(1002))
	if out.Data["v_1"] != 10.0 {
		t.Fatalf("expected matched side value 10.0, got %v", out.Data["v_1"])
	}
}

func TestInterpolationBetweenBeforeAndAfter(t *testing.T) {
	m := New(Config{Sides: []SideConfig{{MatchToleranceMs: 1}}}, nil)
	m.IngestSide(0, sideRec(1000, map[string]interface{}{"v": 0.0}))
	m.IngestSide(0, sideRec(2000, map[string]interface{}{"v": 10.0}))

	out := m.Forward(mainRec(1500))
	v, _ := out.Data["v_1"].(float64)
	if v < 4.9 || v > 5.1 {
		t.Fatalf("expected interpolated value ~5.0, got %v", v)
	}
}

func TestUnboundedHoldLastNeverInterpolates(t *testing.T) {
	m := New(Config{Sides: []SideConfig{{AllowUnboundedDelay: true}}}, nil)
	m.IngestSide(0, sideRec(1000, map[string]interface{}{"v": 1.0}))

	out := m.Forward(mainRec(5000))
	if out.Data["v_1"] != 1.0 {
		t.Fatalf("expected held-last value 1.0, got %v", out.Data["v_1"])
	}
}

func TestNoSideDataContributesNothing(t *testing.T) {
	m := New(Config{Sides: []SideConfig{{MatchToleranceMs: 5}}}, nil)
	out := m.Forward(mainRec(1000))
	if _, ok := out.Data["v_1"]; ok {
		t.Fatal("expected no side contribution when side has no data")
	}
}
