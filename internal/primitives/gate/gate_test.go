package gate

import (
	"testing"

	"github.com/sirupsen/logrus"

	"tmcp-go/pkg/record"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestEmptyConfigOpensImmediately(t *testing.T) {
	g := New(Config{Tag: "gate"}, testLogger())
	_, passed := g.Evaluate(record.Normalize(map[string]interface{}{"data": map[string]interface{}{}}))
	if !passed {
		t.Fatal("expected empty config to open on first record")
	}
}

func TestBlockMustHave(t *testing.T) {
	g := New(Config{Blocks: []Block{{MustHave: []string{"ready"}}}, Tag: "gate"}, testLogger())

	_, passed := g.Evaluate(record.Normalize(map[string]interface{}{"data": map[string]interface{}{}}))
	if passed {
		t.Fatal("expected block without mustHave key to fail to open")
	}

	out, passed := g.Evaluate(record.Normalize(map[string]interface{}{"data": map[string]interface{}{"ready": true}}))
	if !passed {
		t.Fatal("expected record with ready=true to open the gate")
	}
	if len(out.Meta.Pipeline) != 1 || out.Meta.Pipeline[0] != "gate" {
		t.Fatalf("expected tag appended, got %v", out.Meta.Pipeline)
	}
}

func TestLatchesOpenForever(t *testing.T) {
	g := New(Config{Blocks: []Block{{MustHave: []string{"ready"}}}}, testLogger())
	g.Evaluate(record.Normalize(map[string]interface{}{"data": map[string]interface{}{"ready": true}}))

	_, passed := g.Evaluate(record.Normalize(map[string]interface{}{"data": map[string]interface{}{}}))
	if !passed {
		t.Fatal("expected gate to stay open for subsequent records lacking the condition")
	}
}

func TestMinValuesAndBoolEqual(t *testing.T) {
	g := New(Config{Blocks: []Block{{
		MinValues: map[string]float64{"speed": 10},
		BoolEqual: map[string]bool{"armed": true},
	}}}, testLogger())

	_, passed := g.Evaluate(record.Normalize(map[string]interface{}{"data": map[string]interface{}{"speed": 5.0, "armed": true}}))
	if passed {
		t.Fatal("expected low speed to fail the block")
	}

	_, passed = g.Evaluate(record.Normalize(map[string]interface{}{"data": map[string]interface{}{"speed": 15.0, "armed": true}}))
	if !passed {
		t.Fatal("expected speed>=10 and armed=true to open the gate")
	}
}
