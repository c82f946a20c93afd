package delay

import (
	"testing"

	"tmcp-go/pkg/record"
)

func rec(ts float64, data map[string]interface{}) record.Record {
	r := record.Normalize(map[string]interface{}{"data": data})
	r.Meta = r.Meta.WithTimestamp(ts)
	return r
}

func TestIngestHoldsRecordUntilWatermarkReachesDelay(t *testing.T) {
	d := New(Config{DelayMs: 100, Tag: "delay"}, nil)

	out := d.Ingest(rec(0, map[string]interface{}{"x": 1.0}))
	if len(out) != 0 {
		t.Fatalf("expected nothing emitted yet, got %d", len(out))
	}

	out = d.Ingest(rec(50, map[string]interface{}{"x": 2.0}))
	if len(out) != 0 {
		t.Fatalf("expected the 100ms-delayed item to still be held at watermark 50, got %d", len(out))
	}

	out = d.Ingest(rec(100, map[string]interface{}{"x": 3.0}))
	if len(out) != 1 {
		t.Fatalf("expected exactly the first item due at watermark 100, got %d", len(out))
	}
	if out[0].Data["x"] != 1.0 {
		t.Fatalf("expected the oldest buffered item to emit first, got %v", out[0].Data["x"])
	}
}

func TestAscendingOrderAcrossMultipleEmissions(t *testing.T) {
	d := New(Config{DelayMs: 10, Tag: "delay"}, nil)
	d.Ingest(rec(0, map[string]interface{}{"x": 1.0}))
	d.Ingest(rec(5, map[string]interface{}{"x": 2.0}))
	out := d.Ingest(rec(20, map[string]interface{}{"x": 3.0}))
	if len(out) != 2 {
		t.Fatalf("expected both earlier items due by watermark 20, got %d", len(out))
	}
	if out[0].Data["x"] != 1.0 || out[1].Data["x"] != 2.0 {
		t.Fatalf("expected ascending tsOut order, got %v then %v", out[0].Data["x"], out[1].Data["x"])
	}
}

func TestFlushDrainsRegardlessOfWatermark(t *testing.T) {
	d := New(Config{DelayMs: 1000, Tag: "delay"}, nil)
	d.Ingest(rec(0, map[string]interface{}{"x": 1.0}))
	d.Ingest(rec(1, map[string]interface{}{"x": 2.0}))

	out := d.Flush()
	if len(out) != 2 {
		t.Fatalf("expected flush to drain everything, got %d", len(out))
	}

	out = d.Flush()
	if len(out) != 0 {
		t.Fatalf("expected a second flush to find nothing left, got %d", len(out))
	}
}

func TestMissingTimestampFallsBackToWallClock(t *testing.T) {
	d := New(Config{DelayMs: 10}, nil)
	r := record.Normalize(map[string]interface{}{"data": map[string]interface{}{"x": 1.0}})
	out := d.Ingest(r)
	if len(out) != 0 {
		t.Fatalf("expected nothing emitted immediately, got %d", len(out))
	}
	out = d.Flush()
	if len(out) != 1 {
		t.Fatalf("expected the lone record to flush, got %d", len(out))
	}
}

func TestTagAppendedOnEmission(t *testing.T) {
	d := New(Config{DelayMs: 0, Tag: "delay"}, nil)
	out := d.Ingest(rec(0, map[string]interface{}{"x": 1.0}))
	if len(out) != 1 {
		t.Fatalf("expected immediate emission with zero delay, got %d", len(out))
	}
	if len(out[0].Meta.Pipeline) != 1 || out[0].Meta.Pipeline[0] != "delay" {
		t.Fatalf("expected tag appended, got %v", out[0].Meta.Pipeline)
	}
}

func TestUpstreamPipelineTagsSurviveBuffering(t *testing.T) {
	d := New(Config{DelayMs: 0, Tag: "delay"}, nil)
	in := rec(0, map[string]interface{}{"x": 1.0})
	in.Meta.Pipeline = []string{"gat", "minr"}

	out := d.Ingest(in)
	if len(out) != 1 {
		t.Fatalf("expected immediate emission with zero delay, got %d", len(out))
	}
	want := []string{"gat", "minr", "delay"}
	got := out[0].Meta.Pipeline
	if len(got) != len(want) {
		t.Fatalf("expected pipeline %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected pipeline %v, got %v", want, got)
		}
	}
}
