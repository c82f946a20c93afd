package minrate

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"tmcp-go/pkg/record"
)

// TestMain verifies the background clone ticker goroutine New starts is
// always gone by the time every test in this package has returned, i.e.
// every m.Close() call actually joined m.loop.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func rec(ts float64, data map[string]interface{}) record.Record {
	r := record.Normalize(map[string]interface{}{"data": data})
	r.Meta = r.Meta.WithTimestamp(ts)
	return r
}

type captured struct {
	mu   sync.Mutex
	recs []record.Record
}

func (c *captured) emit(r record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func (c *captured) last() record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recs[len(c.recs)-1]
}

func TestForwardEmitsImmediatelyAndTags(t *testing.T) {
	cc := &captured{}
	m := New(Config{IntervalMs: 1000, Tag: "minr"}, nil, cc.emit)
	defer m.Close()

	m.Forward(rec(0, map[string]interface{}{"x": 1.0}))
	if cc.count() != 1 {
		t.Fatalf("expected one immediate emission, got %d", cc.count())
	}
	out := cc.last()
	if len(out.Meta.Pipeline) != 1 || out.Meta.Pipeline[0] != "minr" {
		t.Fatalf("expected tag appended, got %v", out.Meta.Pipeline)
	}
}

func TestBackgroundTimerClonesWhenNoNewRecordArrives(t *testing.T) {
	cc := &captured{}
	m := New(Config{IntervalMs: 20, Tag: "minr"}, nil, cc.emit)
	defer m.Close()

	m.Forward(rec(0, map[string]interface{}{"x": 1.0}))

	deadline := time.Now().Add(500 * time.Millisecond)
	for cc.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cc.count() < 2 {
		t.Fatalf("expected at least one background clone within the deadline, got %d emissions", cc.count())
	}
}

func TestCloneLogicalTimestampIsForwardOnly(t *testing.T) {
	cc := &captured{}
	m := New(Config{IntervalMs: 15, Tag: "minr"}, nil, cc.emit)
	defer m.Close()

	m.Forward(rec(1000, map[string]interface{}{"x": 1.0}))

	deadline := time.Now().Add(500 * time.Millisecond)
	for cc.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cc.count() < 3 {
		t.Fatalf("expected multiple clones within the deadline, got %d", cc.count())
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	var prev float64
	for i, r := range cc.recs {
		ts, ok := r.Meta.Timestamp()
		if !ok {
			t.Fatalf("record %d missing timestamp", i)
		}
		if i > 0 && ts <= prev {
			t.Fatalf("expected strictly increasing logical timestamps, got %v after %v", ts, prev)
		}
		prev = ts
	}
}

func TestNoCloneBeforeFirstRealRecord(t *testing.T) {
	cc := &captured{}
	m := New(Config{IntervalMs: 10, Tag: "minr"}, nil, cc.emit)
	time.Sleep(50 * time.Millisecond)
	m.Close()

	if cc.count() != 0 {
		t.Fatalf("expected no clones before any real record was forwarded, got %d", cc.count())
	}
}
