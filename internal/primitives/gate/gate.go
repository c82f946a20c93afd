// Package gate implements the activation gate primitive (spec.md §4.4):
// it blocks every record until one satisfies every configured block, then
// latches open forever. Structurally grounded on the teacher's
// pkg/backpressure.Manager (Config+logger+mutex-guarded state, one
// evaluation entrypoint); the threshold/level state machine itself does
// not survive, since the gate's condition language is record-field based,
// not system-metric based.
package gate

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tmcp-go/pkg/record"
)

// Block is one configured condition set. A record opens the gate only
// when it satisfies every configured Block.
type Block struct {
	MustHave  []string           `yaml:"mustHave"`
	MinValues map[string]float64 `yaml:"minValues"`
	BoolEqual map[string]bool    `yaml:"boolEqual"`
	StrEqual  map[string]string  `yaml:"strEqual"`
	MaxAgeMs  *float64           `yaml:"maxAgeMs"`
	TimeoutMs *float64           `yaml:"timeoutMs"`
}

// Config configures a Gate instance.
type Config struct {
	Blocks []Block
	Tag    string
}

// Gate evaluates records against Config.Blocks until one opens it, then
// passes every subsequent record unconditionally (spec.md §4.4: "latched
// open forever"). A Gate is driven by a single caller goroutine per
// spec.md §5's single-logical-thread model; the mutex only guards the
// timeout-warning timer, which fires from its own goroutine.
type Gate struct {
	cfg    Config
	logger *logrus.Logger

	mu         sync.Mutex
	open       bool
	startedAt  time.Time
	warned     bool
	timeoutAt  time.Time
	hasTimeout bool
	stopTimer  chan struct{}
}

// New builds a Gate. If cfg has no blocks, the gate opens on the first
// record (spec.md §4.4: "Empty configuration -> gate opens on the first
// record").
func New(cfg Config, logger *logrus.Logger) *Gate {
	g := &Gate{cfg: cfg, logger: logger, startedAt: time.Now()}

	var maxTimeout float64
	for _, b := range cfg.Blocks {
		if b.TimeoutMs != nil && *b.TimeoutMs > maxTimeout {
			maxTimeout = *b.TimeoutMs
			g.hasTimeout = true
		}
	}
	if g.hasTimeout {
		g.timeoutAt = g.startedAt.Add(time.Duration(maxTimeout) * time.Millisecond)
		g.stopTimer = make(chan struct{})
		go g.watchTimeout()
	}

	return g
}

func (g *Gate) watchTimeout() {
	timer := time.NewTimer(time.Until(g.timeoutAt))
	defer timer.Stop()
	select {
	case <-g.stopTimer:
		return
	case <-timer.C:
		g.mu.Lock()
		opened := g.open
		already := g.warned
		g.warned = true
		g.mu.Unlock()
		if !opened && !already && g.logger != nil {
			g.logger.Warn("gate timeout elapsed without opening")
		}
	}
}

// Evaluate processes one input record. It returns the (possibly tagged)
// record and whether it should be forwarded: false while the gate is
// still closed and rec did not open it.
func (g *Gate) Evaluate(rec record.Record) (record.Record, bool) {
	g.mu.Lock()
	alreadyOpen := g.open
	g.mu.Unlock()

	if !alreadyOpen {
		if len(g.cfg.Blocks) == 0 || g.satisfiesAllBlocks(rec) {
			g.mu.Lock()
			g.open = true
			if g.stopTimer != nil {
				close(g.stopTimer)
				g.stopTimer = nil
			}
			g.mu.Unlock()
		} else {
			return rec, false
		}
	}

	record.AppendTag(&rec.Meta, g.cfg.Tag)
	return rec, true
}

// satisfiesAllBlocks reports whether rec satisfies every block in
// cfg.Blocks. spec.md §4.4 says "every block simultaneously",
// i.e. all blocks in cfg.Blocks must each independently be satisfied.
func (g *Gate) satisfiesAllBlocks(rec record.Record) bool {
	for _, b := range g.cfg.Blocks {
		if !g.satisfiesBlock(rec, b) {
			return false
		}
	}
	return true
}

func (g *Gate) satisfiesBlock(rec record.Record, b Block) bool {
	for _, key := range b.MustHave {
		v, ok := rec.Data[key]
		if !ok || v == nil {
			return false
		}
	}

	for key, min := range b.MinValues {
		v, ok := toFloat(rec.Data[key])
		if !ok || v < min {
			return false
		}
	}

	for key, want := range b.BoolEqual {
		v, _ := rec.Data[key].(bool)
		if want {
			if !v {
				return false
			}
		} else {
			if v {
				return false
			}
		}
	}

	for key, want := range b.StrEqual {
		v, ok := rec.Data[key].(string)
		if !ok || v != want {
			return false
		}
	}

	if b.MaxAgeMs != nil {
		ts, ok := rec.Meta.Timestamp()
		if !ok {
			return false
		}
		ageMs := float64(time.Now().UnixMilli()) - ts
		if ageMs > *b.MaxAgeMs {
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

// Close stops the timeout-warning timer if one is running.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopTimer != nil {
		close(g.stopTimer)
		g.stopTimer = nil
	}
}
