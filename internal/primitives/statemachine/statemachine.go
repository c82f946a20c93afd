// Package statemachine implements the state-machine annotator primitive
// (spec.md §4.10): one or more independent, configuration-defined FSMs
// evaluated per record, each annotating output data with its current
// state. Structurally grounded on the teacher's pkg/positions state
// bookkeeping (named entities each carrying their own small piece of
// mutable state, guarded by one mutex, logged on transition) but the
// transition conditions themselves come from internal/expr rather than
// any hard-coded Go logic, since spec.md's transitions are
// configuration-defined. Each instance also carries a uuid.UUID so
// transition log lines stay disambiguated across config reloads that
// reuse an instance name (spec.md §7, grounded on edirooss-zmux-server's
// use of google/uuid for stable session identity).
package statemachine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tmcp-go/internal/expr"
	"tmcp-go/pkg/record"
)

// Transition is one configured state-change rule: if When evaluates true,
// the instance moves to Goto.
type Transition struct {
	When *expr.Program
	Goto string
}

// StateDef is one named state's ordered list of transitions, evaluated in
// declaration order; the first true "when" wins (spec.md §4.10).
type StateDef struct {
	Transitions []Transition
}

// InstanceDef configures one independent FSM running inside the
// annotator.
type InstanceDef struct {
	InitialState string
	// Inputs maps a local alias used in "when" expressions (data.<alias>)
	// to the data field it reads.
	Inputs map[string]string
	// StateField is the output data key this instance's current state
	// name is written to.
	StateField string
}

// Config configures a Machine instance.
type Config struct {
	Tag       string
	States    map[string]StateDef
	Instances map[string]InstanceDef
	Constants map[string]interface{}
	// Passes is the number of transitions that may chain within a single
	// record for one instance (spec.md §4.10, default 1).
	Passes int
}

type instanceState struct {
	def       InstanceDef
	id        uuid.UUID
	state     string
	enteredAt float64
}

// Machine evaluates Config.Instances against Config.States for every
// incoming record.
type Machine struct {
	cfg    Config
	logger *logrus.Logger

	mu        sync.Mutex
	instances map[string]*instanceState
	order     []string // declaration order, for deterministic instancesInState snapshots
}

// New builds a Machine, seeding every instance at its InitialState (or the
// zero value "" if unset).
func New(cfg Config, logger *logrus.Logger) *Machine {
	if cfg.Passes < 1 {
		cfg.Passes = 1
	}
	m := &Machine{cfg: cfg, logger: logger, instances: make(map[string]*instanceState)}

	names := make([]string, 0, len(cfg.Instances))
	for name := range cfg.Instances {
		names = append(names, name)
	}
	sort.Strings(names)
	now := float64(time.Now().UnixMilli())
	for _, name := range names {
		def := cfg.Instances[name]
		m.instances[name] = &instanceState{def: def, id: uuid.New(), state: def.InitialState, enteredAt: now}
		m.order = append(m.order, name)
	}
	return m
}

// Evaluate runs every instance's transitions against rec, writes each
// instance's current state into rec.Data[StateField], and appends the
// configured tag.
func (m *Machine) Evaluate(rec record.Record) record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := float64(time.Now().UnixMilli())
	ts, ok := rec.Meta.Timestamp()
	if !ok {
		ts = now
	}

	instancesInState := m.snapshotCounts()

	for _, name := range m.order {
		inst := m.instances[name]
		for pass := 0; pass < m.cfg.Passes; pass++ {
			nextState, fired := m.firstMatchingTransition(inst, rec, now, instancesInState)
			if !fired {
				break
			}
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{
					"instance": name, "instance_id": inst.id.String(),
					"from": inst.state, "to": nextState,
				}).Info("state transition")
			}
			inst.state = nextState
			inst.enteredAt = ts
		}
		if inst.def.StateField != "" {
			rec.Data[inst.def.StateField] = inst.state
		}
	}

	record.AppendTag(&rec.Meta, m.cfg.Tag)
	return rec
}

func (m *Machine) snapshotCounts() map[string]int {
	counts := make(map[string]int)
	for _, name := range m.order {
		counts[m.instances[name].state]++
	}
	return counts
}

func (m *Machine) firstMatchingTransition(inst *instanceState, rec record.Record, now float64, instancesInState map[string]int) (string, bool) {
	stateDef, ok := m.cfg.States[inst.state]
	if !ok {
		return "", false
	}
	env := &resolver{
		machine: m, inst: inst, rec: rec, now: now, instancesInState: instancesInState,
	}
	for _, tr := range stateDef.Transitions {
		if tr.When == nil {
			continue
		}
		ok, err := tr.When.EvalBool(env)
		if err != nil {
			if m.logger != nil {
				m.logger.WithError(err).Warn("state machine transition expression failed")
			}
			continue
		}
		if ok {
			return tr.Goto, true
		}
	}
	return "", false
}

// resolver implements expr.Resolver for one instance's "when" evaluation,
// per spec.md §4.10's identifier grammar.
type resolver struct {
	machine          *Machine
	inst             *instanceState
	rec              record.Record
	now              float64
	instancesInState map[string]int
}

func (r *resolver) Resolve(path []string) (interface{}, bool) {
	if len(path) < 2 {
		return nil, false
	}
	switch path[0] {
	case "data":
		field, ok := r.inst.def.Inputs[path[1]]
		if !ok {
			return nil, false
		}
		v, ok := r.rec.Data[field]
		return v, ok
	case "instance":
		switch path[1] {
		case "state":
			return r.inst.state, true
		case "timeInStateMs":
			return r.now - r.inst.enteredAt, true
		}
	case "instancesInState":
		count, ok := r.instancesInState[path[1]]
		return float64(count), ok
	case "constant":
		v, ok := r.machine.cfg.Constants[path[1]]
		return v, ok
	}
	return nil, false
}

// Describe renders a one-line human summary of every instance's current
// state, useful for --verbose diagnostics.
func (m *Machine) Describe() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := ""
	for i, name := range m.order {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%s", name, m.instances[name].state)
	}
	return out
}
