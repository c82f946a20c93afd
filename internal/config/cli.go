package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

// cliState memoizes LoadCLI per registry: spec.md §4.2 requires argv/env
// parsing to happen "exactly once".
type cliState struct {
	once     sync.Once
	accessor *Accessor
	err      error
}

var cliStates sync.Map // *Registry -> *cliState

// LoadCLI parses args (a module passes os.Args[1:]) and the environment against everything
// registered on r, exactly once per registry. Precedence is CLI > ENV >
// default (spec.md §4.2). A required parameter or positional slot with no
// resolved value returns a usage error; callers print help and exit
// non-zero.
func (r *Registry) LoadCLI(args []string) (*Accessor, error) {
	stateIface, _ := cliStates.LoadOrStore(r, &cliState{})
	state := stateIface.(*cliState)

	state.once.Do(func() {
		state.accessor, state.err = r.loadCLIOnce(args)
	})
	return state.accessor, state.err
}

func (r *Registry) loadCLIOnce(args []string) (*Accessor, error) {
	fs := pflag.NewFlagSet(r.ModuleName, pflag.ContinueOnError)
	fs.SetOutput(nilWriter{})

	boolVals := make(map[string]*bool)
	strVals := make(map[string]*string)

	for _, p := range r.params {
		if p.TakesValue {
			def := ""
			if s, ok := p.Default.(string); ok {
				def = s
			} else if p.Default != nil {
				def = fmt.Sprintf("%v", p.Default)
			}
			v := fs.StringP(p.Long, p.Short, def, p.Description)
			strVals[p.Long] = v
		} else {
			def := false
			if b, ok := p.Default.(bool); ok {
				def = b
			}
			v := fs.BoolP(p.Long, p.Short, def, p.Description)
			boolVals[p.Long] = v
			if p.Negatable {
				nv := fs.Bool("no-"+p.Long, !def, "")
				boolVals["no-"+p.Long] = nv
			}
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	acc := newAccessor()

	for _, p := range r.params {
		path := "param." + p.Long
		var resolved interface{}
		var has bool

		if p.TakesValue {
			if fs.Changed(p.Long) {
				resolved, has = *strVals[p.Long], true
			} else if p.Env != "" {
				if ev, ok := os.LookupEnv(p.Env); ok {
					resolved, has = ev, true
				}
			}
			if !has && p.Default != nil {
				resolved, has = p.Default, true
			}
		} else {
			switch {
			case p.Negatable && fs.Changed("no-"+p.Long):
				resolved, has = false, true
			case fs.Changed(p.Long):
				resolved, has = *boolVals[p.Long], true
			default:
				if p.Env != "" {
					if ev, ok := os.LookupEnv(p.Env); ok {
						if b, err := strconv.ParseBool(ev); err == nil {
							resolved, has = b, true
						}
					}
				}
				if !has {
					def := false
					if b, ok := p.Default.(bool); ok {
						def = b
					}
					resolved, has = def, true
				}
			}
		}

		if !has && p.Required {
			return nil, requiredValueError("parameter", p.Long)
		}
		acc.set(path, resolved, p, !p.RuntimeMutable)
	}

	positionalArgs := fs.Args()
	if err := r.bindPositionals(acc, positionalArgs); err != nil {
		return nil, err
	}

	return acc, nil
}

func (r *Registry) bindPositionals(acc *Accessor, args []string) error {
	n := len(r.positionals)
	for i, slot := range r.positionals {
		path := fmt.Sprintf("positionals.%d", i)
		namedPath := "positionals." + slot.Name

		if slot.Variadic {
			rest := []string{}
			if i < len(args) {
				rest = args[i:]
			}
			if slot.Required && len(rest) == 0 {
				return requiredValueError("positional", slot.Name)
			}
			acc.set(path, rest, slot, false)
			acc.set(namedPath, rest, slot, false)
			return nil
		}

		if i >= len(args) {
			if slot.Required {
				return requiredValueError("positional", slot.Name)
			}
			continue
		}
		acc.set(path, args[i], slot, false)
		acc.set(namedPath, args[i], slot, false)
	}

	if n == 0 || !r.positionals[n-1].Variadic {
		if len(args) > n {
			return fmt.Errorf("config: unexpected extra positional arguments: %s",
				strings.Join(args[n:], " "))
		}
	}
	return nil
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }
