package config

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteUsage renders the auto-generated usage block spec.md §4.2 describes:
// a one-line signature, the parameter list, the positionals list, and a
// JSON skeleton of the config-field schema.
func (r *Registry) WriteUsage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [options]", r.ModuleName)
	for _, slot := range r.positionals {
		name := slot.Name
		if slot.Variadic {
			name += "..."
		}
		if slot.Required {
			fmt.Fprintf(w, " <%s>", name)
		} else {
			fmt.Fprintf(w, " [%s]", name)
		}
	}
	fmt.Fprintln(w)

	if len(r.params) > 0 {
		fmt.Fprintln(w, "\nparameters:")
		for _, p := range r.params {
			forms := "--" + p.Long
			if p.Short != "" {
				forms += ", -" + p.Short
			}
			if p.Negatable {
				forms += " / --no-" + p.Long
			}
			req := ""
			if p.Required {
				req = " (required)"
			}
			mut := ""
			if p.RuntimeMutable {
				mut = " [runtime-mutable]"
			}
			fmt.Fprintf(w, "  %-30s env=%-24s default=%-10v%s%s  %s\n",
				forms, p.Env, p.Default, req, mut, p.Description)
		}
	}

	if len(r.positionals) > 0 {
		fmt.Fprintln(w, "\npositionals:")
		for i, slot := range r.positionals {
			fmt.Fprintf(w, "  [%d] %-20s required=%v variadic=%v\n", i, slot.Name, slot.Required, slot.Variadic)
		}
	}

	if len(r.configFields) > 0 {
		skeleton := make(map[string]interface{})
		for _, f := range r.configFields {
			skeleton[f.Path] = f.Default
		}
		body, _ := json.MarshalIndent(skeleton, "", "  ")
		fmt.Fprintln(w, "\nconfig schema:")
		fmt.Fprintln(w, string(body))
	}
}
