package transport

// Policy carries the two lifecycle bits a channel resolves before its
// first read or write (spec.md §3 "Channel").
type Policy struct {
	ExitOnClose bool
	Retry       bool
}

// defaultPolicies holds the built-in defaults for the three standard
// streams; every other channel defaults to {false, false}.
var defaultPolicies = map[string]Policy{
	"stdin":  {ExitOnClose: true, Retry: false},
	"stdout": {ExitOnClose: true, Retry: false},
	"stderr": {ExitOnClose: true, Retry: false},
}

func defaultPolicyFor(channelID string) Policy {
	if p, ok := defaultPolicies[channelID]; ok {
		return p
	}
	return Policy{}
}

// Option is the per-call override a module passes to Read/Write for one
// channel; nil fields fall through to the next resolution step.
type Option struct {
	ExitOnClose *bool
	Retry       *bool
	// Linger is the legacy alias: exitOnClose = !linger. It is resolved
	// after ExitOnClose, so when both are set Linger wins.
	Linger *bool
}

// ResolvePolicy implements the deterministic resolution order spec.md
// §4.3 requires: built-in default -> module option -> legacy linger alias
// -> global --exit-on-close/--retry parameter. globalExitOnClose and
// globalRetry are the parsed channelId=bool maps from the universal CLI
// parameters (moduleutil.ParseChannelBoolMap); either may be nil.
func ResolvePolicy(channelID string, opt Option, globalExitOnClose, globalRetry map[string]bool) Policy {
	p := defaultPolicyFor(channelID)

	if opt.ExitOnClose != nil {
		p.ExitOnClose = *opt.ExitOnClose
	}
	if opt.Linger != nil {
		p.ExitOnClose = !*opt.Linger
	}
	if opt.Retry != nil {
		p.Retry = *opt.Retry
	}

	if v, ok := globalExitOnClose[channelID]; ok {
		p.ExitOnClose = v
	}
	if v, ok := globalRetry[channelID]; ok {
		p.Retry = v
	}

	return p
}
