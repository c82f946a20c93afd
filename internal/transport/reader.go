package transport

import (
	"io"
	"time"

	"tmcp-go/internal/logging"
	"tmcp-go/pkg/errors"
	"tmcp-go/pkg/record"
)

// Terminator is the subset of moduleutil.Supervisor the transport layer
// needs: the single funnel every exitOnClose path runs through.
type Terminator interface {
	Terminate(code int)
}

// ReadOptions configures one Read call.
type ReadOptions struct {
	Protocol Protocol
	Policy   Policy
	Verbose  bool
	Logger   *logging.Logger
	Stats    *logging.Stats
	// Term receives the exitOnClose termination request on EOF. A nil
	// Term means the caller handles EOF itself (used by tests).
	Term Terminator
}

// Read opens source (see resolveSource), decodes records with opts'
// protocol, normalizes each one, and invokes onRecord. Malformed NDJSON
// lines are logged and skipped; malformed MessagePack values are logged
// at error level and the stream continues (spec.md §4.3). On a clean EOF,
// Read applies opts.Policy.ExitOnClose via opts.Term, then returns nil.
func Read(source interface{}, onRecord func(record.Record) error, opts ReadOptions) error {
	rc, channelID, err := resolveSource(source)
	if err != nil {
		return errors.Transient(errors.CodeChannelClosed, "transport", "open_source", err.Error()).Wrap(err)
	}
	defer rc.Close()

	dec := newDecoder(opts.Protocol, rc)

	for {
		value, malformed, err := dec.next()
		if malformed != nil {
			if opts.Logger != nil {
				fields := map[string]interface{}{
					"channel": channelID, "error": malformed.Error(),
				}
				if opts.Protocol == ProtocolMsgPack {
					opts.Logger.Error("malformed record skipped", fields)
				} else {
					opts.Logger.Warn("malformed record skipped", fields)
				}
			}
		} else if value != nil {
			rec := record.Normalize(value)
			if opts.Verbose && opts.Logger != nil {
				opts.Logger.Info("in", map[string]interface{}{"channel": channelID, "record": rec})
			}
			if opts.Stats != nil {
				var tsPtr *float64
				if v, ok := rec.Meta.Timestamp(); ok {
					tsPtr = &v
				}
				nowMs := float64(time.Now().UnixNano()) / 1e6
				opts.Stats.Observe(nowMs, tsPtr, rec.Meta.Pipeline)
			}
			if cbErr := onRecord(rec); cbErr != nil {
				return cbErr
			}
		}

		if err == io.EOF {
			if opts.Policy.ExitOnClose && opts.Term != nil {
				opts.Term.Terminate(0)
			}
			return nil
		}
		if err != nil {
			return errors.Transient(errors.CodeDecodeMalformed, "transport", "read", err.Error()).Wrap(err)
		}
	}
}
