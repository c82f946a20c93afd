package transport

import (
	"strings"
	"time"

	"tmcp-go/internal/logging"
	"tmcp-go/pkg/errors"
	"tmcp-go/pkg/record"
)

// WriteOptions configures one Channel (see OpenChannel).
type WriteOptions struct {
	Protocol Protocol
	Policy   Policy
	Verbose  bool
	Logger   *logging.Logger
	Stats    *logging.Stats
	Term     Terminator
}

// Channel bundles a resolved Target with the encoder and policy needed to
// write normalized records to it repeatedly. Callers build one Channel
// per target and reuse it for every record written there.
type Channel struct {
	target *Target
	enc    encoder
	opts   WriteOptions
}

// OpenChannel resolves target and builds a reusable write Channel.
func OpenChannel(target interface{}, channelID string, opts WriteOptions) (*Channel, error) {
	t, err := resolveTarget(target, channelID)
	if err != nil {
		return nil, errors.Transient(errors.CodeChannelClosed, "transport", "open_target", err.Error()).Wrap(err)
	}
	return &Channel{target: t, enc: newEncoder(opts.Protocol, t), opts: opts}, nil
}

// Emit writes one normalized record through the channel, applying the
// retry/exitOnClose policy on transient errors.
func (c *Channel) Emit(rec record.Record) error {
	if c.opts.Verbose && c.opts.Logger != nil {
		c.opts.Logger.Info("out", map[string]interface{}{"channel": c.target.ChannelID, "record": rec})
	}
	if c.opts.Stats != nil {
		var tsPtr *float64
		if v, ok := rec.Meta.Timestamp(); ok {
			tsPtr = &v
		}
		nowMs := float64(time.Now().UnixNano()) / 1e6
		c.opts.Stats.Observe(nowMs, tsPtr, rec.Meta.Pipeline)
	}

	err := c.enc.encode(rec)
	if err == nil {
		return nil
	}

	if isTransientWriteError(err) {
		if c.opts.Policy.Retry {
			if c.opts.Logger != nil {
				c.opts.Logger.Warn("transient write error suppressed for retry", map[string]interface{}{
					"channel": c.target.ChannelID, "error": err.Error(),
				})
			}
			return nil
		}
	}

	if c.opts.Policy.ExitOnClose && c.opts.Term != nil {
		c.opts.Term.Terminate(1)
		return nil
	}

	return errors.Transient(errors.CodeWriteTransient, "transport", "write", err.Error()).Wrap(err)
}

// Close releases the underlying target.
func (c *Channel) Close() error {
	return c.target.Close()
}

// isTransientWriteError recognizes the broken-pipe / would-block /
// no-reader-on-FIFO family spec.md §4.3 says retry=true should swallow.
func isTransientWriteError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"broken pipe", "resource temporarily unavailable", "no such device or address", "connection reset"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
