// Package split implements the split/tee primitive (spec.md §4.7): copy
// every record to stdout and to N side targets, with side-channel
// failures fully isolated from the primary chain. Structurally grounded
// on the teacher's pkg/workerpool.WorkerPool (Config+logger+metrics
// counters, a fan-out-to-many-workers shape), but side writes here go
// through internal/transport.Channel directly rather than a worker pool:
// spec.md's split is single-logical-thread (per §5) and each side
// channel's non-blocking-write-or-discard behavior is already transport's
// job, not a scheduling concern.
package split

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"tmcp-go/internal/metrics"
	"tmcp-go/internal/transport"
	"tmcp-go/pkg/record"
)

// Config configures a Split instance.
type Config struct {
	Tag         string
	ModuleName  string
	SidePaths   []string
}

// Split copies each record to a primary Channel and a list of side
// Channels opened with retry=true, exitOnClose=false (spec.md §4.7).
type Split struct {
	cfg     Config
	logger  *logrus.Logger
	primary *transport.Channel
	sides   []*transport.Channel
}

// New wraps the already-open primary channel (normally stdout) and opens
// one side channel per path in cfg.SidePaths.
func New(cfg Config, logger *logrus.Logger, primary *transport.Channel, protocol transport.Protocol) (*Split, error) {
	s := &Split{cfg: cfg, logger: logger, primary: primary}

	for i, path := range cfg.SidePaths {
		channelID := sideChannelID(i)
		ch, err := transport.OpenChannel(path, channelID, transport.WriteOptions{
			Protocol: protocol,
			Policy:   transport.Policy{ExitOnClose: false, Retry: true},
			Logger:   nil,
		})
		if err != nil {
			return nil, err
		}
		s.sides = append(s.sides, ch)
	}

	return s, nil
}

func sideChannelID(i int) string {
	return "side:" + strconv.Itoa(i)
}

// Forward tags rec, writes it to the primary channel (subject to the
// primary's own exitOnClose policy), then to every side channel
// independently (a side failure never affects the primary or its
// siblings).
func (s *Split) Forward(rec record.Record) error {
	record.AppendTag(&rec.Meta, s.cfg.Tag)

	if err := s.primary.Emit(rec); err != nil {
		return err
	}

	for i, side := range s.sides {
		if err := side.Emit(rec); err != nil {
			if s.logger != nil {
				s.logger.WithField("side", i).WithError(err).Warn("side channel write failed, continuing")
			}
			metrics.RecordDropped(s.cfg.ModuleName, "split_side_error")
		}
	}
	return nil
}

// Close releases every side channel.
func (s *Split) Close() {
	for _, side := range s.sides {
		side.Close()
	}
}
