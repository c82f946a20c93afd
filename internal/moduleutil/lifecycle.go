package moduleutil

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Supervisor watches for host termination signals and exposes Terminate,
// the single place every exitOnClose path (transport EOF, broken pipe)
// funnels through, so a module always shuts down the same way regardless
// of which channel triggered it (spec.md §4.3, §5).
type Supervisor struct {
	logger            *logrus.Logger
	exitInsteadOfKill bool
	onShutdown        func()

	once sync.Once
	done chan struct{}
}

// NewSupervisor builds a Supervisor. exitInsteadOfKill mirrors the
// --exit-instead-of-kill parameter: false re-raises SIGTERM against the
// process itself (the host's default process-group signal), true calls
// os.Exit(0) directly.
func NewSupervisor(logger *logrus.Logger, exitInsteadOfKill bool, onShutdown func()) *Supervisor {
	return &Supervisor{
		logger:            logger,
		exitInsteadOfKill: exitInsteadOfKill,
		onShutdown:        onShutdown,
		done:              make(chan struct{}),
	}
}

// WatchSignals installs a SIGINT/SIGTERM handler that runs onShutdown and
// exits cleanly with status 0. This is the interactive-interrupt path; it
// is independent of Terminate, which exitOnClose channels call directly.
func (s *Supervisor) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.WithField("signal", sig.String()).Info("shutdown signal received")
		s.shutdown(0)
	}()
}

// Terminate implements the exitOnClose termination policy for a closed
// read channel or a broken write channel. code is the process exit status
// to use in clean-exit mode.
func (s *Supervisor) Terminate(code int) {
	s.logger.WithField("exit_instead_of_kill", s.exitInsteadOfKill).Info("channel policy triggered termination")
	if s.exitInsteadOfKill {
		s.shutdown(code)
		return
	}
	s.once.Do(func() {
		if s.onShutdown != nil {
			s.onShutdown()
		}
		close(s.done)
	})
	signal.Reset(syscall.SIGTERM)
	_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
}

func (s *Supervisor) shutdown(code int) {
	s.once.Do(func() {
		if s.onShutdown != nil {
			s.onShutdown()
		}
		close(s.done)
	})
	os.Exit(code)
}

// Done returns a channel closed once shutdown has started, useful for
// tests that substitute a no-op os.Exit via dependency injection.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
