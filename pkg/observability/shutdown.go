package observability

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// defaultStopTimeout bounds the whole shutdown sequence
const defaultStopTimeout = 30 * time.Second

// StopFunc stops one part of the service. It must respect the deadline on
// the context it receives.
type StopFunc func(context.Context) error

type shutdownPhase struct {
	name string
	stop StopFunc
}

// ShutdownSequence stops the biller in a fixed order: phases run one after
// another in the order they were added, because ordering matters here (stop
// scheduling new sweeps before closing the listener, flush traces last).
// All phases share one deadline.
type ShutdownSequence struct {
	logger  *Logger
	timeout time.Duration
	phases  []shutdownPhase
}

// NewShutdownSequence creates a sequence. A zero timeout uses the default.
func NewShutdownSequence(logger *Logger, timeout time.Duration) *ShutdownSequence {
	if timeout == 0 {
		timeout = defaultStopTimeout
	}
	return &ShutdownSequence{logger: logger, timeout: timeout}
}

// Add appends a named phase to the sequence
func (s *ShutdownSequence) Add(name string, stop StopFunc) {
	s.phases = append(s.phases, shutdownPhase{name: name, stop: stop})
}

// Wait blocks until SIGINT or SIGTERM, then runs the sequence
func (s *ShutdownSequence) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	s.logger.WithField("signal", sig.String()).Info("shutting down")
	return s.Run()
}

// Run executes every phase in order under one shared deadline. A failing
// phase is logged and recorded but does not stop later phases; a phase that
// outlives the deadline does, since everything after it would be rushed
// anyway.
func (s *ShutdownSequence) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var failed []string
	for _, phase := range s.phases {
		errc := make(chan error, 1)
		go func(p shutdownPhase) {
			errc <- p.stop(ctx)
		}(phase)

		select {
		case err := <-errc:
			if err != nil {
				s.logger.WithError(err).WithField("phase", phase.name).Error("shutdown phase failed")
				failed = append(failed, phase.name)
			} else {
				s.logger.WithField("phase", phase.name).Info("shutdown phase complete")
			}
		case <-ctx.Done():
			return fmt.Errorf("shutdown deadline exceeded in phase %q", phase.name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("shutdown finished with failed phases: %s", strings.Join(failed, ", "))
	}
	s.logger.Info("shutdown complete")
	return nil
}
