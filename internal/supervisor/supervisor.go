// Package supervisor keeps the listening pipeline alive.
//
// A [Supervisor] builds a [Pipeline] and steps it until the context is
// cancelled. Any other failure, including a panic, closes the pipeline,
// counts down the restart delay and builds a fresh one. Only a failure of the
// very first build is returned to the caller, since it means the process was
// never able to listen.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/MrWong99/zhuli/internal/observe"
)

// DefaultRestartDelay is the pause between a failure and the rebuild.
const DefaultRestartDelay = 3 * time.Second

// ErrNotRunning is returned by [Supervisor.Check] while no pipeline is
// listening.
var ErrNotRunning = errors.New("supervisor: pipeline not running")

// State is the supervisor's lifecycle state.
type State int32

const (
	// StateStarting is the state before the first pipeline is built.
	StateStarting State = iota

	// StateRunning means a pipeline is listening.
	StateRunning

	// StateRecovering means the last pipeline failed and a new one is
	// about to be built.
	StateRecovering

	// StateStopped means Run has returned.
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pipeline is one fully wired listen → transcribe → match → dispatch chain.
type Pipeline interface {
	// Step handles one utterance. It returns io.EOF when the audio source
	// is exhausted.
	Step(ctx context.Context) error

	// Close releases the microphone and the bus connection.
	Close() error
}

// Builder constructs a fresh [Pipeline].
type Builder func(ctx context.Context) (Pipeline, error)

// Option is a functional option for configuring a [Supervisor].
type Option func(*Supervisor)

// WithRestartDelay sets the pause before a rebuild. Default: 3s.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.restartDelay = d }
}

// WithStopOnEOF makes Run return nil when the audio source ends instead of
// treating the end as a failure. Use it for finite sources such as a WAV
// file.
func WithStopOnEOF(stop bool) Option {
	return func(s *Supervisor) { s.stopOnEOF = stop }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithMetrics records restarts and failures on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(s *Supervisor) { s.metrics = met }
}

// Supervisor runs pipelines and recovers from their failures.
type Supervisor struct {
	build        Builder
	restartDelay time.Duration
	stopOnEOF    bool
	log          *slog.Logger
	metrics      *observe.Metrics

	state    atomic.Int32
	restarts atomic.Int64
}

// New returns a [Supervisor] that builds pipelines with build.
func New(build Builder, opts ...Option) *Supervisor {
	s := &Supervisor{
		build:        build,
		restartDelay: DefaultRestartDelay,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current state. It is safe to call from any goroutine.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Restarts returns how many times a pipeline has been rebuilt after a
// failure.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Check reports [ErrNotRunning] unless a pipeline is listening. It has the
// signature of a readiness checker. The error names the state and the
// restart count so far.
func (s *Supervisor) Check(context.Context) error {
	if st := s.State(); st != StateRunning {
		return fmt.Errorf("%w (%s, %d restarts)", ErrNotRunning, st, s.Restarts())
	}
	return nil
}

// Run builds and steps pipelines until ctx is cancelled, in which case it
// returns nil. It returns an error only when the first build fails.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.state.Store(int32(StateStopped))

	for first := true; ; first = false {
		if ctx.Err() != nil {
			return nil
		}

		var p Pipeline
		err := protect(func() error {
			var err error
			p, err = s.build(ctx)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if first {
				return fmt.Errorf("supervisor: build pipeline: %w", err)
			}
			s.fail(ctx, "build", err)
			if s.countdown(ctx) != nil {
				return nil
			}
			continue
		}

		s.state.Store(int32(StateRunning))
		err = s.loop(ctx, p)
		if cerr := p.Close(); cerr != nil {
			s.log.Warn("closing pipeline", "err", cerr)
		}

		switch {
		case ctx.Err() != nil:
			s.log.Warn("terminating")
			return nil
		case errors.Is(err, io.EOF) && s.stopOnEOF:
			s.log.Info("audio source ended")
			return nil
		}

		s.fail(ctx, "step", err)
		if s.countdown(ctx) != nil {
			return nil
		}
	}
}

// loop steps p until it fails. It never returns nil.
func (s *Supervisor) loop(ctx context.Context, p Pipeline) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := protect(func() error { return p.Step(ctx) }); err != nil {
			return err
		}
	}
}

func (s *Supervisor) fail(ctx context.Context, stage string, err error) {
	s.state.Store(int32(StateRecovering))
	s.log.Error("pipeline failed", "stage", stage, "err", err)
	if s.metrics != nil {
		s.metrics.RecordPipelineError(ctx, stage)
	}
}

// countdown waits the restart delay, logging once per second. It returns
// ctx's error when cancelled first.
func (s *Supervisor) countdown(ctx context.Context) error {
	s.log.Warn("restarting in", "delay", s.restartDelay)
	for remaining := s.restartDelay; remaining > 0; {
		s.log.Warn("restarting", "in", remaining)
		step := min(remaining, time.Second)
		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		remaining -= step
	}
	s.restarts.Add(1)
	if s.metrics != nil {
		s.metrics.Restarts.Add(ctx, 1)
	}
	return nil
}

// PanicError wraps a value recovered from a panicking pipeline.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", e.Value, e.Stack)
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
