// Package app wires the Zhu Li subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the command table and
// prepares the long-lived engines, Run hands a pipeline builder to the
// supervisor and blocks until the context ends, and Shutdown releases what
// New acquired.
//
// Each pipeline built by the supervisor opens its own microphone, VAD session,
// recognizer and bus connection, so a failure anywhere in the chain is
// recovered by throwing the whole pipeline away and building a fresh one.
//
// For testing, inject mock implementations through [Providers] and the
// functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/zhuli/internal/command"
	"github.com/MrWong99/zhuli/internal/config"
	"github.com/MrWong99/zhuli/internal/dispatch"
	"github.com/MrWong99/zhuli/internal/health"
	"github.com/MrWong99/zhuli/internal/listen"
	"github.com/MrWong99/zhuli/internal/match"
	"github.com/MrWong99/zhuli/internal/observe"
	"github.com/MrWong99/zhuli/internal/supervisor"
	"github.com/MrWong99/zhuli/pkg/audio"
	"github.com/MrWong99/zhuli/pkg/bus"
	"github.com/MrWong99/zhuli/pkg/provider/stt"
	"github.com/MrWong99/zhuli/pkg/provider/vad"
)

// ErrNoBus is reported by the bus readiness check while no pipeline holds a
// connection.
var ErrNoBus = errors.New("app: no bus connection")

// Providers holds what the pipelines are built from. STT and VAD live for the
// whole process; Audio and Bus are called once per pipeline build. Populated
// by main.go via the config registry.
type Providers struct {
	STT   stt.Provider
	VAD   vad.Engine
	Audio func(ctx context.Context) (audio.Source, error)
	Bus   func(ctx context.Context) (bus.Client, error)
}

// App owns all subsystem lifetimes and orchestrates the listening pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	table     *command.Table
	matcher   *match.Matcher
	sup       *supervisor.Supervisor
	stopOnEOF bool
	log       *slog.Logger
	metrics   *observe.Metrics

	mu  sync.Mutex
	bus bus.Client

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCommandTable injects a command table instead of loading
// assistant.commands.
func WithCommandTable(t *command.Table) Option {
	return func(a *App) { a.table = t }
}

// WithStopOnEOF ends Run when the audio source runs dry. Set it for WAV
// replay.
func WithStopOnEOF(stop bool) Option {
	return func(a *App) { a.stopOnEOF = stop }
}

// WithLogger sets the logger handed to every subsystem. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCloser registers fn to run during Shutdown, after the app's own
// resources. main uses it for engines that hold native memory.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and providers. It loads and validates the
// command table, so a malformed table is a startup error.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	switch {
	case providers == nil:
		return nil, errors.New("app: providers are required")
	case providers.STT == nil:
		return nil, errors.New("app: an STT provider is required")
	case providers.VAD == nil:
		return nil, errors.New("app: a VAD engine is required")
	case providers.Audio == nil:
		return nil, errors.New("app: an audio source factory is required")
	case providers.Bus == nil:
		return nil, errors.New("app: a bus factory is required")
	}

	// ── 2. Command table ─────────────────────────────────────────────────
	if a.table == nil {
		t, err := command.Load(cfg.Assistant.Commands)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.table = t
	}
	a.log.Info("loaded command table", "path", cfg.Assistant.Commands, "commands", a.table.Len())

	// ── 3. Matcher ───────────────────────────────────────────────────────
	a.matcher = match.New(cfg.Assistant.Name, a.table,
		match.WithLogger(a.log),
		match.WithMetrics(a.metrics),
	)

	// ── 4. Supervisor ────────────────────────────────────────────────────
	a.sup = supervisor.New(a.build,
		supervisor.WithRestartDelay(cfg.Supervisor.RestartDelay),
		supervisor.WithStopOnEOF(a.stopOnEOF),
		supervisor.WithLogger(a.log),
		supervisor.WithMetrics(a.metrics),
	)

	return a, nil
}

// Table returns the loaded command table.
func (a *App) Table() *command.Table { return a.table }

// Supervisor returns the supervisor driving the pipelines.
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Checkers returns the readiness probes for /readyz: the pipeline state, the
// bus connection of the current pipeline, and the speech engines when the
// STT provider can report on them.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{
		health.Named("pipeline", a.sup),
		{Name: "bus", Check: a.checkBus},
	}
	if p, ok := a.providers.STT.(health.Probe); ok {
		checks = append(checks, health.Named("stt", p))
	}
	return checks
}

func (a *App) checkBus(ctx context.Context) error {
	a.mu.Lock()
	c := a.bus
	a.mu.Unlock()
	if c == nil {
		return ErrNoBus
	}
	return c.Check(ctx)
}

func (a *App) setBus(c bus.Client) {
	a.mu.Lock()
	a.bus = c
	a.mu.Unlock()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens until ctx is cancelled and returns nil. It returns an error
// only when the first pipeline cannot be built.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("listening", "assistant", a.cfg.Assistant.Name, "commands", a.table.Keys())
	return a.sup.Run(ctx)
}

// build opens everything one pipeline needs. On failure whatever was already
// opened is closed again.
func (a *App) build(ctx context.Context) (_ supervisor.Pipeline, err error) {
	var undo []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			if cerr := undo[i](); cerr != nil {
				a.log.Warn("cleanup after failed build", "err", cerr)
			}
		}
	}()

	src, err := a.providers.Audio(ctx)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}
	undo = append(undo, src.Close)

	sess, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:      a.cfg.Audio.SampleRate,
		EnergyThreshold: a.cfg.VAD.EnergyThreshold,
		NoiseFloor:      a.cfg.VAD.NoiseFloor,
		Patience:        a.cfg.VAD.Patience,
	})
	if err != nil {
		return nil, fmt.Errorf("start vad session: %w", err)
	}
	undo = append(undo, sess.Close)

	rec, err := a.providers.STT.NewRecognizer(ctx, stt.Config{
		SampleRate: a.cfg.Audio.SampleRate,
		Language:   optString(a.cfg.Providers.STT.Options, "language"),
	})
	if err != nil {
		return nil, fmt.Errorf("start recognizer: %w", err)
	}
	undo = append(undo, rec.Close)

	client, err := a.providers.Bus(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	a.setBus(client)

	trOpts := []stt.TranscriberOption{
		stt.WithNormalize(a.cfg.Assistant.NormalizeEnabled()),
		stt.WithLogger(a.log),
	}
	if len(a.cfg.Assistant.NoiseTokens) > 0 {
		trOpts = append(trOpts, stt.WithNoiseTokens(a.cfg.Assistant.NoiseTokens...))
	}

	return &pipeline{
		src:  src,
		sess: sess,
		seg: listen.New(src, sess,
			listen.WithMaxFrames(a.cfg.VAD.MaxUtteranceFrames),
			listen.WithLogger(a.log),
		),
		transcriber: stt.NewTranscriber(rec, trOpts...),
		matcher:     a.matcher,
		dispatcher: dispatch.New(client, a.cfg.Assistant.Name, a.table,
			dispatch.WithPublishOnFail(a.cfg.Assistant.PublishOnFail),
			dispatch.WithLogger(a.log),
			dispatch.WithMetrics(a.metrics),
		),
		client:     client,
		sampleRate: a.cfg.Audio.SampleRate,
		log:        a.log,
		metrics:    a.metrics,
		onClose:    func() { a.setBus(nil) },
	}, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// optString extracts a string value from an Options map. Returns "" if the
// map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
