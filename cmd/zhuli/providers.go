package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/zhuli/internal/app"
	"github.com/MrWong99/zhuli/internal/config"
	"github.com/MrWong99/zhuli/internal/observe"
	"github.com/MrWong99/zhuli/internal/resilience"
	"github.com/MrWong99/zhuli/pkg/audio"
	"github.com/MrWong99/zhuli/pkg/audio/portaudio"
	"github.com/MrWong99/zhuli/pkg/audio/wavfile"
	"github.com/MrWong99/zhuli/pkg/bus"
	amqpbus "github.com/MrWong99/zhuli/pkg/bus/amqp"
	mqttbus "github.com/MrWong99/zhuli/pkg/bus/mqtt"
	natsbus "github.com/MrWong99/zhuli/pkg/bus/nats"
	"github.com/MrWong99/zhuli/pkg/provider/stt"
	"github.com/MrWong99/zhuli/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/zhuli/pkg/provider/stt/openai"
	"github.com/MrWong99/zhuli/pkg/provider/stt/vosk"
	"github.com/MrWong99/zhuli/pkg/provider/stt/whisper"
	"github.com/MrWong99/zhuli/pkg/provider/vad"
	"github.com/MrWong99/zhuli/pkg/provider/vad/energy"
)

// registerBuiltinProviders wires all built-in factories into reg. Each factory
// turns one configuration section into a ready implementation.
func registerBuiltinProviders(reg *config.Registry, logger *slog.Logger) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("vosk", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []vosk.Option
		if entry.Model != "" {
			opts = append(opts, vosk.WithModel(entry.Model))
		}
		if n := optInt(entry.Options, "chunk_bytes"); n > 0 {
			opts = append(opts, vosk.WithChunkBytes(n))
		}
		return vosk.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oaistt.WithPrompt(prompt))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if kw := optStrings(entry.Options, "keywords"); len(kw) > 0 {
			opts = append(opts, deepgram.WithKeywords(kw...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(cfg config.AudioConfig) (audio.Source, error) {
		return portaudio.Open(audio.Config{SampleRate: cfg.SampleRate, FrameSize: cfg.FrameSize})
	})

	reg.RegisterAudio("wav", func(cfg config.AudioConfig) (audio.Source, error) {
		path := optString(cfg.Options, "path")
		if path == "" {
			return nil, errors.New("wav: audio.options.path is required")
		}
		return wavfile.Open(path,
			audio.Config{SampleRate: cfg.SampleRate, FrameSize: cfg.FrameSize},
			wavfile.WithRealtime(optBool(cfg.Options, "realtime")),
		)
	})

	// ── Bus ───────────────────────────────────────────────────────────────────

	reg.RegisterBus("mqtt", func(ctx context.Context, cfg config.BusConfig) (bus.Client, error) {
		opts := []mqttbus.Option{
			mqttbus.WithKeepAlive(cfg.KeepAlive),
			mqttbus.WithLogger(logger),
		}
		if cfg.ClientID != "" {
			opts = append(opts, mqttbus.WithClientID(cfg.ClientID))
		}
		if cfg.Username != "" {
			opts = append(opts, mqttbus.WithCredentials(cfg.Username, cfg.Password))
		}
		if d := optDuration(cfg.Options, "connect_timeout"); d > 0 {
			opts = append(opts, mqttbus.WithConnectTimeout(d))
		}
		return mqttbus.Dial(ctx, mqttbus.ServerURL(cfg.Server, cfg.Port), opts...)
	})

	reg.RegisterBus("nats", func(_ context.Context, cfg config.BusConfig) (bus.Client, error) {
		opts := []natsbus.Option{natsbus.WithLogger(logger)}
		if cfg.ClientID != "" {
			opts = append(opts, natsbus.WithName(cfg.ClientID))
		}
		if cfg.Username != "" {
			opts = append(opts, natsbus.WithCredentials(cfg.Username, cfg.Password))
		}
		if d := optDuration(cfg.Options, "connect_timeout"); d > 0 {
			opts = append(opts, natsbus.WithTimeout(d))
		}
		return natsbus.Dial(natsbus.ServerURL(cfg.Server, cfg.Port), opts...)
	})

	reg.RegisterBus("amqp", func(_ context.Context, cfg config.BusConfig) (bus.Client, error) {
		opts := []amqpbus.Option{
			amqpbus.WithHeartbeat(cfg.KeepAlive),
			amqpbus.WithLogger(logger),
		}
		if ex := optString(cfg.Options, "exchange"); ex != "" {
			opts = append(opts, amqpbus.WithExchange(ex))
		}
		return amqpbus.Dial(amqpbus.ServerURL(cfg.Server, cfg.Port, cfg.Username, cfg.Password), opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			logger.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the engines named in cfg. The returned closers
// release engines that hold resources for the life of the process.
func buildProviders(cfg *config.Config, reg *config.Registry, logger *slog.Logger, metrics *observe.Metrics) (*app.Providers, []func() error, error) {
	var closers []func() error
	track := func(p stt.Provider) {
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}
	fail := func(err error) (*app.Providers, []func() error, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, nil, err
	}

	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return fail(fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err))
	}
	track(primary)
	logger.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	speech := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Providers.Breaker.MaxFailures,
			ResetTimeout: cfg.Providers.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("speech engine breaker", "engine", name, "from", from.String(), "to", to.String())
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for i, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return fail(fmt.Errorf("create stt fallback %d %q: %w", i, entry.Name, err))
		}
		track(p)
		speech.AddFallback(entry.Name, p)
		logger.Info("provider created", "kind", "stt-fallback", "name", entry.Name)
	}

	engine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return fail(fmt.Errorf("create vad engine %q: %w", cfg.VAD.Name, err))
	}

	return &app.Providers{
		STT: speech,
		VAD: engine,
		Audio: func(context.Context) (audio.Source, error) {
			return reg.CreateAudio(cfg.Audio)
		},
		Bus: func(ctx context.Context) (bus.Client, error) {
			return reg.CreateBus(ctx, cfg.Bus)
		},
	}, closers, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from an Options map. Returns "" if the
// map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

// optDuration accepts either a Go duration string ("5s") or a number of
// seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	default:
		return 0
	}
}

func optStrings(opts map[string]any, key string) []string {
	raw, _ := opts[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
