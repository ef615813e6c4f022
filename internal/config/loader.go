package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"vosk", "whisper", "whisper-native", "deepgram", "openai"},
	"vad":   {"energy"},
	"audio": {"portaudio", "wav"},
	"bus":   {"mqtt", "nats", "amqp"},
}

// LoadOption is a functional option for [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookupEnv func(string) (string, bool)
}

// WithEnv applies environment overrides read through lookup after the file
// is decoded. Pass [os.LookupEnv] for the process environment.
func WithEnv(lookup func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) { o.lookupEnv = lookup }
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// An empty path skips the file: the defaults, plus any environment
// overrides, are validated and returned.
func Load(path string, opts ...LoadOption) (*Config, error) {
	if path == "" {
		return finish(Default(), opts)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, opts)
}

func finish(cfg *Config, opts []LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.lookupEnv != nil {
		if err := ApplyEnv(cfg, o.lookupEnv); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables understood by the
// assistant. Unset variables leave the value alone. API keys are only filled
// in when the config has none.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: env %s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str("ASSISTANT_NAME", &cfg.Assistant.Name)
	str("COMMANDS_FILE", &cfg.Assistant.Commands)
	num("SAMPLE_RATE", &cfg.Audio.SampleRate)
	if v, ok := lookup("LOGGER"); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	str("MQTT_SERVER", &cfg.Bus.Server)
	num("MQTT_PORT", &cfg.Bus.Port)
	if v, ok := lookup("MQTT_ON_FAIL"); ok && v != "" {
		cfg.Assistant.PublishOnFail = strings.EqualFold(v, "true") || v == "1"
	}
	str("SPEECH_TOOLKIT", &cfg.Providers.STT.Name)
	str("VOSK_MODEL_PATH", &cfg.Providers.STT.Model)

	entries := append([]*ProviderEntry{&cfg.Providers.STT}, pointers(cfg.Providers.STTFallbacks)...)
	for _, e := range entries {
		if e.APIKey != "" {
			continue
		}
		switch e.Name {
		case "openai":
			str("OPENAI_API_KEY", &e.APIKey)
		case "deepgram":
			str("DEEPGRAM_API_KEY", &e.APIKey)
		}
	}
	return errors.Join(errs...)
}

func pointers(entries []ProviderEntry) []*ProviderEntry {
	out := make([]*ProviderEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: tint, text, json", cfg.Server.LogFormat))
	}

	// Assistant
	if strings.TrimSpace(cfg.Assistant.Name) == "" {
		errs = append(errs, errors.New("assistant.name is required"))
	}
	if cfg.Assistant.Commands == "" {
		errs = append(errs, errors.New("assistant.commands is required"))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// VAD
	if cfg.VAD.NoiseFloor >= cfg.VAD.EnergyThreshold {
		errs = append(errs, fmt.Errorf("vad.noise_floor %.1f must be below vad.energy_threshold %.1f", cfg.VAD.NoiseFloor, cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.Patience <= 0 {
		errs = append(errs, fmt.Errorf("vad.patience %.1f must be positive", cfg.VAD.Patience))
	}
	if cfg.VAD.MaxUtteranceFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.max_utterance_frames %d must not be negative", cfg.VAD.MaxUtteranceFrames))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
	}
	if cfg.Providers.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker.max_failures %d must not be negative", cfg.Providers.Breaker.MaxFailures))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("vad", cfg.VAD.Name)
	validateProviderName("audio", cfg.Audio.Name)
	validateProviderName("bus", cfg.Bus.Name)

	// Bus
	if cfg.Bus.Name == "" {
		errs = append(errs, errors.New("bus.name is required"))
	}
	if cfg.Bus.Server == "" {
		errs = append(errs, errors.New("bus.server is required (or set MQTT_SERVER)"))
	}
	if cfg.Bus.Port < 0 || cfg.Bus.Port > 65535 {
		errs = append(errs, fmt.Errorf("bus.port %d is out of range [0, 65535]", cfg.Bus.Port))
	}
	if cfg.Bus.KeepAlive < 0 {
		errs = append(errs, fmt.Errorf("bus.keepalive %s must not be negative", cfg.Bus.KeepAlive))
	}

	// Supervisor
	if cfg.Supervisor.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("supervisor.restart_delay %s must not be negative", cfg.Supervisor.RestartDelay))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or an unregistered provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
