// Package config provides the configuration schema, loader, and provider
// registry for the Zhu Li voice command dispatcher.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log handler.
type LogFormat string

const (
	// LogFormatTint writes coloured, human-readable lines.
	LogFormatTint LogFormat = "tint"

	// LogFormatText writes logfmt-style key=value lines.
	LogFormatText LogFormat = "text"

	// LogFormatJSON writes one JSON object per line.
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatTint || f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Bus        BusConfig        `yaml:"bus"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// ServerConfig holds the health/metrics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics.
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the log handler.
	LogFormat LogFormat `yaml:"log_format"`
}

// AssistantConfig describes who is listening and what it reacts to.
type AssistantConfig struct {
	// Name is spoken before every command ("Zhu Li, turn on the light") and,
	// lower cased without spaces, prefixes every bus topic.
	Name string `yaml:"name"`

	// Commands is the path of the JSON or YAML command table.
	Commands string `yaml:"commands"`

	// PublishOnFail publishes transcripts that match no command on
	// "<name>/fail".
	PublishOnFail bool `yaml:"publish_on_fail"`

	// NoiseTokens are transcripts dropped in addition to "huh".
	NoiseTokens []string `yaml:"noise_tokens"`

	// Normalize lower-cases transcripts and strips punctuation before
	// matching. Nil means true.
	Normalize *bool `yaml:"normalize"`
}

// NormalizeEnabled reports the effective Normalize value.
func (a AssistantConfig) NormalizeEnabled() bool {
	return a.Normalize == nil || *a.Normalize
}

// AudioConfig selects and configures the frame source.
type AudioConfig struct {
	// Name selects the registered source ("portaudio", "wav").
	Name string `yaml:"name"`

	// SampleRate is the pipeline sample rate in Hz. The speech engine
	// receives audio at this rate.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per frame.
	FrameSize int `yaml:"frame_size"`

	// Options holds source-specific values: "path" and "realtime" for the
	// wav source.
	Options map[string]any `yaml:"options"`
}

// VADConfig configures the voice activity detector.
type VADConfig struct {
	// Name selects the registered engine ("energy").
	Name string `yaml:"name"`

	// EnergyThreshold is the RMS level at which speech is present.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// NoiseFloor is the RMS level of the room when nobody speaks.
	NoiseFloor float64 `yaml:"noise_floor"`

	// Patience is the starting weight drained by quiet frames.
	Patience float64 `yaml:"patience"`

	// MaxUtteranceFrames cuts utterances that run this long. 0 disables
	// the cap.
	MaxUtteranceFrames int `yaml:"max_utterance_frames"`
}

// ProvidersConfig declares the speech engine and its fallbacks. Each entry
// selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// STT is the preferred speech engine.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the preferred engine fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// Breaker configures the circuit breaker each engine is wrapped in.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "vosk", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1",
	// "nova-3") or, for local engines, the model path.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig configures per-engine circuit breakers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. 0 uses the default of 3.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects calls. 0 uses the
	// default of 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// BusConfig selects and configures the message bus client.
type BusConfig struct {
	// Name selects the registered client ("mqtt", "nats", "amqp").
	Name string `yaml:"name"`

	// Server is the broker host, or a full URL.
	Server string `yaml:"server"`

	// Port is the broker port. 0 uses the client's standard port.
	Port int `yaml:"port"`

	// ClientID identifies the MQTT client. Empty picks a random one.
	ClientID string `yaml:"client_id"`

	// KeepAlive is the keepalive or heartbeat interval.
	KeepAlive time.Duration `yaml:"keepalive"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Options holds client-specific values, e.g. "exchange" for amqp.
	Options map[string]any `yaml:"options"`
}

// SupervisorConfig configures pipeline recovery.
type SupervisorConfig struct {
	// RestartDelay is the countdown between a failure and the rebuild.
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// Default returns the configuration used when no file is given. Its values
// match the historical environment defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
			LogFormat:  LogFormatTint,
		},
		Assistant: AssistantConfig{
			Name:     "Zhu Li",
			Commands: "commands.json",
		},
		Audio: AudioConfig{
			Name:       "portaudio",
			SampleRate: 16000,
			FrameSize:  4096,
		},
		VAD: VADConfig{
			Name:            "energy",
			EnergyThreshold: 300,
			NoiseFloor:      50,
			Patience:        10,
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "vosk"},
		},
		Bus: BusConfig{
			Name:      "mqtt",
			KeepAlive: 60 * time.Second,
		},
		Supervisor: SupervisorConfig{
			RestartDelay: 3 * time.Second,
		},
	}
}
