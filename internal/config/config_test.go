package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/zhuli/internal/config"
	"github.com/MrWong99/zhuli/pkg/audio"
	audiomock "github.com/MrWong99/zhuli/pkg/audio/mock"
	"github.com/MrWong99/zhuli/pkg/bus"
	busmock "github.com/MrWong99/zhuli/pkg/bus/mock"
	"github.com/MrWong99/zhuli/pkg/provider/stt"
	sttmock "github.com/MrWong99/zhuli/pkg/provider/stt/mock"
	"github.com/MrWong99/zhuli/pkg/provider/vad"
	vadmock "github.com/MrWong99/zhuli/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
  log_format: json

assistant:
  name: Jarvis
  commands: /etc/zhuli/commands.yaml
  publish_on_fail: true
  noise_tokens: [hmm, uh]
  normalize: false

audio:
  name: wav
  sample_rate: 8000
  frame_size: 1024
  options:
    path: /tmp/session.wav

vad:
  name: energy
  energy_threshold: 500
  noise_floor: 80
  patience: 6
  max_utterance_frames: 200

providers:
  stt:
    name: whisper
    base_url: http://localhost:8080
    options:
      language: de
  stt_fallbacks:
    - name: openai
      model: whisper-1
  breaker:
    max_failures: 5
    reset_timeout: 1m

bus:
  name: mqtt
  server: broker.lan
  port: 8883
  client_id: kitchen
  keepalive: 30s
  username: zhuli
  password: secret

supervisor:
  restart_delay: 5s
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server.log_format: got %q, want %q", cfg.Server.LogFormat, config.LogFormatJSON)
	}
	if cfg.Assistant.Name != "Jarvis" || !cfg.Assistant.PublishOnFail {
		t.Errorf("assistant: got %+v", cfg.Assistant)
	}
	if cfg.Assistant.NormalizeEnabled() {
		t.Error("assistant.normalize: got true, want false")
	}
	if len(cfg.Assistant.NoiseTokens) != 2 {
		t.Errorf("assistant.noise_tokens: got %v", cfg.Assistant.NoiseTokens)
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Audio.Options["path"] != "/tmp/session.wav" {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if cfg.VAD.MaxUtteranceFrames != 200 {
		t.Errorf("vad.max_utterance_frames: got %d, want 200", cfg.VAD.MaxUtteranceFrames)
	}
	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("providers.stt.name: got %q, want %q", cfg.Providers.STT.Name, "whisper")
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Model != "whisper-1" {
		t.Errorf("providers.stt_fallbacks: got %+v", cfg.Providers.STTFallbacks)
	}
	if cfg.Providers.Breaker.ResetTimeout != time.Minute {
		t.Errorf("providers.breaker.reset_timeout: got %s, want 1m", cfg.Providers.Breaker.ResetTimeout)
	}
	if cfg.Bus.KeepAlive != 30*time.Second {
		t.Errorf("bus.keepalive: got %s, want 30s", cfg.Bus.KeepAlive)
	}
	if cfg.Supervisor.RestartDelay != 5*time.Second {
		t.Errorf("supervisor.restart_delay: got %s, want 5s", cfg.Supervisor.RestartDelay)
	}
}

func TestLoadFromReader_KeepsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("bus:\n  server: localhost\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := config.Default()
	if cfg.Assistant.Name != "Zhu Li" {
		t.Errorf("assistant.name: got %q, want %q", cfg.Assistant.Name, "Zhu Li")
	}
	if cfg.Audio.SampleRate != def.Audio.SampleRate {
		t.Errorf("audio.sample_rate: got %d, want %d", cfg.Audio.SampleRate, def.Audio.SampleRate)
	}
	if cfg.Supervisor.RestartDelay != 3*time.Second {
		t.Errorf("supervisor.restart_delay: got %s, want 3s", cfg.Supervisor.RestartDelay)
	}
	if !cfg.Assistant.NormalizeEnabled() {
		t.Error("normalize should default to true")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("bus:\n  server: localhost\n  qos: 2\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_EmptyNeedsBusServer(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error without bus.server, got nil")
	}
	if !strings.Contains(err.Error(), "bus.server") {
		t.Errorf("error should mention bus.server, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/zhuli.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_NoPathUsesEnvironment(t *testing.T) {
	t.Parallel()
	env := mapEnv{"MQTT_SERVER": "10.0.0.2"}
	cfg, err := config.Load("", config.WithEnv(env.lookup))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Server != "10.0.0.2" {
		t.Errorf("bus.server: got %q, want %q", cfg.Bus.Server, "10.0.0.2")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.Providers.STT.Name != "vosk" || len(cfg.Providers.STTFallbacks) != 1 {
		t.Errorf("stt = %q with %d fallbacks", cfg.Providers.STT.Name, len(cfg.Providers.STTFallbacks))
	}
	if cfg.Providers.Breaker.ResetTimeout != 30*time.Second {
		t.Errorf("breaker reset_timeout = %v, want 30s", cfg.Providers.Breaker.ResetTimeout)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	ctx := context.Background()

	tests := []struct {
		kind string
		call func() error
	}{
		{"stt", func() error { _, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"}); return err }},
		{"vad", func() error { _, err := reg.CreateVAD(config.VADConfig{Name: "nonexistent"}); return err }},
		{"audio", func() error { _, err := reg.CreateAudio(config.AudioConfig{Name: "nonexistent"}); return err }},
		{"bus", func() error { _, err := reg.CreateBus(ctx, config.BusConfig{Name: "nonexistent"}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
			}
			if err != nil && !strings.Contains(err.Error(), tt.kind+"/") {
				t.Errorf("error should name the kind %q, got: %v", tt.kind, err)
			}
		})
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantSTT := &sttmock.Provider{}
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		return wantSTT, nil
	})
	wantVAD := &vadmock.Engine{}
	reg.RegisterVAD("stub", func(config.VADConfig) (vad.Engine, error) {
		return wantVAD, nil
	})
	wantAudio := &audiomock.Source{}
	reg.RegisterAudio("stub", func(config.AudioConfig) (audio.Source, error) {
		return wantAudio, nil
	})
	wantBus := &busmock.Client{}
	var gotServer string
	reg.RegisterBus("stub", func(_ context.Context, cfg config.BusConfig) (bus.Client, error) {
		gotServer = cfg.Server
		return wantBus, nil
	})

	if got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"}); err != nil || got != wantSTT {
		t.Errorf("CreateSTT: got %v, %v", got, err)
	}
	if got, err := reg.CreateVAD(config.VADConfig{Name: "stub"}); err != nil || got != wantVAD {
		t.Errorf("CreateVAD: got %v, %v", got, err)
	}
	if got, err := reg.CreateAudio(config.AudioConfig{Name: "stub"}); err != nil || got != wantAudio {
		t.Errorf("CreateAudio: got %v, %v", got, err)
	}
	got, err := reg.CreateBus(context.Background(), config.BusConfig{Name: "stub", Server: "broker"})
	if err != nil || got != wantBus {
		t.Errorf("CreateBus: got %v, %v", got, err)
	}
	if gotServer != "broker" {
		t.Errorf("bus factory saw server %q, want %q", gotServer, "broker")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	factoryErr := errors.New("model not found")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, factoryErr
	})
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, factoryErr) {
		t.Errorf("expected factory error, got: %v", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	first, second := &sttmock.Provider{}, &sttmock.Provider{}
	reg.RegisterSTT("vosk", func(config.ProviderEntry) (stt.Provider, error) { return first, nil })
	reg.RegisterSTT("vosk", func(config.ProviderEntry) (stt.Provider, error) { return second, nil })

	got, err := reg.CreateSTT(config.ProviderEntry{Name: "vosk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Error("later registration should win")
	}
}
