package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/zhuli/internal/config"
)

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("MQTT_SERVER", "broker.local")

	cfg, err := loadConfig("", "DEBUG", "kitchen.wav")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Audio.Name != "wav" {
		t.Errorf("audio name = %q, want wav", cfg.Audio.Name)
	}
	if got := optString(cfg.Audio.Options, "path"); got != "kitchen.wav" {
		t.Errorf("audio path = %q, want kitchen.wav", got)
	}
	if cfg.Bus.Server != "broker.local" {
		t.Errorf("bus server = %q, want broker.local", cfg.Bus.Server)
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	t.Setenv("MQTT_SERVER", "broker.local")

	if _, err := loadConfig("", "loud", ""); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Providers.STT.APIKey = "sk-secret"
	cfg.Providers.STTFallbacks = []config.ProviderEntry{{Name: "deepgram", APIKey: "dg-secret"}, {Name: "vosk"}}
	cfg.Bus.Password = "hunter2"

	out := redacted(cfg)
	if out.Providers.STT.APIKey == "sk-secret" || out.Bus.Password == "hunter2" {
		t.Errorf("secrets not masked: %+v", out)
	}
	if out.Providers.STTFallbacks[0].APIKey == "dg-secret" {
		t.Error("fallback api key not masked")
	}
	if out.Providers.STTFallbacks[1].APIKey != "" {
		t.Errorf("empty api key became %q", out.Providers.STTFallbacks[1].APIKey)
	}
	if cfg.Providers.STTFallbacks[0].APIKey != "dg-secret" {
		t.Error("redacted modified the original config")
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"language":        "en",
		"threads":         4,
		"realtime":        true,
		"connect_timeout": "3s",
		"seconds":         2,
		"keywords":        []any{"lamp", 7, "music"},
	}

	if got := optString(opts, "language"); got != "en" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "threads"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optInt(opts, "threads"); got != 4 {
		t.Errorf("optInt = %d", got)
	}
	if !optBool(opts, "realtime") || optBool(opts, "missing") {
		t.Error("optBool mismatch")
	}
	if got := optDuration(opts, "connect_timeout"); got != 3*time.Second {
		t.Errorf("optDuration string = %v", got)
	}
	if got := optDuration(opts, "seconds"); got != 2*time.Second {
		t.Errorf("optDuration int = %v", got)
	}
	if got := optStrings(opts, "keywords"); len(got) != 2 || got[0] != "lamp" || got[1] != "music" {
		t.Errorf("optStrings = %v", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, discardLogger())

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "vosk"}); err != nil {
		t.Errorf("vosk: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err == nil {
		t.Error("whisper without base_url: expected error")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "openai"}); err == nil {
		t.Error("openai without api key: expected error")
	}
	if _, err := reg.CreateVAD(config.VADConfig{Name: "energy"}); err != nil {
		t.Errorf("energy: %v", err)
	}
	if _, err := reg.CreateAudio(config.AudioConfig{Name: "wav", SampleRate: 16000, FrameSize: 160}); err == nil {
		t.Error("wav without path: expected error")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
