package command_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/zhuli/internal/command"
)

func TestParse_JSONPreservesOrder(t *testing.T) {
	t.Parallel()
	src := `{
		"turn on the light": {"topic": "light", "threshold": 0.72},
		"play some music": {"topic": "music", "threshold": 0.8, "payload": {"volume": 40}},
		"good night": {"topic": "scene", "score": 0.9}
	}`
	tbl, err := command.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []string{"turn on the light", "play some music", "good night"}
	got := tbl.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	music, err := tbl.Get("play some music")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if music.Topic != "music" || music.Threshold != 0.8 {
		t.Errorf("music = %+v", music)
	}
	if v, ok := music.Payload["volume"]; !ok || v != 40 {
		t.Errorf("music payload volume = %v (present=%v), want 40", v, ok)
	}

	night, err := tbl.Get("good night")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if night.Threshold != 0.9 {
		t.Errorf("score alias: threshold = %v, want 0.9", night.Threshold)
	}
	if night.Payload != nil {
		t.Errorf("absent payload should be nil, got %v", night.Payload)
	}
}

func TestParse_YAML(t *testing.T) {
	t.Parallel()
	src := `
lights off:
  topic: light
  threshold: 0.7
  payload:
    state: "off"
lights on:
  topic: light
  threshold: 0.7
  payload:
    state: "on"
`
	tbl, err := command.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	if keys := tbl.Keys(); keys[0] != "lights off" {
		t.Errorf("first key = %q, want %q", keys[0], "lights off")
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"empty document", ``, "empty"},
		{"empty mapping", `{}`, "empty"},
		{"top level list", `["a", "b"]`, "mapping"},
		{"missing topic", `{"a": {"threshold": 0.5}}`, "topic is required"},
		{"missing threshold", `{"a": {"topic": "x"}}`, "threshold is required"},
		{"threshold too high", `{"a": {"topic": "x", "threshold": 1.5}}`, "[0, 1]"},
		{"negative threshold", `{"a": {"topic": "x", "threshold": -0.1}}`, "[0, 1]"},
		{"nan threshold", "turn on the light: {topic: light, threshold: .nan}", "[0, 1]"},
		{"nan score", "turn on the light: {topic: light, score: .nan}", "[0, 1]"},
		{"both threshold and score", `{"a": {"topic": "x", "threshold": 0.5, "score": 0.5}}`, "mutually exclusive"},
		{"unknown field", `{"a": {"topic": "x", "threshold": 0.5, "qos": 2}}`, `unknown field "qos"`},
		{"entry not a mapping", `{"a": "light"}`, "must be a mapping"},
		{"threshold not a number", `{"a": {"topic": "x", "threshold": "high"}}`, `"a"`},
		{"distinct phrases", "a:\n  topic: x\n  threshold: 0.5\nb:\n  topic: y\n  threshold: 0.5\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := command.Parse(strings.NewReader(tt.src))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_ReportsEveryBadEntry(t *testing.T) {
	t.Parallel()
	src := `{
		"first": {"threshold": 0.5},
		"second": {"topic": "x", "threshold": 2},
		"third": {"topic": "y", "threshold": 0.5}
	}`
	_, err := command.Parse(strings.NewReader(src))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, key := range []string{`"first"`, `"second"`} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s, got: %v", key, err)
		}
	}
	if strings.Contains(err.Error(), `"third"`) {
		t.Errorf("error should not mention the valid entry, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "commands.json")
	if err := os.WriteFile(path, []byte(`{"turn on the light": {"topic": "light", "threshold": 0.72}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	tbl, err := command.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := command.Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load missing file: err = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_ExampleTable(t *testing.T) {
	t.Parallel()
	tbl, err := command.Load("../../configs/commands.json")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	a, err := tbl.Get("stop the music")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Threshold != 0.8 {
		t.Errorf("score alias: threshold = %v, want 0.8", a.Threshold)
	}
}
