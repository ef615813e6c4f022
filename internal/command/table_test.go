package command_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/zhuli/internal/command"
)

func TestNewTable_DuplicateKey(t *testing.T) {
	t.Parallel()
	_, err := command.NewTable(
		command.Action{Key: "lights on", Topic: "light", Threshold: 0.7},
		command.Action{Key: "lights on", Topic: "other", Threshold: 0.7},
	)
	var entryErr *command.EntryError
	if !errors.As(err, &entryErr) {
		t.Fatalf("err = %v, want *EntryError", err)
	}
	if entryErr.Key != "lights on" {
		t.Errorf("EntryError.Key = %q, want %q", entryErr.Key, "lights on")
	}
}

func TestTable_GetReturnsIndependentPayload(t *testing.T) {
	t.Parallel()
	tbl, err := command.NewTable(command.Action{
		Key:       "lights on",
		Topic:     "light",
		Threshold: 0.7,
		Payload:   map[string]any{"state": "on", "nested": map[string]any{"level": 3}},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	a, _ := tbl.Get("lights on")
	a.Payload["state"] = "tampered"
	a.Payload["nested"].(map[string]any)["level"] = 99

	b, _ := tbl.Get("lights on")
	if b.Payload["state"] != "on" {
		t.Errorf("payload state mutated through copy: %v", b.Payload["state"])
	}
	if lvl := b.Payload["nested"].(map[string]any)["level"]; lvl != 3 {
		t.Errorf("nested payload mutated through copy: %v", lvl)
	}
}

func TestTable_GetUnknown(t *testing.T) {
	t.Parallel()
	tbl, err := command.NewTable(command.Action{Key: "a", Topic: "x", Threshold: 0.5})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if _, err := tbl.Get("b"); !errors.Is(err, command.ErrNotFound) {
		t.Errorf("Get unknown: err = %v, want ErrNotFound", err)
	}
}

func TestTable_AllIteratesInOrder(t *testing.T) {
	t.Parallel()
	tbl, err := command.NewTable(
		command.Action{Key: "c", Topic: "x", Threshold: 0.5},
		command.Action{Key: "a", Topic: "y", Threshold: 0.5},
		command.Action{Key: "b", Topic: "z", Threshold: 0.5},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	var got []string
	for k, a := range tbl.All() {
		if k != a.Key {
			t.Errorf("iterator key %q does not match action key %q", k, a.Key)
		}
		got = append(got, k)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All() order = %v, want %v", got, want)
		}
	}
}
