// Package command holds the command table: the set of trigger phrases the
// assistant reacts to, each bound to a bus topic, an acceptance threshold, and
// an optional static payload.
//
// A [Table] is loaded once at startup (see [Load] and [Parse]) and is
// read-only afterwards. It is safe for concurrent use.
package command

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
)

// ErrNotFound is returned by [Table.Get] when no action exists for a phrase.
var ErrNotFound = errors.New("command: action not found")

// Action is a single command table entry.
type Action struct {
	// Key is the trigger phrase (e.g., "turn on the light").
	Key string

	// Topic is the bus topic suffix the action publishes to.
	Topic string

	// Threshold is the minimum similarity score in [0, 1] required to accept
	// a match for this action.
	Threshold float64

	// Payload holds extra static fields merged into the outbound message.
	// Nil when the entry defines no payload.
	Payload map[string]any
}

// Table is an immutable, ordered collection of actions keyed by phrase.
// Iteration order is the order in which entries appeared in the source file.
type Table struct {
	keys    []string
	actions map[string]Action
}

// NewTable builds a table from actions in the given order. It returns an error
// if any action is invalid or a key is repeated.
func NewTable(actions ...Action) (*Table, error) {
	t := &Table{
		keys:    make([]string, 0, len(actions)),
		actions: make(map[string]Action, len(actions)),
	}
	var errs []error
	for _, a := range actions {
		if err := a.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := t.actions[a.Key]; dup {
			errs = append(errs, &EntryError{Key: a.Key, Reason: "duplicate phrase"})
			continue
		}
		a.Payload = clonePayload(a.Payload)
		t.keys = append(t.keys, a.Key)
		t.actions[a.Key] = a
	}
	if len(actions) == 0 {
		errs = append(errs, errors.New("command: table is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return t, nil
}

// Len returns the number of actions in the table.
func (t *Table) Len() int { return len(t.keys) }

// Keys returns the trigger phrases in table order. The returned slice is a copy.
func (t *Table) Keys() []string { return slices.Clone(t.keys) }

// Get returns the action registered under key. The payload of the returned
// action is a deep copy and may be modified freely.
func (t *Table) Get(key string) (Action, error) {
	a, ok := t.actions[key]
	if !ok {
		return Action{}, ErrNotFound
	}
	a.Payload = clonePayload(a.Payload)
	return a, nil
}

// All iterates over the actions in table order. Payloads are shared with the
// table and must not be modified.
func (t *Table) All() iter.Seq2[string, Action] {
	return func(yield func(string, Action) bool) {
		for _, k := range t.keys {
			if !yield(k, t.actions[k]) {
				return
			}
		}
	}
}

func (a Action) validate() error {
	switch {
	case a.Key == "":
		return &EntryError{Key: a.Key, Reason: "phrase must not be empty"}
	case a.Topic == "":
		return &EntryError{Key: a.Key, Reason: "topic is required"}
	case !(a.Threshold >= 0 && a.Threshold <= 1):
		return &EntryError{Key: a.Key, Reason: "threshold must be in [0, 1]"}
	}
	return nil
}

// EntryError describes a malformed command table entry.
type EntryError struct {
	Key    string
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("command: entry %q: %s", e.Key, e.Reason)
}

// clonePayload deep-copies nested maps and slices so callers can never reach
// the table's own payload values.
func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return clonePayload(vv)
	case []any:
		s := make([]any, len(vv))
		for i, e := range vv {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
