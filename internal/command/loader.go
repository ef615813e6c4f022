package command

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the command table file at path. Both JSON and YAML are accepted.
//
// Example (JSON):
//
//	{
//	  "turn on the light": {"topic": "light", "threshold": 0.72},
//	  "play some music":   {"topic": "music", "threshold": 0.8, "payload": {"volume": 40}}
//	}
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("command: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("command: parse %q: %w", path, err)
	}
	return t, nil
}

// Parse decodes a command table from r. The top-level document must be a
// mapping from trigger phrase to entry; entry order is preserved.
//
// Each entry accepts the fields topic, threshold and payload. The older
// "score" field is read as an alias for threshold. Unknown fields, missing
// topics, and thresholds outside [0, 1] are rejected; every problem found is
// reported in the returned error.
func Parse(r io.Reader) (*Table, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("command: table is empty")
		}
		return nil, fmt.Errorf("command: decode: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("command: line %d: top level must be a mapping of phrase to entry", root.Line)
	}

	var (
		actions []Action
		errs    []error
	)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		a, err := decodeEntry(keyNode, valNode)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		actions = append(actions, a)
	}
	t, err := NewTable(actions...)
	if err != nil || len(errs) > 0 {
		return nil, errors.Join(append(errs, err)...)
	}
	return t, nil
}

// entry mirrors one command file entry. Pointers distinguish absent fields
// from zero values.
type entry struct {
	Topic     string         `yaml:"topic"`
	Threshold *float64       `yaml:"threshold"`
	Score     *float64       `yaml:"score"`
	Payload   map[string]any `yaml:"payload"`
}

var knownEntryFields = map[string]bool{
	"topic":     true,
	"threshold": true,
	"score":     true,
	"payload":   true,
}

func decodeEntry(keyNode, valNode *yaml.Node) (Action, error) {
	if keyNode.Kind != yaml.ScalarNode {
		return Action{}, fmt.Errorf("command: line %d: phrase must be a string", keyNode.Line)
	}
	key := keyNode.Value
	fail := func(format string, args ...any) error {
		return fmt.Errorf("command: entry %q (line %d): %s", key, valNode.Line, fmt.Sprintf(format, args...))
	}

	if valNode.Kind != yaml.MappingNode {
		return Action{}, fail("entry must be a mapping")
	}
	for j := 0; j+1 < len(valNode.Content); j += 2 {
		if f := valNode.Content[j].Value; !knownEntryFields[f] {
			return Action{}, fail("unknown field %q", f)
		}
	}

	var e entry
	if err := valNode.Decode(&e); err != nil {
		return Action{}, fail("%v", err)
	}

	threshold := e.Threshold
	switch {
	case e.Threshold != nil && e.Score != nil:
		return Action{}, fail("threshold and score are mutually exclusive")
	case e.Threshold == nil && e.Score == nil:
		return Action{}, fail("threshold is required")
	case e.Threshold == nil:
		threshold = e.Score
	}

	return Action{
		Key:       key,
		Topic:     e.Topic,
		Threshold: *threshold,
		Payload:   e.Payload,
	}, nil
}
