// Package dispatch turns match results into bus messages and publishes them.
//
// A matched command is published on "<name>/<topic>" where <name> is the
// assistant name lower cased with spaces removed ("zhuli/light"). The payload
// is the command's static payload with the dynamic fields "action", "input"
// and "score" written over it. When publish-on-fail is enabled, transcripts
// that match nothing are published on "<name>/fail" together with the full
// score list.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/MrWong99/zhuli/internal/command"
	"github.com/MrWong99/zhuli/internal/match"
	"github.com/MrWong99/zhuli/internal/observe"
)

// FailSuffix is the topic suffix for transcripts that matched no command.
const FailSuffix = "fail"

// Publisher delivers a payload to a bus topic with at-least-once semantics.
// Implementations may queue the message and return before it reaches the
// broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Message is one outbound bus message.
type Message struct {
	Topic   string
	Payload []byte
}

// Topic returns the bus topic for suffix under the assistant called name.
func Topic(name, suffix string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "")) + "/" + suffix
}

// Option is a functional option for configuring a [Dispatcher].
type Option func(*Dispatcher)

// WithPublishOnFail enables publishing of unmatched transcripts.
func WithPublishOnFail(enabled bool) Option {
	return func(d *Dispatcher) { d.publishOnFail = enabled }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics records every publish on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = met }
}

// Dispatcher builds and publishes messages for match results.
type Dispatcher struct {
	pub           Publisher
	name          string
	table         *command.Table
	publishOnFail bool
	log           *slog.Logger
	metrics       *observe.Metrics
}

// New returns a [Dispatcher] publishing through pub for the assistant called
// name. table must be the table the results were matched against.
func New(pub Publisher, name string, table *command.Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pub:   pub,
		name:  name,
		table: table,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch publishes r. It reports whether a message was published; an
// [match.Unmatched] result is dropped when publish-on-fail is disabled.
func (d *Dispatcher) Dispatch(ctx context.Context, r match.Result) (Message, bool, error) {
	switch r := r.(type) {
	case match.Matched:
		msg, err := d.Matched(ctx, r)
		return msg, err == nil, err
	case match.Unmatched:
		return d.Unmatched(ctx, r)
	default:
		return Message{}, false, fmt.Errorf("dispatch: unexpected result type %T", r)
	}
}

// Matched publishes the message for a matched command.
func (d *Dispatcher) Matched(ctx context.Context, m match.Matched) (Message, error) {
	action, err := d.table.Get(m.Key)
	if err != nil {
		return Message{}, fmt.Errorf("dispatch: %w", err)
	}
	msg, err := MatchedMessage(d.name, action, m)
	if err != nil {
		return Message{}, err
	}
	d.log.InfoContext(ctx, "command triggered", "action", match.Display(d.name, m.Key), "topic", msg.Topic, "score", m.Score)
	return msg, d.publish(ctx, "matched", msg)
}

// Unmatched publishes the fail message when publish-on-fail is enabled and
// reports whether it did.
func (d *Dispatcher) Unmatched(ctx context.Context, u match.Unmatched) (Message, bool, error) {
	if !d.publishOnFail {
		d.log.DebugContext(ctx, "no command matched", "input", u.Input, "score", u.Scores.Best().Value)
		return Message{}, false, nil
	}
	msg, err := UnmatchedMessage(d.name, u)
	if err != nil {
		return Message{}, false, err
	}
	if err := d.publish(ctx, FailSuffix, msg); err != nil {
		return msg, false, err
	}
	return msg, true, nil
}

func (d *Dispatcher) publish(ctx context.Context, kind string, msg Message) error {
	pubCtx, span := observe.StartSpan(ctx, "dispatch.publish")
	start := time.Now()
	err := d.pub.Publish(pubCtx, msg.Topic, msg.Payload)
	observe.EndSpan(span, err)

	if d.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		d.metrics.RecordPublish(ctx, kind, status)
	}
	if err != nil {
		return fmt.Errorf("dispatch: publish %s: %w", msg.Topic, err)
	}
	d.log.DebugContext(ctx, "published", "topic", msg.Topic, "bytes", len(msg.Payload), "took", time.Since(start))
	return nil
}

// MatchedMessage builds the message for m without publishing it. The static
// payload of action is copied and the dynamic fields always win on
// collision.
func MatchedMessage(name string, action command.Action, m match.Matched) (Message, error) {
	payload := make(map[string]any, len(action.Payload)+3)
	maps.Copy(payload, action.Payload)
	payload["action"] = match.Display(name, m.Key)
	payload["input"] = m.Input
	payload["score"] = m.Score

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("dispatch: encode payload for %q: %w", m.Key, err)
	}
	return Message{Topic: Topic(name, action.Topic), Payload: data}, nil
}

// UnmatchedMessage builds the fail message for u without publishing it.
func UnmatchedMessage(name string, u match.Unmatched) (Message, error) {
	data, err := json.Marshal(struct {
		Input  string       `json:"input"`
		Scores match.Scores `json:"scores"`
	}{u.Input, u.Scores})
	if err != nil {
		return Message{}, fmt.Errorf("dispatch: encode fail payload: %w", err)
	}
	return Message{Topic: Topic(name, FailSuffix), Payload: data}, nil
}
