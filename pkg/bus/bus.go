// Package bus defines the publish side of a message bus. Concrete clients
// live in the mqtt, nats and amqp subpackages.
package bus

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus: client closed")

// Client publishes payloads to topics. Topics use "/" as the level separator;
// clients for buses with a different convention translate with [Subject].
//
// Implementations are safe for concurrent use.
type Client interface {
	// Publish hands payload to the client for delivery with at-least-once
	// semantics. It may return before the broker acknowledges the message.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Check reports an error while the client has no live broker
	// connection.
	Check(ctx context.Context) error

	// Close stops background delivery and releases the connection. It is
	// safe to call more than once.
	Close() error
}

// Subject converts a "/"-separated topic to the "."-separated form used by
// NATS subjects and AMQP routing keys.
func Subject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}
