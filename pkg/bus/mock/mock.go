// Package mock provides an in-memory [bus.Client] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/zhuli/pkg/bus"
)

// Message is one recorded Publish call.
type Message struct {
	Topic   string
	Payload []byte
}

// Client records published messages. Set the error fields before use.
type Client struct {
	mu sync.Mutex

	// PublishErr is returned by every Publish call.
	PublishErr error

	// CheckErr is returned by Check.
	CheckErr error

	// CloseErr is returned by Close.
	CloseErr error

	messages       []Message
	closeCallCount int
}

var _ bus.Client = (*Client)(nil)

// Publish implements [bus.Client]. The payload is copied.
func (c *Client) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCallCount > 0 {
		return bus.ErrClosed
	}
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.messages = append(c.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Check implements [bus.Client].
func (c *Client) Check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CheckErr
}

// Close implements [bus.Client].
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCallCount++
	return c.CloseErr
}

// Messages returns a copy of the published messages.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// CloseCallCount returns how often Close was called.
func (c *Client) CloseCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCallCount
}
