// Package amqp implements [bus.Client] for an AMQP 0-9-1 broker such as
// RabbitMQ. Messages go to a durable topic exchange with the topic, "/"
// replaced by ".", as routing key. They are persistent and every publish
// waits for the broker's confirm.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MrWong99/zhuli/pkg/bus"
)

const (
	// DefaultPort is the standard AMQP port.
	DefaultPort = 5672

	// DefaultExchange is the exchange messages are published to.
	DefaultExchange = "zhuli"
)

var (
	// ErrNotConnected is returned by Check while the connection is down.
	ErrNotConnected = errors.New("amqp: not connected")

	// ErrNacked is returned by Publish when the broker rejects a message.
	ErrNacked = errors.New("amqp: message not acknowledged by broker")
)

// Option is a functional option for [Dial].
type Option func(*options)

type options struct {
	exchange  string
	heartbeat time.Duration
	log       *slog.Logger
}

// WithExchange sets the topic exchange name. Default: "zhuli".
func WithExchange(name string) Option {
	return func(o *options) { o.exchange = name }
}

// WithHeartbeat sets the connection heartbeat interval. Default: 60s.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithLogger sets the logger for connection events. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Client publishes to an AMQP exchange. It implements [bus.Client].
type Client struct {
	exchange string
	log      *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

var _ bus.Client = (*Client)(nil)

// ServerURL builds an amqp:// URL. Credentials are optional.
func ServerURL(host string, port int, username, password string) string {
	if port == 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	return u.String()
}

// Dial connects to the broker at serverURL, declares the exchange and puts
// the channel into confirm mode. Unlike the MQTT and NATS clients it does not
// reconnect; a lost connection fails Publish and the pipeline is rebuilt.
func Dial(serverURL string, opts ...Option) (*Client, error) {
	o := options{
		exchange:  DefaultExchange,
		heartbeat: 60 * time.Second,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := amqp.DialConfig(serverURL, amqp.Config{
		Heartbeat:  o.heartbeat,
		Properties: amqp.Table{"connection_name": "zhuli"},
	})
	if err != nil {
		return nil, fmt.Errorf("amqp: connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(o.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: declare exchange %s: %w", o.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: confirm mode: %w", err)
	}

	c := &Client{exchange: o.exchange, log: o.log, conn: conn, ch: ch}
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	o.log.Info("amqp connected", "exchange", o.exchange)
	return c, nil
}

func (c *Client) watch(closed <-chan *amqp.Error) {
	reason, ok := <-closed
	if !ok || reason == nil {
		return
	}
	c.log.Warn("amqp connection lost", "reason", reason.Reason, "code", reason.Code)
}

// RoutingKey returns the routing key for topic.
func RoutingKey(topic string) string { return bus.Subject(topic) }

// Publish implements [bus.Client]. It blocks until the broker confirms the
// message or ctx ends.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return bus.ErrClosed
	}
	key := RoutingKey(topic)
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, c.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("amqp: publish %s: %w", key, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp: confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("amqp: publish %s: %w", key, ErrNacked)
	}
	return nil
}

// Check implements [bus.Client].
func (c *Client) Check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return bus.ErrClosed
	}
	if c.conn.IsClosed() {
		return ErrNotConnected
	}
	return nil
}

// Close implements [bus.Client].
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn.IsClosed() {
		return nil
	}
	_ = c.ch.Close()
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("amqp: close: %w", err)
	}
	return nil
}
