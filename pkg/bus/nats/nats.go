// Package nats implements [bus.Client] for a NATS server. Topics are mapped
// to subjects by replacing "/" with ".", so "zhuli/light" is published on
// "zhuli.light".
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/zhuli/pkg/bus"
)

// DefaultPort is the standard NATS client port.
const DefaultPort = 4222

// ErrNotConnected is returned by Check while the server connection is down.
var ErrNotConnected = errors.New("nats: not connected")

// Option is a functional option for [Dial].
type Option func(*options)

type options struct {
	name     string
	username string
	password string
	timeout  time.Duration
	log      *slog.Logger
}

// WithName sets the connection name shown by the server. Default: "zhuli".
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithCredentials sets the username and password.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithTimeout bounds the initial connection attempt. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger for connection events. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Client publishes to NATS. It implements [bus.Client].
type Client struct {
	nc     *nats.Conn
	closed atomic.Bool
}

var _ bus.Client = (*Client)(nil)

// ServerURL builds the server URL for host and port.
func ServerURL(host string, port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return "nats://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial connects to the server at url. The client reconnects on its own
// until [Client.Close].
func Dial(url string, opts ...Option) (*Client, error) {
	o := options{
		name:    "zhuli",
		timeout: 5 * time.Second,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	natsOpts := []nats.Option{
		nats.Name(o.name),
		nats.Timeout(o.timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				o.log.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			o.log.Info("nats reconnected", "server", nc.ConnectedAddr())
		}),
	}
	if o.username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(o.username, o.password))
	}

	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	o.log.Info("nats connected", "server", nc.ConnectedAddr())
	return &Client{nc: nc}, nil
}

// Publish implements [bus.Client]. It flushes after publishing so that an
// unreachable server surfaces as an error.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.closed.Load() {
		return bus.ErrClosed
	}
	subject := bus.Subject(topic)
	if err := c.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats: flush %s: %w", subject, err)
	}
	return nil
}

// Check implements [bus.Client].
func (c *Client) Check(context.Context) error {
	if c.closed.Load() {
		return bus.ErrClosed
	}
	if !c.nc.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close implements [bus.Client].
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.nc.Close()
	return nil
}
