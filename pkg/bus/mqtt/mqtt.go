// Package mqtt implements [bus.Client] on top of the autopaho connection
// manager. Messages are published at QoS 1 through the manager's queue, so
// Publish returns once the message is queued and the manager retries it
// across reconnects.
package mqtt

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/MrWong99/zhuli/pkg/bus"
)

const (
	// DefaultPort is the standard MQTT port.
	DefaultPort = 1883

	// QoS is the delivery guarantee for every published message.
	QoS = 1

	defaultKeepAlive      = 60 * time.Second
	defaultConnectRetry   = 3 * time.Second
	defaultConnectTimeout = 10 * time.Second
	disconnectTimeout     = 5 * time.Second
)

// ErrNotConnected is returned by Check while the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Option is a functional option for [Dial].
type Option func(*Client)

// WithClientID sets the MQTT client identifier. Default: "zhuli-" followed by
// random characters.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithKeepAlive sets the keepalive interval, rounded down to whole seconds.
// Default: 60s.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Client) { c.keepAlive = d }
}

// WithCredentials sets the username and password sent on connect.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithConnectTimeout bounds each connection attempt. Default: 10s.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithLogger sets the logger for connection events. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client is an MQTT publisher. It implements [bus.Client].
type Client struct {
	clientID       string
	keepAlive      time.Duration
	connectTimeout time.Duration
	username       string
	password       string
	log            *slog.Logger

	cm        *autopaho.ConnectionManager
	stop      context.CancelFunc
	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ bus.Client = (*Client)(nil)

// ServerURL builds the broker URL for host and port. A host that already
// carries a scheme is returned unchanged.
func ServerURL(host string, port int) string {
	if u, err := url.Parse(host); err == nil && u.Scheme != "" && u.Host != "" {
		return host
	}
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// Dial connects to the broker at serverURL ("tcp://host:1883") and waits for
// the first connection to come up or ctx to end. After that the connection
// manager reconnects on its own until [Client.Close].
func Dial(ctx context.Context, serverURL string, opts ...Option) (*Client, error) {
	c := &Client{
		keepAlive:      defaultKeepAlive,
		connectTimeout: defaultConnectTimeout,
		log:            slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.clientID == "" {
		id, err := randomID()
		if err != nil {
			return nil, err
		}
		c.clientID = id
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt: parse server url: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     uint16(c.keepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		ConnectRetryDelay:             defaultConnectRetry,
		ConnectTimeout:                c.connectTimeout,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			c.connected.Store(true)
			c.log.Info("mqtt connection up", "server", u.Host, "client_id", c.clientID)
		},
		OnConnectError: func(err error) {
			c.connected.Store(false)
			c.log.Warn("mqtt connect failed", "server", u.Host, "err", err)
		},
		ConnectPacketBuilder: func(pc *paho.Connect, _ *url.URL) (*paho.Connect, error) {
			if c.username != "" {
				pc.UsernameFlag = true
				pc.Username = c.username
			}
			if c.password != "" {
				pc.PasswordFlag = true
				pc.Password = []byte(c.password)
			}
			return pc, nil
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnClientError: func(err error) {
				c.connected.Store(false)
				if !c.closed.Load() {
					c.log.Warn("mqtt connection lost", "err", err)
				}
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.connected.Store(false)
				c.log.Warn("mqtt server disconnected", "reason_code", d.ReasonCode)
			},
		},
	}

	runCtx, stop := context.WithCancel(context.Background())
	cm, err := autopaho.NewConnection(runCtx, cfg)
	if err != nil {
		stop()
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	c.cm = cm
	c.stop = stop
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mqtt: connect %s: %w", u.Host, err)
	}
	return c, nil
}

// Publish implements [bus.Client]. The message is queued at QoS 1.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.closed.Load() {
		return bus.ErrClosed
	}
	err := c.cm.PublishViaQueue(ctx, &autopaho.QueuePublish{
		Publish: &paho.Publish{
			Topic:   topic,
			QoS:     QoS,
			Payload: payload,
		},
	})
	if err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Check implements [bus.Client].
func (c *Client) Check(context.Context) error {
	if c.closed.Load() {
		return bus.ErrClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects from the broker and stops the connection manager.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		wasConnected := c.connected.Swap(false)
		if c.cm == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if wasConnected {
			if err := c.cm.Disconnect(ctx); err != nil {
				c.closeErr = fmt.Errorf("mqtt: disconnect: %w", err)
			}
		}
		c.stop()
		select {
		case <-c.cm.Done():
		case <-ctx.Done():
		}
	})
	return c.closeErr
}

func randomID() (string, error) {
	var b [9]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("mqtt: client id: %w", err)
	}
	return "zhuli-" + base64.RawURLEncoding.EncodeToString(b[:]), nil
}
