package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/config"
)

// Client is the bridge's connection to the Gray Logic broker.
//
// It validates every publish and subscribe, remembers subscriptions so they
// come back after paho reconnects, and recovers panics in message handlers.
// The client never publishes on its own: what the broker announces when the
// connection dies is whatever Will the caller handed to Connect.
//
// Thread Safety:
//   - Every method may be called from any goroutine.
type Client struct {
	client   pahomqtt.Client
	clientID string

	// routes are replayed after each reconnect; clean sessions forget them.
	routes   map[string]route
	routesMu sync.RWMutex

	up   bool
	upMu sync.RWMutex

	hooksMu      sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the subset of logging.Logger the client writes to.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// route is one remembered subscription.
type route struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message.
//
// paho calls handlers from its own goroutines, so a slow handler holds up
// delivery on that connection.
//
// Parameters:
//   - topic: the concrete topic, wildcards already resolved
//   - payload: raw message body
//
// Returns:
//   - error: logged at warn level and otherwise ignored
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and blocks until the first CONNACK or the connect
// timeout. After that paho keeps the session alive and reconnects with
// backoff on its own.
//
// Parameters:
//   - cfg: broker address, credentials, QoS and reconnect delays
//   - will: message the broker publishes for us if the connection drops
//     without a DISCONNECT; nil registers no will
//
// Returns:
//   - *Client: connected and ready to publish
//   - error: ErrConnectionFailed wrapping the cause or the timeout
func Connect(cfg config.MQTTConfig, will *Will) (*Client, error) {
	c := &Client{
		clientID: resolveClientID(cfg),
		routes:   make(map[string]route),
	}

	opts := buildClientOptions(cfg, c.clientID)
	will.apply(opts)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// paho fires the connect handler on its own goroutine; do not wait for it.
	c.setUp(true)
	return c, nil
}

// ClientID returns the id the client presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// connected runs on the first connect and after each automatic reconnect.
func (c *Client) connected() {
	c.setUp(true)
	c.replayRoutes()

	c.hooksMu.RLock()
	hook := c.onConnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook()
	}
}

// lost runs when paho notices the connection is gone.
func (c *Client) lost(err error) {
	c.setUp(false)
	if l := c.getLogger(); l != nil {
		l.Warn("broker connection lost", "error", err)
	}

	c.hooksMu.RLock()
	hook := c.onDisconnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// replayRoutes re-issues every remembered subscription without waiting for
// the SUBACKs.
func (c *Client) replayRoutes() {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()

	for topic, rt := range c.routes {
		c.client.Subscribe(topic, rt.qos, c.wrapHandler(rt.handler))
	}
}

func (c *Client) setUp(up bool) {
	c.upMu.Lock()
	c.up = up
	c.upMu.Unlock()
}

// Close sends DISCONNECT so the broker discards the will, then drops the
// connection. Calling it on a client that never connected does nothing.
//
// Returns:
//   - error: always nil
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(disconnectQuiesceMillis)
	c.setUp(false)
	return nil
}

// HealthCheck reports whether the broker connection is usable right now.
//
// Parameters:
//   - ctx: checked before the connection state
//
// Returns:
//   - error: nil when connected, the context error when ctx is done,
//     ErrNotConnected otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected combines our own view with paho's.
func (c *Client) IsConnected() bool {
	c.upMu.RLock()
	defer c.upMu.RUnlock()
	return c.up && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers fn to run after the connection comes (back) up and
// subscriptions have been replayed. It replaces any earlier hook.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.onConnect = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = fn
	c.hooksMu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without one
// they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts handler to paho's callback type. A handler panic is
// logged and swallowed so paho's router goroutine survives.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if l := c.getLogger(); l != nil {
				l.Error("message handler panicked", "topic", topic, "panic", p)
			}
		}()

		err := handler(topic, msg.Payload())
		if err == nil {
			return
		}
		if l := c.getLogger(); l != nil {
			l.Warn("message handler failed", "topic", topic, "error", err)
		}
	}
}
