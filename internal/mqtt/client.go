// Package mqtt bridges the engine to an MQTT broker: domain events are
// published under the topic prefix and per-session control topics accept
// skip and stop requests.
package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/simplui/simplui/internal/config"
	"go.uber.org/zap"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 10 * time.Second
	qos              = 1
)

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	url    string
	logger *zap.Logger

	mu        sync.Mutex
	onConnect []func()
	onChange  func(connected bool)
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// WithConnectionHandler registers fn to be told about every connect and
// connection loss. Used to feed readiness.
func WithConnectionHandler(fn func(connected bool)) Option {
	return func(c *Client) { c.onChange = fn }
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{url: cfg.URL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}

	po := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.lost(err) })
	if cfg.Username != "" {
		po.SetUsername(cfg.Username)
		po.SetPassword(cfg.Password)
	}

	c.client = paho.NewClient(po)
	return c
}

// URL returns the broker URL.
func (c *Client) URL() string { return c.url }

// OnConnect registers fn to run after every (re)connect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *Client) connected() {
	c.logger.Info("mqtt connected", zap.String("broker", c.url))
	c.mu.Lock()
	hooks := append([]func(){}, c.onConnect...)
	change := c.onChange
	c.mu.Unlock()

	if change != nil {
		change(true)
	}
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) lost(err error) {
	c.logger.Warn("mqtt connection lost", zap.String("broker", c.url), zap.Error(err))
	c.mu.Lock()
	change := c.onChange
	c.mu.Unlock()
	if change != nil {
		change(false)
	}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	token := c.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(operationTimeout) {
		return &TimeoutError{Op: "subscribe", Topic: topic}
	}
	return token.Error()
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(operationTimeout) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// TimeoutError indicates a subscribe or publish timed out.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Topic
}
