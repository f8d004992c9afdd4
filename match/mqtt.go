package match

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RequestHandler is called for every message on the request topic. On a
// decode failure req may be nil or partially filled and err is set.
type RequestHandler func(req *RankRequest, err error)

// MQTTClient manages the MQTT connection and the request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     RequestHandler
	logger      *slog.Logger
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates and connects the MQTT client.
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this
// returns nil.
func InitMQTT(config *Config, handler RequestHandler, logger *slog.Logger) (*MQTTClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		logger.Info("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || config.MQTT.RequestTopic == "" {
		return nil, fmt.Errorf("MQTT enabled but no request topic configured")
	}

	client := &MQTTClient{
		config:  config,
		handler: handler,
		logger:  logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "rugmatch"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the request subscription across reconnects
	opts.SetOrderMatters(false) // requests are independent

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info("connecting to MQTT broker")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.logger.Warn("MQTT connection failed", "error", token.Error())
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Info("retrying MQTT connection", "delay", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the request topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.config.MQTT.RequestTopic
	c.logger.Info("subscribing", "topic", topic)
	token := client.Subscribe(topic, 1, c.createMessageHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Error("subscribe failed", "topic", topic, "error", token.Error())
		return
	}
	c.logger.Info("subscribed", "topic", topic)
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically transient.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

// createMessageHandler decodes rank requests and hands them to the handler
func (c *MQTTClient) createMessageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		c.logger.Debug("received rank request", "topic", msg.Topic(), "bytes", len(payload))

		req, err := DecodeRankRequest(payload)
		if err != nil {
			c.logger.Warn("invalid rank request", "topic", msg.Topic(), "error", err)
		}
		if c.handler != nil {
			c.handler(req, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithMock wraps an existing mqtt.Client, typically a MockClient
// in tests. Call Start to subscribe.
func NewMQTTClientWithMock(client mqtt.Client, config *Config, handler RequestHandler, logger *slog.Logger) *MQTTClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
		logger:  logger.With("component", "mqtt"),
	}
}

// Start connects a client created with NewMQTTClientWithMock and subscribes
// to the request topic.
func (c *MQTTClient) Start() error {
	token := c.client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	c.onConnect(c.client)
	return nil
}
