package mqttclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cepro/cargosim/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	// qosAtLeastOnce asks the broker to acknowledge every publish, it may deliver duplicates
	qosAtLeastOnce = 1

	// disconnectQuiesceMillis is how long Disconnect waits for in-flight work to complete
	disconnectQuiesceMillis = 250
)

// ConnectError is returned when the broker could not be connected to. Code is the CONNACK return code, or zero if
// the broker never answered (e.g. a network or TLS failure).
type ConnectError struct {
	Code byte
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed with code %d: %v", e.Code, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Connector creates MQTT sessions to a single broker over TLS.
// The paho client is only created on Connect so that each session owns its own client and background goroutines.
type Connector struct {
	opts      *mqtt.ClientOptions
	newClient func(*mqtt.ClientOptions) mqtt.Client
	logger    *slog.Logger
}

// New builds the connection options for the given broker. Nothing is dialled until Connect is called.
func New(cfg config.BrokerConfig, logger *slog.Logger) (*Connector, error) {

	brokerURL := BrokerURL(cfg.Host, cfg.Port)
	logger = logger.With("broker", brokerURL)

	tlsConfig, err := newTLSConfig(cfg.Host, cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("create tls config: %w", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID(cfg.ClientID)).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetTLSConfig(tlsConfig).
		SetKeepAlive(cfg.KeepAlive()).
		SetConnectTimeout(cfg.ConnectTimeout()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("Connection lost", "error", err)
		})

	return &Connector{
		opts:      opts,
		newClient: mqtt.NewClient,
		logger:    logger,
	}, nil
}

// BrokerURL returns the paho broker URL for a TLS connection to the given host.
func BrokerURL(host string, port int) string {
	return fmt.Sprintf("tls://%s:%d", host, port)
}

// clientID returns the configured ID, or a random one so that two simulators never kick each other off the broker.
func clientID(configured string) string {
	if configured != "" {
		return configured
	}
	return "cargo-sim-" + uuid.NewString()
}

// Connect dials the broker and blocks until the broker has answered, the connect timeout expires or the context is
// cancelled. There is no retry: the caller decides what to do with a failure.
func (c *Connector) Connect(ctx context.Context) (*Session, error) {

	c.logger.Info("Connecting to broker...", "client_id", c.opts.ClientID)

	client := c.newClient(c.opts)
	token := client.Connect()

	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-token.Done():
	}

	if err := token.Error(); err != nil {
		code := returnCode(token)
		c.logger.Error("Connection failed", "code", code, "error", err)
		return nil, &ConnectError{Code: code, Err: err}
	}

	c.logger.Info("Successfully connected to broker")

	return &Session{
		client: client,
		logger: c.logger,
	}, nil
}

// returnCode extracts the CONNACK code from a connect token
func returnCode(token mqtt.Token) byte {
	if rc, ok := token.(interface{ ReturnCode() byte }); ok {
		return rc.ReturnCode()
	}
	return 0
}

// Session is a live connection to the broker. paho services the network in the background until Close is called.
type Session struct {
	client    mqtt.Client
	logger    *slog.Logger
	closeOnce sync.Once
}

// Publish submits the payload for at-least-once delivery on `topic` and returns without waiting for the broker's
// acknowledgement. An error is only returned if paho has already failed the publish, e.g. because the session is no
// longer connected.
func (s *Session) Publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, qosAtLeastOnce, false, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to '%s': %w", topic, err)
		}
	default:
		// still in flight
	}
	return nil
}

// Close stops the background network service and disconnects from the broker. Only the first call has any effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.client.Disconnect(disconnectQuiesceMillis)
		s.logger.Info("Disconnected from broker")
	})
}
