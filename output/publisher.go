package output

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"

	"portview/config"
)

// Publisher delivers messages to a broker. Subjects use '.' separators;
// transports with another convention translate them.
type Publisher interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Close()
}

// Connect opens the broker connection selected by the mirror configuration
func Connect(cfg *config.MirrorConfig, clientID string, logger *slog.Logger) (Publisher, error) {
	switch cfg.Kind {
	case config.MirrorNATS:
		return NewNATSConnection(cfg.URL, cfg.MaxReconnects, cfg.ReconnectWait(), logger)
	case config.MirrorMQTT:
		return NewMQTTConnection(cfg.URL, clientID, cfg.ReconnectWait(), logger)
	default:
		return nil, fmt.Errorf("unknown mirror kind %q", cfg.Kind)
	}
}

// NATSConnection manages NATS connection
type NATSConnection struct {
	conn   *nats.Conn
	url    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewNATSConnection creates a new NATS connection
func NewNATSConnection(url string, maxReconnects int, reconnectWait time.Duration, logger *slog.Logger) (*NATSConnection, error) {
	opts := []nats.Option{
		nats.Name("portview"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info("Connected to NATS", "url", url)

	return &NATSConnection{
		conn:   conn,
		url:    url,
		logger: logger,
	}, nil
}

// Publish sends data on subject. NATS buffers the write, so this does not
// wait for the server.
func (nc *NATSConnection) Publish(subject string, data []byte) error {
	nc.mu.RLock()
	conn := nc.conn
	nc.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("NATS connection closed")
	}
	return conn.Publish(subject, data)
}

// LastMessage fetches the newest message on subject from a JetStream stream
func (nc *NATSConnection) LastMessage(stream, subject string) ([]byte, error) {
	nc.mu.RLock()
	conn := nc.conn
	nc.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("NATS connection closed")
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream not available: %w", err)
	}

	sub, err := js.PullSubscribe(subject, "", nats.DeliverLast(), nats.BindStream(stream))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", subject, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msgs[0].Ack()
	return msgs[0].Data, nil
}

// Close closes the NATS connection
func (nc *NATSConnection) Close() {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if nc.conn != nil {
		nc.conn.Close()
		nc.conn = nil
		nc.logger.Info("Closed NATS connection")
	}
}

// IsConnected returns true if connected to NATS
func (nc *NATSConnection) IsConnected() bool {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.conn != nil && nc.conn.IsConnected()
}

// MQTTConnection publishes to an MQTT broker
type MQTTConnection struct {
	client mqtt.Client
	url    string
	logger *slog.Logger
}

// mqttQoS is at-most-once: telemetry is superseded every tick
const mqttQoS = 0

// NewMQTTConnection connects to the broker, retrying in the background after
// the first connection succeeds.
func NewMQTTConnection(url, clientID string, reconnectWait time.Duration, logger *slog.Logger) (*MQTTConnection, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectWait).
		SetMaxReconnectInterval(reconnectWait).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("Disconnected from MQTT", "error", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			logger.Info("Reconnecting to MQTT", "url", url)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		client.Disconnect(0)
		return nil, fmt.Errorf("timed out connecting to MQTT at %s", url)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT at %s: %w", url, err)
	}

	logger.Info("Connected to MQTT", "url", url, "client_id", clientID)

	return &MQTTConnection{client: client, url: url, logger: logger}, nil
}

// Publish sends data on the topic derived from subject. It does not wait for
// delivery.
func (mc *MQTTConnection) Publish(subject string, data []byte) error {
	token := mc.client.Publish(Topic(subject), mqttQoS, false, data)
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

// IsConnected returns true if the client has a live connection
func (mc *MQTTConnection) IsConnected() bool {
	return mc.client.IsConnectionOpen()
}

// Close disconnects, allowing in-flight messages a short grace period
func (mc *MQTTConnection) Close() {
	mc.client.Disconnect(250)
	mc.logger.Info("Closed MQTT connection")
}

// Topic converts a dotted subject to an MQTT topic
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
