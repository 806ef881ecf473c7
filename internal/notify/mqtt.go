package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
)

const publishTimeout = 5 * time.Second

// MQTTConfig configures the MQTT publisher
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Topic     string
	QoS       byte
}

// publisher is the part of mqtt.Client the notifier uses
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTNotifier publishes a JSON event per series to <topic>/<host>
type MQTTNotifier struct {
	logger *zap.Logger
	client publisher
	topic  string
	qos    byte
	now    func() time.Time
}

// NewMQTTNotifier connects to the broker. The client reconnects on its own after a lost connection.
func NewMQTTNotifier(logger *zap.Logger, config MQTTConfig) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", config.BrokerURL))
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warn("Lost connection to MQTT broker", zap.Error(err))
	})

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTNotifier(logger, client, config.Topic, config.QoS), nil
}

func newMQTTNotifier(logger *zap.Logger, client publisher, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{
		logger: logger,
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
		qos:    qos,
		now:    time.Now,
	}
}

// NotifySeries publishes the event and waits for the broker acknowledgement
func (n *MQTTNotifier) NotifySeries(ctx context.Context, event SeriesEvent) (err error) {
	defer func() { metrics.RecordNotification(err != nil) }()

	if !n.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	if event.PublishedAt.IsZero() {
		event.PublishedAt = n.now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize series event: %w", err)
	}

	topic := n.TopicFor(event.Host)
	token := n.client.Publish(topic, n.qos, false, payload)

	wait := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < wait {
			wait = d
		}
	}

	if !token.WaitTimeout(wait) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	n.logger.Debug("Published series event",
		zap.String("topic", topic),
		zap.String("metricType", event.MetricType),
		zap.Strings("recordIds", event.RecordIDs))

	return nil
}

// TopicFor returns the topic events for host are published on.
// MQTT wildcards in the host are replaced so the topic stays publishable.
func (n *MQTTNotifier) TopicFor(host string) string {
	host = strings.NewReplacer("+", "_", "#", "_", "/", "_").Replace(host)
	return n.topic + "/" + host
}

// Close disconnects from the broker, allowing in-flight publishes to finish
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
	n.logger.Info("MQTT notifier closed")
}
