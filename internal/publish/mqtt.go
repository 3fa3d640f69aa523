package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/sensebox-frequency/internal/common"
	"github.com/i474232898/sensebox-frequency/internal/sensebox"
)

const publishTimeout = 10 * time.Second

// MQTTPublisher sends finished reports to an MQTT broker.
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
	logger      *slog.Logger
}

// NewMQTTPublisher configures a client for broker (e.g. "tcp://localhost:1883").
// Call Connect before publishing.
func NewMQTTPublisher(broker, clientID, topicPrefix string, logger *slog.Logger) *MQTTPublisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	return newMQTTPublisher(mqtt.NewClient(opts), topicPrefix, logger)
}

func newMQTTPublisher(client mqtt.Client, topicPrefix string, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:      client,
		topicPrefix: strings.TrimRight(topicPrefix, "/"),
		logger:      logger,
	}
}

// Connect waits for the initial connection, respecting ctx.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	return wait(ctx, p.client.Connect(), "mqtt connect")
}

// Topic returns the topic a city's reports are published on.
func (p *MQTTPublisher) Topic(city string) string {
	return fmt.Sprintf("%s/%s/report", p.topicPrefix, common.Slug(city))
}

// PublishReport publishes report as JSON with QoS 1.
func (p *MQTTPublisher) PublishReport(ctx context.Context, report sensebox.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	topic := p.Topic(report.City)
	if err := wait(ctx, p.client.Publish(topic, 1, false, payload), "mqtt publish"); err != nil {
		return err
	}
	p.logger.Debug("report published", "topic", topic, "run", report.RunID)
	return nil
}

// Close disconnects, allowing in-flight messages a short grace period.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

func wait(ctx context.Context, token mqtt.Token, op string) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
