package ingest

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/pkg/config"
)

// MessageHandler ingests one raw payload.
type MessageHandler interface {
	HandleMessage(ctx context.Context, payload []byte, fallbackAGVID string) error
}

// MQTTSource subscribes to AGV telemetry topics (agv/<agv_id>/position).
type MQTTSource struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler MessageHandler
	logger  *zap.Logger
	ctx     context.Context
}

// NewMQTTSource builds an MQTT client for the configured broker; it does
// not connect until Start.
func NewMQTTSource(cfg config.MQTTConfig, handler MessageHandler, logger *zap.Logger) *MQTTSource {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	return newMQTTSource(mqtt.NewClient(opts), cfg.Topic, cfg.QoS, handler, logger)
}

func newMQTTSource(client mqtt.Client, topic string, qos byte, handler MessageHandler, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		client:  client,
		topic:   topic,
		qos:     qos,
		handler: handler,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Start connects and subscribes. Messages are handled until Stop.
func (s *MQTTSource) Start(ctx context.Context) error {
	s.ctx = ctx
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	if token := s.client.Subscribe(s.topic, s.qos, s.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.topic, token.Error())
	}
	s.logger.Info("Subscribed to MQTT telemetry", zap.String("topic", s.topic), zap.Uint8("qos", s.qos))
	return nil
}

// Stop unsubscribes and disconnects.
func (s *MQTTSource) Stop() {
	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		s.logger.Warn("Failed to unsubscribe", zap.Error(token.Error()))
	}
	s.client.Disconnect(250)
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	agvID := AGVIDFromTopic(msg.Topic())
	if err := s.handler.HandleMessage(s.ctx, msg.Payload(), agvID); err != nil && !IsRejection(err) {
		s.logger.Error("Failed to handle MQTT message", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// AGVIDFromTopic extracts the agv id from agv/<agv_id>/position, or "".
func AGVIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "agv" {
		return ""
	}
	return parts[1]
}
