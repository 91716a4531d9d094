package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ============================================================================
// MQTT mirror
// ============================================================================
// Optional second sink publishing each OutboundEvent to
// <prefix>/<device>/action. Availability is published retained on
// <prefix>/<device>/status with a last will of "offline".
// ============================================================================

const mqttConnectTimeout = 5 * time.Second

type mqttSink struct {
	client      mqtt.Client
	actionTopic string
	statusTopic string
	logger      *slog.Logger
}

func newMQTTSink(cfg MQTTConfig, deviceName string, logger *slog.Logger) (*mqttSink, error) {
	base := cfg.TopicPrefix + "/" + deviceName
	s := &mqttSink{
		actionTopic: base + "/action",
		statusTopic: base + "/status",
		logger:      logger,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = fmt.Sprintf("remotebridge-%s-%d", host, os.Getpid())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWill(s.statusTopic, "offline", 0, true)
	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
		c.Publish(s.statusTopic, 0, true, "online")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	// With ConnectRetry the token only completes once a connection is made;
	// don't hold up startup on a broker that is down.
	if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return s, nil
}

func (s *mqttSink) Name() string { return "mqtt" }

func (s *mqttSink) Deliver(ctx context.Context, ev OutboundEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	token := s.client.Publish(s.actionTopic, 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

// Close publishes the offline status and disconnects.
func (s *mqttSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	token := s.client.Publish(s.statusTopic, 0, true, "offline")
	if !token.WaitTimeout(time.Second) {
		s.client.Disconnect(250)
		return errors.New("mqtt offline status publish timed out")
	}
	s.client.Disconnect(250)
	return token.Error()
}
