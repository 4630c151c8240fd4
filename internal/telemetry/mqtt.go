package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultMQTTClientID = "crawl-ng"
	mqttConnectTimeout  = 5 * time.Second
	mqttQuiesceMillis   = 250
)

type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

var newMQTTClientFn = func(opts *mqtt.ClientOptions) mqttClient {
	return mqtt.NewClient(opts)
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

// MQTTSink publishes frames at QoS 0 without waiting for delivery. A failed
// publish surfaces on the next Send.
type MQTTSink struct {
	topic  string
	client mqttClient
	last   mqtt.Token
}

// DialMQTT connects to the broker, waiting at most a few seconds.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("telemetry: mqtt broker and topic are required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultMQTTClientID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	client := newMQTTClientFn(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("telemetry: mqtt connect %s: timeout", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect %s: %w", cfg.Broker, err)
	}
	return &MQTTSink{topic: cfg.Topic, client: client}, nil
}

func (s *MQTTSink) Name() string { return "mqtt:" + s.topic }

func (s *MQTTSink) Send(f Frame) error {
	var prevErr error
	if s.last != nil {
		select {
		case <-s.last.Done():
			prevErr = s.last.Error()
		default:
		}
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.last = s.client.Publish(s.topic, 0, false, payload)
	if prevErr != nil {
		return fmt.Errorf("previous publish: %w", prevErr)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	s.client.Disconnect(mqttQuiesceMillis)
	s.client = nil
	return nil
}
