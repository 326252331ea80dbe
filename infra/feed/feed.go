// Package feed consumes the vehicle charging-state change feed over MQTT
// and hands deliveries to the lifecycle engine.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/omerlv/chargelink/core/logger"
	"github.com/omerlv/chargelink/core/model"
)

// Config defines the connection parameters for the feed consumer.
type Config struct {
	Broker         string `json:"broker"`
	ClientID       string `json:"client_id"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Topic          string `json:"topic"`
	QoS            byte   `json:"qos"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "chargelink-" + uuid.NewString()[:8]
	}
	if c.Topic == "" {
		c.Topic = "fleet/charging-state"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("feed: broker is required")
	}
	return nil
}

// Handler receives one decoded feed delivery.
type Handler interface {
	HandleBatch(states []model.VehicleChargingState)
}

// pahoClient is the slice of the Paho API the consumer needs; tests swap
// in a fake.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Consumer subscribes to the charging-state topic and forwards decoded
// deliveries. Malformed payloads are logged and dropped; the subscription
// survives broker reconnects.
type Consumer struct {
	cli     pahoClient
	topic   string
	qos     byte
	handler Handler
	log     logger.Logger
	timeout time.Duration
}

// NewConsumer connects to the broker and subscribes to the feed topic.
func NewConsumer(cfg Config, handler Handler, log logger.Logger) (*Consumer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("feed: nil handler")
	}

	c := &Consumer{
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		handler: handler,
		log:     log,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}

	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(cli paho.Client) {
		log.Infof("feed connected to %s", cfg.Broker)
		if token := cli.Subscribe(c.topic, c.qos, c.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("feed subscribe: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("feed connection lost: %v", err)
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.WaitTimeout(c.timeout) && token.Error() != nil {
		return nil, fmt.Errorf("feed: connect: %w", token.Error())
	}
	c.cli = cli
	return c, nil
}

// onMessage decodes one delivery. The feed publishes either a batch or a
// single state object.
func (c *Consumer) onMessage(_ paho.Client, msg paho.Message) {
	states, err := Decode(msg.Payload())
	if err != nil {
		c.log.Errorf("feed: drop malformed payload on %s: %v", msg.Topic(), err)
		return
	}
	if len(states) == 0 {
		return
	}
	c.log.Debugf("feed delivery: %d states", len(states))
	c.handler.HandleBatch(states)
}

// Close disconnects from the broker.
func (c *Consumer) Close() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}

// Decode parses a feed payload: a JSON array of states or a single state.
// States without a vehicle id or with an unknown status are dropped.
func Decode(payload []byte) ([]model.VehicleChargingState, error) {
	var batch []model.VehicleChargingState
	if err := json.Unmarshal(payload, &batch); err != nil {
		var single model.VehicleChargingState
		if err := json.Unmarshal(payload, &single); err != nil {
			return nil, err
		}
		batch = []model.VehicleChargingState{single}
	}

	out := batch[:0]
	for _, st := range batch {
		if st.VehicleID == "" {
			continue
		}
		if !st.Status.Valid() {
			continue
		}
		if st.ObservedAt.IsZero() {
			st.ObservedAt = time.Now()
		}
		out = append(out, st)
	}
	return out, nil
}
