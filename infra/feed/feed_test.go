package feed

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/infra/logger"
)

type mockToken struct{ err error }

func (t *mockToken) Wait() bool                       { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool   { return true }
func (t *mockToken) Done() <-chan struct{}            { ch := make(chan struct{}); close(ch); return ch }
func (t *mockToken) Error() error                     { return t.err }

type mockClient struct {
	opts       *paho.ClientOptions
	connected  bool
	subTopic   string
	subQoS     byte
	subHandler paho.MessageHandler
}

func (m *mockClient) IsConnected() bool { return m.connected }
func (m *mockClient) Connect() paho.Token {
	m.connected = true
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &mockToken{}
}
func (m *mockClient) Disconnect(uint) { m.connected = false }
func (m *mockClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	m.subTopic, m.subQoS, m.subHandler = topic, qos, cb
	return &mockToken{}
}
func (m *mockClient) Publish(string, byte, bool, interface{}) paho.Token { return &mockToken{} }
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &mockToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &mockToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return m.connected }

type mockMessage struct {
	topic   string
	payload []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte        { return 0 }
func (m mockMessage) Retained() bool   { return false }
func (m mockMessage) Topic() string    { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte  { return m.payload }
func (m mockMessage) Ack()             {}

type recordHandler struct {
	mu      sync.Mutex
	batches [][]model.VehicleChargingState
}

func (h *recordHandler) HandleBatch(states []model.VehicleChargingState) {
	h.mu.Lock()
	h.batches = append(h.batches, states)
	h.mu.Unlock()
}

func newMockConsumer(t *testing.T, h Handler) (*Consumer, *mockClient) {
	t.Helper()
	mc := &mockClient{}
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
	c, err := NewConsumer(Config{Broker: "tcp://localhost:1883", Topic: "fleet/charging-state", QoS: 1}, h, logger.NopLogger{})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	return c, mc
}

func TestConsumerSubscribesOnConnect(t *testing.T) {
	_, mc := newMockConsumer(t, &recordHandler{})
	if mc.subTopic != "fleet/charging-state" || mc.subQoS != 1 {
		t.Fatalf("subscribed to %q qos %d", mc.subTopic, mc.subQoS)
	}
}

func TestConsumerForwardsBatch(t *testing.T) {
	h := &recordHandler{}
	_, mc := newMockConsumer(t, h)

	mc.subHandler(nil, mockMessage{topic: "fleet/charging-state", payload: []byte(
		`[{"vehicle_id":"1234567890","status":"plugged_in","lat":31.99,"lng":34.76,"observed_at":"2025-06-01T12:00:00Z"},
		  {"vehicle_id":"","status":"charging"},
		  {"vehicle_id":"777","status":"warp_drive"}]`,
	)})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.batches) != 1 {
		t.Fatalf("got %d batches", len(h.batches))
	}
	batch := h.batches[0]
	if len(batch) != 1 {
		t.Fatalf("invalid records not dropped: %+v", batch)
	}
	if batch[0].VehicleID != "1234567890" || batch[0].Status != model.StatusPluggedIn {
		t.Fatalf("unexpected state %+v", batch[0])
	}
}

func TestConsumerAcceptsSingleObject(t *testing.T) {
	h := &recordHandler{}
	_, mc := newMockConsumer(t, h)

	mc.subHandler(nil, mockMessage{payload: []byte(
		`{"vehicle_id":"1234567890","status":"plugged_out"}`,
	)})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.batches) != 1 || len(h.batches[0]) != 1 {
		t.Fatalf("single object not delivered: %+v", h.batches)
	}
	if h.batches[0][0].ObservedAt.IsZero() {
		t.Fatal("missing observed_at should be defaulted")
	}
}

func TestConsumerDropsMalformedPayload(t *testing.T) {
	h := &recordHandler{}
	_, mc := newMockConsumer(t, h)

	mc.subHandler(nil, mockMessage{payload: []byte(`not json`)})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.batches) != 0 {
		t.Fatalf("malformed payload should be dropped, got %+v", h.batches)
	}
}

func TestConsumerClose(t *testing.T) {
	c, mc := newMockConsumer(t, &recordHandler{})
	c.Close()
	if mc.connected {
		t.Fatal("close should disconnect")
	}
}
