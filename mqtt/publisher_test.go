package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"xcomlink/config"
	"xcomlink/poller"
)

func TestNewPublisher(t *testing.T) {
	cfg := &config.MQTTConfig{
		Name:    "test",
		Broker:  "localhost",
		Port:    1883,
		Enabled: true,
	}
	pub := NewPublisher(cfg, "xcomlink")

	if pub == nil {
		t.Fatal("expected non-nil publisher")
	}
	if pub.Name() != "test" {
		t.Errorf("expected name 'test', got %q", pub.Name())
	}
	if pub.IsRunning() {
		t.Error("new publisher should not be running")
	}
}

func TestRootTopic(t *testing.T) {
	t.Run("namespace only", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Name: "a"}, "plant-1")
		if got := pub.BuildTopic("u_bat"); got != "plant-1/values/u_bat" {
			t.Errorf("topic = %q", got)
		}
	})

	t.Run("with selector", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Name: "a", Selector: "solar"}, "plant-1")
		if got := pub.BuildTopic("u_bat"); got != "plant-1/solar/values/u_bat" {
			t.Errorf("topic = %q", got)
		}
	})
}

func TestAddress(t *testing.T) {
	t.Run("tcp address", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Broker: "localhost", Port: 1883}, "test")
		if addr := pub.Address(); addr != "tcp://localhost:1883" {
			t.Errorf("expected 'tcp://localhost:1883', got %q", addr)
		}
	})

	t.Run("ssl address", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Broker: "localhost", Port: 8883, UseTLS: true}, "test")
		if addr := pub.Address(); addr != "ssl://localhost:8883" {
			t.Errorf("expected 'ssl://localhost:8883', got %q", addr)
		}
	})
}

func TestValueMessagePayload(t *testing.T) {
	msg := ValueMessage{
		Topic: "plant-1",
		Reading: poller.Reading{
			Name:      "u_bat",
			Nr:        3000,
			Family:    "xt",
			Device:    "XT1",
			Unit:      "Vdc",
			Format:    "FLOAT",
			Value:     float32(48.1),
			Timestamp: time.Now().UTC(),
		},
		Writable: false,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	for _, field := range []string{"topic", "name", "nr", "family", "device", "unit", "format", "value", "writable", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	if decoded["nr"].(float64) != 3000 {
		t.Errorf("nr = %v, want 3000", decoded["nr"])
	}

	// Optional fields are omitted when empty.
	for _, field := range []string{"text", "error", "aggregation"} {
		if _, ok := decoded[field]; ok {
			t.Errorf("field %s should be omitted when empty", field)
		}
	}
}

func TestWriteRequestParsing(t *testing.T) {
	payload := []byte(`{"topic":"plant-1","name":"input_limit","value":16}`)

	var req WriteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if req.Topic != "plant-1" || req.Name != "input_limit" {
		t.Errorf("request = %+v", req)
	}
	// JSON numbers arrive as float64; the value codec coerces on write.
	if v, ok := req.Value.(float64); !ok || v != 16 {
		t.Errorf("value = %v (%T), want float64 16", req.Value, req.Value)
	}
}

func TestPublishChangeDetection(t *testing.T) {
	pub := NewPublisher(&config.MQTTConfig{Name: "a"}, "test")

	// Not running: nothing publishes, the cache stays empty.
	if pub.Publish(poller.Reading{Name: "u_bat", Value: float32(48)}, false, false) {
		t.Error("publish succeeded without a connection")
	}

	// The cache comparison itself.
	pub.lastMu.Lock()
	pub.lastValues["u_bat"] = float32(48)
	pub.lastMu.Unlock()

	pub.lastMu.RLock()
	last, exists := pub.lastValues["u_bat"]
	pub.lastMu.RUnlock()
	if !exists || last.(float32) != 48 {
		t.Fatal("cache not primed")
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()

	cfgs := []config.MQTTConfig{
		{Name: "a", Broker: "localhost", Port: 1883},
		{Name: "b", Broker: "other", Port: 1883},
	}
	m.LoadFromConfig(cfgs, "plant-1")

	if len(m.List()) != 2 {
		t.Fatalf("publishers = %d, want 2", len(m.List()))
	}
	if m.Get("a") == nil || m.Get("b") == nil {
		t.Fatal("Get failed for configured publisher")
	}
	if m.Get("missing") != nil {
		t.Error("Get returned a publisher for an unknown name")
	}
	if m.AnyRunning() {
		t.Error("no publisher should be running")
	}

	m.Remove("a")
	if m.Get("a") != nil {
		t.Error("publisher not removed")
	}
}

func TestManagerAppliesHandlers(t *testing.T) {
	m := NewManager()
	m.SetWriteHandler(func(name string, value interface{}) error { return nil })
	m.SetWriteValidator(func(name string) bool { return name == "writable" })

	pub := NewPublisher(&config.MQTTConfig{Name: "late"}, "test")
	m.Add(pub)

	pub.mu.RLock()
	defer pub.mu.RUnlock()
	if pub.writeHandler == nil {
		t.Error("write handler not applied to publisher added later")
	}
	if pub.writeValidator == nil {
		t.Error("write validator not applied to publisher added later")
	}
	if !pub.writeValidator("writable") || pub.writeValidator("other") {
		t.Error("validator does not behave as configured")
	}
}
