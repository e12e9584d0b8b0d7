package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"xcomlink/config"
	"xcomlink/poller"
)

func TestTopicJoin(t *testing.T) {
	tests := []struct {
		segments []string
		want     string
	}{
		{[]string{"plant-1", "values"}, "plant-1.values"},
		{[]string{"plant-1", "", "values"}, "plant-1.values"},
		{[]string{".plant-1.", "solar", "values"}, "plant-1.solar.values"},
	}
	for _, tc := range tests {
		if got := topicJoin(tc.segments...); got != tc.want {
			t.Errorf("topicJoin(%v) = %q, want %q", tc.segments, got, tc.want)
		}
	}
}

func TestFromYAML(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := FromYAML(config.KafkaConfig{Name: "main", Brokers: []string{"localhost:9092"}}, "plant-1")

		if cfg.RequiredAcks != -1 {
			t.Errorf("required acks = %d, want -1", cfg.RequiredAcks)
		}
		if cfg.MaxRetries != 3 {
			t.Errorf("max retries = %d, want 3", cfg.MaxRetries)
		}
		if cfg.RetryBackoff != 100*time.Millisecond {
			t.Errorf("retry backoff = %v", cfg.RetryBackoff)
		}
		if !cfg.AutoCreateTopics {
			t.Error("auto-create topics should default to true")
		}
		if cfg.Topic != "plant-1.values" {
			t.Errorf("topic = %q, want 'plant-1.values'", cfg.Topic)
		}
		if cfg.GetWriteMaxAge() != DefaultWriteMaxAge {
			t.Errorf("write max age = %v", cfg.GetWriteMaxAge())
		}
	})

	t.Run("explicit auto-create false", func(t *testing.T) {
		off := false
		cfg := FromYAML(config.KafkaConfig{Name: "main", AutoCreateTopics: &off}, "plant-1")
		if cfg.AutoCreateTopics {
			t.Error("auto-create topics should honor explicit false")
		}
	})

	t.Run("selector in topic", func(t *testing.T) {
		cfg := FromYAML(config.KafkaConfig{Name: "main", Selector: "solar"}, "plant-1")
		if cfg.Topic != "plant-1.solar.values" {
			t.Errorf("topic = %q", cfg.Topic)
		}
		if got := cfg.WriteTopic(); got != "plant-1.solar.writes" {
			t.Errorf("write topic = %q", got)
		}
		if got := cfg.WriteResponseTopic(); got != "plant-1.solar.write-responses" {
			t.Errorf("response topic = %q", got)
		}
	})
}

func TestConsumerGroup(t *testing.T) {
	cfg := FromYAML(config.KafkaConfig{Name: "main"}, "plant-1")
	if got := cfg.ConsumerGroup(); got != "xcomlink-main" {
		t.Errorf("consumer group = %q", got)
	}
}

func TestGetTLSConfig(t *testing.T) {
	cfg := Config{UseTLS: false}
	if cfg.GetTLSConfig() != nil {
		t.Error("TLS config should be nil when disabled")
	}

	cfg = Config{UseTLS: true, TLSSkipVerify: true}
	tlsCfg := cfg.GetTLSConfig()
	if tlsCfg == nil {
		t.Fatal("TLS config should not be nil when enabled")
	}
	if !tlsCfg.InsecureSkipVerify {
		t.Error("skip verify not propagated")
	}
}

func TestSASLMechanism(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantNil   bool
		wantName  string
	}{
		{"no username", Config{SASLMechanism: SASLPlain}, true, ""},
		{"plain", Config{Username: "u", Password: "p", SASLMechanism: SASLPlain}, false, "PLAIN"},
		{"scram-256", Config{Username: "u", Password: "p", SASLMechanism: SASLSCRAMSHA256}, false, "SCRAM-SHA-256"},
		{"scram-512", Config{Username: "u", Password: "p", SASLMechanism: SASLSCRAMSHA512}, false, "SCRAM-SHA-512"},
		{"unknown", Config{Username: "u", SASLMechanism: "KERBEROS"}, true, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mechanism := tc.cfg.saslMechanism()
			if tc.wantNil {
				if mechanism != nil {
					t.Errorf("expected nil mechanism, got %v", mechanism.Name())
				}
				return
			}
			if mechanism == nil {
				t.Fatal("expected mechanism, got nil")
			}
			if mechanism.Name() != tc.wantName {
				t.Errorf("mechanism = %q, want %q", mechanism.Name(), tc.wantName)
			}
		})
	}
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "Disconnected"},
		{StatusConnecting, "Connecting"},
		{StatusConnected, "Connected"},
		{StatusError, "Error"},
		{ConnectionStatus(99), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestProducerNotConnected(t *testing.T) {
	cfg := FromYAML(config.KafkaConfig{Name: "main", Brokers: []string{"localhost:9092"}}, "plant-1")
	p := NewProducer(&cfg)

	if p.GetStatus() != StatusDisconnected {
		t.Errorf("new producer status = %v", p.GetStatus())
	}
	if _, err := p.getWriter("topic"); err == nil {
		t.Error("getWriter should fail while disconnected")
	}
}

func TestValueMessagePayload(t *testing.T) {
	msg := ValueMessage{
		Reading: poller.Reading{
			Name:      "u_bat",
			Nr:        3000,
			Family:    "xt",
			Value:     float32(48.1),
			Timestamp: time.Now().UTC(),
		},
		Writable: true,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	for _, field := range []string{"name", "nr", "family", "value", "writable", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
}

func TestManagerClusters(t *testing.T) {
	m := NewManager()
	defer m.StopAll()

	m.LoadFromConfig([]config.KafkaConfig{
		{Name: "a", Brokers: []string{"localhost:9092"}},
		{Name: "b", Brokers: []string{"other:9092"}, EnableWriteback: true},
	}, "plant-1")

	if len(m.ListClusters()) != 2 {
		t.Fatalf("clusters = %d, want 2", len(m.ListClusters()))
	}
	if m.GetProducer("a") == nil || m.GetProducer("b") == nil {
		t.Fatal("GetProducer failed for configured cluster")
	}
	if m.GetProducer("missing") != nil {
		t.Error("GetProducer returned a producer for an unknown cluster")
	}

	// Duplicate adds are ignored.
	dup := FromYAML(config.KafkaConfig{Name: "a"}, "plant-1")
	m.AddCluster(&dup)
	if len(m.ListClusters()) != 2 {
		t.Error("duplicate cluster was added")
	}

	// Only the write-back cluster gets a consumer.
	m.mu.RLock()
	_, aHasConsumer := m.consumers["a"]
	_, bHasConsumer := m.consumers["b"]
	m.mu.RUnlock()
	if aHasConsumer {
		t.Error("cluster without write-back got a consumer")
	}
	if !bHasConsumer {
		t.Error("write-back cluster missing its consumer")
	}

	m.RemoveCluster("a")
	if m.GetProducer("a") != nil {
		t.Error("cluster not removed")
	}

	if m.AnyPublishing() {
		t.Error("nothing is connected, AnyPublishing should be false")
	}
}

func TestManagerPublishSkipsDisconnected(t *testing.T) {
	m := NewManager()
	defer m.StopAll()

	m.LoadFromConfig([]config.KafkaConfig{
		{Name: "a", Brokers: []string{"localhost:9092"}, PublishChanges: true},
	}, "plant-1")

	// Producer is disconnected: publish is a silent no-op and nothing is cached.
	m.Publish(poller.Reading{Name: "u_bat", Value: float32(48)}, false)

	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	if len(m.lastValues) != 0 {
		t.Error("value cached without a connected producer")
	}
}

func TestProcessBatchDedup(t *testing.T) {
	cfg := FromYAML(config.KafkaConfig{Name: "main", EnableWriteback: true}, "plant-1")
	c := NewConsumer(&cfg, nil)

	var got []string
	c.SetWriteHandler(func(name string, value interface{}) error {
		got = append(got, name)
		return nil
	})
	c.SetWriteValidator(func(name string) bool { return name != "readonly" })

	now := time.Now()
	pending := map[string]pendingWrite{
		"input_limit": {request: WriteRequest{Name: "input_limit", Value: float64(16)}, messageTime: now},
		"readonly":    {request: WriteRequest{Name: "readonly", Value: float64(1)}, messageTime: now},
		"stale":       {request: WriteRequest{Name: "stale", Value: float64(2)}, messageTime: now.Add(-time.Minute)},
	}
	discarded := []pendingWrite{
		{request: WriteRequest{Name: "input_limit", Value: float64(12)}, messageTime: now},
	}

	c.processBatch(pending, discarded)

	// Only the fresh, writable request reaches the handler.
	if len(got) != 1 || got[0] != "input_limit" {
		t.Errorf("handled writes = %v, want just input_limit", got)
	}
}
