package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.PollRate != 5*time.Second {
		t.Errorf("expected 5s poll rate, got %v", cfg.PollRate)
	}
	if cfg.Gateway.Transport != TransportTCP {
		t.Errorf("expected tcp transport, got %s", cfg.Gateway.Transport)
	}
	if cfg.Gateway.Listen != ":4001" {
		t.Errorf("expected listen :4001, got %s", cfg.Gateway.Listen)
	}
	if cfg.Voltage != "240 Vac" {
		t.Errorf("expected 240 Vac, got %s", cfg.Voltage)
	}
	if !cfg.Web.Enabled {
		t.Error("expected Web.Enabled true by default")
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected Web port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Web.Host != "0.0.0.0" {
		t.Errorf("expected Web host 0.0.0.0, got %s", cfg.Web.Host)
	}
	if len(cfg.Poll) != 0 {
		t.Errorf("expected empty poll list")
	}
}

func TestLoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns default for nonexistent file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.PollRate != 5*time.Second {
			t.Error("expected default config")
		}
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test.yaml")

		cfg := &Config{
			Namespace: "plant-1",
			Gateway: GatewayConfig{
				Transport: TransportSerial,
				Device:    "/dev/ttyUSB0",
				Baud:      115200,
			},
			PollRate: 500 * time.Millisecond,
			Poll: []PollItem{
				{Name: "battery_voltage", Enabled: true, Nr: 3000, Family: "xt", Device: "XT1"},
			},
			MQTT: []MQTTConfig{
				{Name: "TestMQTT", Broker: "mqtt.local", Port: 1883},
			},
		}

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if loaded.PollRate != 500*time.Millisecond {
			t.Errorf("expected 500ms poll rate, got %v", loaded.PollRate)
		}
		if loaded.Gateway.Transport != TransportSerial || loaded.Gateway.Device != "/dev/ttyUSB0" {
			t.Error("gateway config not preserved")
		}
		if len(loaded.Poll) != 1 || loaded.Poll[0].Nr != 3000 {
			t.Error("poll config not preserved")
		}
		if len(loaded.MQTT) != 1 || loaded.MQTT[0].Broker != "mqtt.local" {
			t.Error("MQTT config not preserved")
		}
	})

	t.Run("creates directory if needed", func(t *testing.T) {
		path := filepath.Join(tmpDir, "subdir", "nested", "config.yaml")
		cfg := DefaultConfig()

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("config file was not created")
		}
	})

	t.Run("returns error for invalid yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.yaml")
		os.WriteFile(path, []byte("invalid: yaml: content: ["), 0644)

		_, err := Load(path)
		if err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

func TestPollOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddPoll and FindPoll", func(t *testing.T) {
		item := PollItem{Name: "soc", Nr: 7002, Family: "bsp", Device: "BSP"}
		cfg.AddPoll(item)

		found := cfg.FindPoll("soc")
		if found == nil {
			t.Fatal("FindPoll returned nil")
		}
		if found.Nr != 7002 {
			t.Errorf("expected nr 7002, got %d", found.Nr)
		}
	})

	t.Run("FindPoll returns nil for nonexistent", func(t *testing.T) {
		if cfg.FindPoll("nonexistent") != nil {
			t.Error("expected nil for nonexistent poll item")
		}
	})

	t.Run("UpdatePoll", func(t *testing.T) {
		updated := PollItem{Name: "soc", Nr: 7002, Family: "bsp", Device: "BSP", Enabled: true}
		if !cfg.UpdatePoll("soc", updated) {
			t.Error("UpdatePoll returned false")
		}

		found := cfg.FindPoll("soc")
		if !found.Enabled {
			t.Error("poll item not updated")
		}
	})

	t.Run("UpdatePoll returns false for nonexistent", func(t *testing.T) {
		if cfg.UpdatePoll("nonexistent", PollItem{}) {
			t.Error("expected false for nonexistent poll item")
		}
	})

	t.Run("RemovePoll", func(t *testing.T) {
		if !cfg.RemovePoll("soc") {
			t.Error("RemovePoll returned false")
		}
		if cfg.FindPoll("soc") != nil {
			t.Error("poll item not removed")
		}
	})

	t.Run("RemovePoll returns false for nonexistent", func(t *testing.T) {
		if cfg.RemovePoll("nonexistent") {
			t.Error("expected false for nonexistent poll item")
		}
	})
}

func TestMQTTOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddMQTT and FindMQTT", func(t *testing.T) {
		mqtt := MQTTConfig{Name: "Broker1", Broker: "mqtt.local"}
		cfg.AddMQTT(mqtt)

		found := cfg.FindMQTT("Broker1")
		if found == nil {
			t.Fatal("FindMQTT returned nil")
		}
		if found.Broker != "mqtt.local" {
			t.Errorf("expected broker 'mqtt.local', got %s", found.Broker)
		}
	})

	t.Run("UpdateMQTT", func(t *testing.T) {
		updated := MQTTConfig{Name: "Broker1", Broker: "mqtt2.local", Port: 8883}
		if !cfg.UpdateMQTT("Broker1", updated) {
			t.Error("UpdateMQTT returned false")
		}

		found := cfg.FindMQTT("Broker1")
		if found.Port != 8883 {
			t.Error("MQTT not updated")
		}
	})

	t.Run("RemoveMQTT", func(t *testing.T) {
		if !cfg.RemoveMQTT("Broker1") {
			t.Error("RemoveMQTT returned false")
		}
		if cfg.FindMQTT("Broker1") != nil {
			t.Error("MQTT not removed")
		}
	})
}

func TestValkeyOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddValkey and FindValkey", func(t *testing.T) {
		valkey := ValkeyConfig{Name: "Redis1", Address: "localhost:6379"}
		cfg.AddValkey(valkey)

		found := cfg.FindValkey("Redis1")
		if found == nil {
			t.Fatal("FindValkey returned nil")
		}
		if found.Address != "localhost:6379" {
			t.Errorf("expected address 'localhost:6379', got %s", found.Address)
		}
	})

	t.Run("UpdateValkey", func(t *testing.T) {
		updated := ValkeyConfig{Name: "Redis1", Address: "redis.local:6380"}
		if !cfg.UpdateValkey("Redis1", updated) {
			t.Error("UpdateValkey returned false")
		}

		found := cfg.FindValkey("Redis1")
		if found.Address != "redis.local:6380" {
			t.Error("Valkey not updated")
		}
	})

	t.Run("RemoveValkey", func(t *testing.T) {
		if !cfg.RemoveValkey("Redis1") {
			t.Error("RemoveValkey returned false")
		}
		if cfg.FindValkey("Redis1") != nil {
			t.Error("Valkey not removed")
		}
	})
}

func TestKafkaOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddKafka and FindKafka", func(t *testing.T) {
		kafka := KafkaConfig{Name: "Cluster1", Brokers: []string{"kafka:9092"}, EnableWriteback: true}
		cfg.AddKafka(kafka)

		found := cfg.FindKafka("Cluster1")
		if found == nil {
			t.Fatal("FindKafka returned nil")
		}
		if len(found.Brokers) != 1 || found.Brokers[0] != "kafka:9092" {
			t.Errorf("expected brokers ['kafka:9092'], got %v", found.Brokers)
		}
		if !found.EnableWriteback {
			t.Error("EnableWriteback not preserved")
		}
	})

	t.Run("UpdateKafka", func(t *testing.T) {
		updated := KafkaConfig{Name: "Cluster1", Brokers: []string{"kafka1:9092", "kafka2:9092"}}
		if !cfg.UpdateKafka("Cluster1", updated) {
			t.Error("UpdateKafka returned false")
		}

		found := cfg.FindKafka("Cluster1")
		if len(found.Brokers) != 2 {
			t.Error("Kafka not updated")
		}
	})

	t.Run("RemoveKafka", func(t *testing.T) {
		if !cfg.RemoveKafka("Cluster1") {
			t.Error("RemoveKafka returned false")
		}
		if cfg.FindKafka("Cluster1") != nil {
			t.Error("Kafka not removed")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad namespace", func(c *Config) { c.Namespace = "has spaces" }, true},
		{"good namespace", func(c *Config) { c.Namespace = "plant-1.east" }, false},
		{"bad transport", func(c *Config) { c.Gateway.Transport = "carrier-pigeon" }, true},
		{"udp without address", func(c *Config) { c.Gateway.Transport = TransportUDP }, true},
		{"udp with address", func(c *Config) {
			c.Gateway.Transport = TransportUDP
			c.Gateway.Address = "192.168.1.50:4001"
		}, false},
		{"serial without device", func(c *Config) { c.Gateway.Transport = TransportSerial }, true},
		{"poll item without name", func(c *Config) {
			c.Poll = []PollItem{{Nr: 3000}}
		}, true},
		{"duplicate poll names", func(c *Config) {
			c.Poll = []PollItem{{Name: "a", Nr: 3000}, {Name: "a", Nr: 3001}}
		}, true},
		{"poll item without nr", func(c *Config) {
			c.Poll = []PollItem{{Name: "a"}}
		}, true},
		{"poll item device and aggregation", func(c *Config) {
			c.Poll = []PollItem{{Name: "a", Nr: 3000, Device: "XT1", Aggregation: "sum"}}
		}, true},
		{"valid poll items", func(c *Config) {
			c.Poll = []PollItem{
				{Name: "a", Nr: 3000, Device: "XT1"},
				{Name: "b", Nr: 3023, Aggregation: "sum"},
			}
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestChangeListeners(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "notify.yaml")

	cfg := DefaultConfig()
	fired := make(chan struct{}, 1)
	id := cfg.AddOnChangeListener(func() { fired <- struct{}{} })

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("change listener did not fire")
	}

	cfg.RemoveOnChangeListener(id)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	select {
	case <-fired:
		t.Error("removed listener still fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
	if !filepath.IsAbs(path) && path != "config.yaml" {
		t.Error("expected absolute path or 'config.yaml'")
	}
}
