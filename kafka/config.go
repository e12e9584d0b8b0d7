// Package kafka publishes polled datapoint readings to Kafka clusters and
// optionally consumes parameter write requests from a write topic.
package kafka

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"xcomlink/config"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// DefaultWriteMaxAge is how old a queued write request may be before it is
// skipped instead of executed.
const DefaultWriteMaxAge = 30 * time.Second

// Config holds the runtime configuration for a Kafka cluster connection.
// It is derived from the YAML-facing config.KafkaConfig, with optional
// fields resolved to concrete values and topics derived from the namespace.
type Config struct {
	Name          string
	Enabled       bool
	Brokers       []string
	UseTLS        bool
	TLSSkipVerify bool
	SASLMechanism SASLMechanism
	Username      string
	Password      string

	// Producer settings
	RequiredAcks     int // -1=all, 0=none, 1=leader only
	MaxRetries       int
	RetryBackoff     time.Duration
	AutoCreateTopics bool

	// Reading publishing settings
	PublishChanges bool
	Topic          string // base topic, derived from namespace and selector

	// Write-back settings
	EnableWriteback bool
	WriteMaxAge     time.Duration
}

// topicJoin joins topic segments with dots, skipping empty segments.
func topicJoin(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ".")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// FromYAML converts a persisted cluster configuration into a runtime one.
// The base topic is namespace[.selector].values unless absent fields say
// otherwise; AutoCreateTopics defaults to true when unset.
func FromYAML(cfg config.KafkaConfig, namespace string) Config {
	autoCreate := true
	if cfg.AutoCreateTopics != nil {
		autoCreate = *cfg.AutoCreateTopics
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = 100 * time.Millisecond
	}
	acks := cfg.RequiredAcks
	if acks == 0 {
		acks = -1
	}

	return Config{
		Name:             cfg.Name,
		Enabled:          cfg.Enabled,
		Brokers:          cfg.Brokers,
		UseTLS:           cfg.UseTLS,
		TLSSkipVerify:    cfg.TLSSkipVerify,
		SASLMechanism:    SASLMechanism(cfg.SASLMechanism),
		Username:         cfg.Username,
		Password:         cfg.Password,
		RequiredAcks:     acks,
		MaxRetries:       maxRetries,
		RetryBackoff:     backoff,
		AutoCreateTopics: autoCreate,
		PublishChanges:   cfg.PublishChanges,
		Topic:            topicJoin(namespace, cfg.Selector, "values"),
		EnableWriteback:  cfg.EnableWriteback,
		WriteMaxAge:      DefaultWriteMaxAge,
	}
}

// WriteTopic returns the topic consumed for incoming write requests.
func (c *Config) WriteTopic() string {
	return strings.TrimSuffix(c.Topic, ".values") + ".writes"
}

// WriteResponseTopic returns the topic write responses are published to.
func (c *Config) WriteResponseTopic() string {
	return strings.TrimSuffix(c.Topic, ".values") + ".write-responses"
}

// ConsumerGroup returns the consumer group ID for the write topic.
func (c *Config) ConsumerGroup() string {
	return "xcomlink-" + c.Name
}

// GetWriteMaxAge returns the maximum age for queued write requests.
func (c *Config) GetWriteMaxAge() time.Duration {
	if c.WriteMaxAge <= 0 {
		return DefaultWriteMaxAge
	}
	return c.WriteMaxAge
}

// GetTLSConfig returns a TLS configuration if TLS is enabled.
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}
}

// saslMechanism returns the configured SASL mechanism, or nil when
// authentication is disabled.
func (c *Config) saslMechanism() sasl.Mechanism {
	if c.Username == "" {
		return nil
	}

	switch c.SASLMechanism {
	case SASLPlain:
		return plain.Mechanism{
			Username: c.Username,
			Password: c.Password,
		}
	case SASLSCRAMSHA256:
		mechanism, _ := scram.Mechanism(scram.SHA256, c.Username, c.Password)
		return mechanism
	case SASLSCRAMSHA512:
		mechanism, _ := scram.Mechanism(scram.SHA512, c.Username, c.Password)
		return mechanism
	default:
		return nil
	}
}

// createDialer creates a Kafka dialer with auth and TLS.
func (c *Config) createDialer() *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	if c.UseTLS {
		dialer.TLS = c.GetTLSConfig()
	}

	if mechanism := c.saslMechanism(); mechanism != nil {
		dialer.SASLMechanism = mechanism
	}

	return dialer
}

// createTransport creates a Kafka transport with auth and TLS.
func (c *Config) createTransport() *kafka.Transport {
	transport := &kafka.Transport{
		DialTimeout: 10 * time.Second,
	}

	if c.UseTLS {
		transport.TLS = c.GetTLSConfig()
	}

	if mechanism := c.saslMechanism(); mechanism != nil {
		transport.SASL = mechanism
	}

	return transport
}
