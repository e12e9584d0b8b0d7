// Package valkey publishes polled datapoint readings to Valkey/Redis
// servers and consumes parameter write requests from a write queue.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"xcomlink/config"
	"xcomlink/logging"
	"xcomlink/poller"
)

// WriteHandler applies a write request to the bus.
// Returns an error if the write fails.
type WriteHandler func(name string, value interface{}) error

// WriteValidator checks if a poll item accepts writes.
type WriteValidator func(name string) bool

// joinKey joins key segments with colons, trimming leading/trailing colons
// from each segment to avoid empty key parts (e.g., "foo::bar" or ":foo:bar:").
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// ValueMessage is the JSON structure stored per reading.
type ValueMessage struct {
	Topic string `json:"topic"`
	poller.Reading
	Writable bool `json:"writable"`
}

// WriteRequest represents a write request from the write queue.
type WriteRequest struct {
	Topic string      `json:"topic"`
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// WriteResponse represents a response to a write request.
type WriteResponse struct {
	Topic     string      `json:"topic"`
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// StatusMessage represents the gateway connection status stored in Valkey.
type StatusMessage struct {
	Topic     string    `json:"topic"`
	Online    bool      `json:"online"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher handles publishing readings to one Valkey server.
type Publisher struct {
	config  *config.ValkeyConfig
	rootKey string
	client  *redis.Client
	running bool
	mu      sync.RWMutex

	writeHandler      WriteHandler
	writeValidator    WriteValidator
	onConnectCallback func()

	// Write-back processing
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher creates a publisher for a single server. The root key is the
// namespace, extended by the config's selector when set.
func NewPublisher(cfg *config.ValkeyConfig, namespace string) *Publisher {
	return &Publisher{
		config:   cfg,
		rootKey:  joinKey(namespace, cfg.Selector),
		stopChan: make(chan struct{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	// Quick check if already running
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}

	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Create client and test connection WITHOUT holding the lock
	client := redis.NewClient(opts)

	logging.DebugConnect("valkey", p.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logging.DebugConnectError("valkey", p.Address(), err)
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}

	logging.DebugConnectSuccess("valkey", p.Address(), fmt.Sprintf("DB %d", p.config.Database))

	// Now acquire lock to update state
	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check we're not already running (race condition check)
	if p.running {
		client.Close()
		return nil
	}

	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})

	if p.config.EnableWriteback {
		p.wg.Add(1)
		go p.writebackListener()
	}

	// Call on-connect callback to publish initial values
	if p.onConnectCallback != nil {
		go p.onConnectCallback()
	}

	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}

	p.running = false
	close(p.stopChan)

	client := p.client
	p.client = nil
	p.mu.Unlock()

	// Wait for the write-back listener with timeout
	// (it blocks up to 1s in BLPop between stop checks)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		logging.DebugLog("valkey", "timeout waiting for write-back listener to stop")
	}

	logging.DebugDisconnect("valkey", p.Address(), "stopped")

	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// BuildKey constructs the value key for a poll item.
func (p *Publisher) BuildKey(name string) string {
	return joinKey(p.rootKey, "values", name)
}

// Publish stores a reading in Valkey and, when configured, announces the
// change on the Pub/Sub channel.
func (p *Publisher) Publish(r poller.Reading, writable bool) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	msg := ValueMessage{
		Topic:    p.rootKey,
		Reading:  r,
		Writable: writable,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	// Use a short timeout to prevent blocking
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, p.BuildKey(r.Name), data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	if cfg.PublishChanges {
		channel := joinKey(p.rootKey, "changes")
		client.Publish(ctx, channel, data)
	}

	return nil
}

// PublishStatus stores the gateway connection status in Valkey.
func (p *Publisher) PublishStatus(online bool, status, errMsg string) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	key := joinKey(p.rootKey, "status")

	msg := StatusMessage{
		Topic:     p.rootKey,
		Online:    online,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, key, data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set status key: %w", err)
	}

	if cfg.PublishChanges {
		client.Publish(ctx, joinKey(p.rootKey, "status", "changes"), data)
	}

	return nil
}

// SetWriteHandler sets the callback for processing write requests.
func (p *Publisher) SetWriteHandler(handler WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = handler
}

// SetWriteValidator sets the callback for validating write requests.
func (p *Publisher) SetWriteValidator(validator WriteValidator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeValidator = validator
}

// SetOnConnectCallback sets the callback invoked after connection is established.
func (p *Publisher) SetOnConnectCallback(callback func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectCallback = callback
}

// writebackListener pops write requests off the write queue.
func (p *Publisher) writebackListener() {
	defer p.wg.Done()

	queueKey := joinKey(p.rootKey, "writes")
	responseChannel := joinKey(p.rootKey, "write", "responses")

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		p.mu.RLock()
		if !p.running || p.client == nil {
			p.mu.RUnlock()
			time.Sleep(100 * time.Millisecond)
			continue
		}
		client := p.client
		p.mu.RUnlock()

		// Block waiting for write requests (with timeout for checking stop)
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		result, err := client.BLPop(ctx, 1*time.Second, queueKey).Result()
		cancel()

		if err != nil {
			if err != redis.Nil {
				logging.DebugError("valkey", "write queue", err)
			}
			continue
		}

		if len(result) < 2 {
			continue
		}

		var req WriteRequest
		if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
			logging.DebugError("valkey", "parse write request", err)
			continue
		}

		p.processWriteRequest(client, req, responseChannel)
	}
}

// processWriteRequest handles a single write request.
func (p *Publisher) processWriteRequest(client *redis.Client, req WriteRequest, responseChannel string) {
	p.mu.RLock()
	handler := p.writeHandler
	validator := p.writeValidator
	rootKey := p.rootKey
	p.mu.RUnlock()

	response := WriteResponse{
		Topic:     req.Topic,
		Name:      req.Name,
		Value:     req.Value,
		Timestamp: time.Now().UTC(),
	}

	if req.Topic != "" && req.Topic != rootKey {
		response.Success = false
		response.Error = fmt.Sprintf("topic mismatch: expected %s, got %s", rootKey, req.Topic)
	} else if validator != nil && !validator(req.Name) {
		response.Success = false
		response.Error = fmt.Sprintf("item not writable: %s", req.Name)
	} else if handler == nil {
		response.Success = false
		response.Error = "no write handler configured"
	} else {
		if err := handler(req.Name, req.Value); err != nil {
			response.Success = false
			response.Error = err.Error()
		} else {
			response.Success = true
		}
	}

	data, _ := json.Marshal(response)
	ctx := context.Background()
	client.Publish(ctx, responseChannel, data)

	logging.DebugLog("valkey", "write %s = %v -> success=%v", req.Name, req.Value, response.Success)
}
