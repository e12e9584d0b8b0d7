package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"xcomlink/config"
	"xcomlink/logging"
	"xcomlink/poller"
)

// ValueMessage is the JSON structure published to Kafka per reading.
type ValueMessage struct {
	poller.Reading
	Writable bool `json:"writable"`
}

// StatusMessage is the JSON structure published for gateway status changes.
type StatusMessage struct {
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// publishJob represents a pending Kafka publish operation.
type publishJob struct {
	producer *Producer
	topic    string
	key      []byte
	payload  []byte
	cacheKey string
	value    interface{}
}

// MaxPublishWorkers is the maximum number of concurrent publish goroutines.
const MaxPublishWorkers = 10

// MaxPublishQueueSize is the maximum number of pending publish jobs.
const MaxPublishQueueSize = 1000

// Manager manages multiple Kafka producer connections and their optional
// write-back consumers.
type Manager struct {
	producers  map[string]*Producer
	consumers  map[string]*Consumer
	mu         sync.RWMutex
	lastValues map[string]interface{} // last published value per cluster/item
	lastMu     sync.RWMutex

	writeHandler   WriteHandler
	writeValidator WriteValidator

	// Worker pool for bounded publish goroutines
	publishQueue chan publishJob
	wg           sync.WaitGroup
	stopChan     chan struct{}
	started      bool
}

// NewManager creates a new Kafka manager.
func NewManager() *Manager {
	m := &Manager{
		producers:    make(map[string]*Producer),
		consumers:    make(map[string]*Consumer),
		lastValues:   make(map[string]interface{}),
		publishQueue: make(chan publishJob, MaxPublishQueueSize),
		stopChan:     make(chan struct{}),
	}
	m.startWorkers()
	return m
}

// startWorkers starts the publish worker goroutines.
func (m *Manager) startWorkers() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < MaxPublishWorkers; i++ {
		m.wg.Add(1)
		go m.publishWorker()
	}
}

// publishWorker processes publish jobs from the queue.
func (m *Manager) publishWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopChan:
			return
		case job, ok := <-m.publishQueue:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := job.producer.Produce(ctx, job.topic, job.key, job.payload); err == nil {
				m.lastMu.Lock()
				m.lastValues[job.cacheKey] = job.value
				m.lastMu.Unlock()
			} else {
				logging.DebugError("kafka", "publish "+job.cacheKey, err)
			}
			cancel()
		}
	}
}

// AddCluster adds a new Kafka cluster configuration.
func (m *Manager) AddCluster(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.producers[cfg.Name]; exists {
		return
	}

	producer := NewProducer(cfg)
	m.producers[cfg.Name] = producer

	if cfg.EnableWriteback {
		consumer := NewConsumer(cfg, producer)
		consumer.SetWriteHandler(m.writeHandler)
		consumer.SetWriteValidator(m.writeValidator)
		m.consumers[cfg.Name] = consumer
	}
}

// RemoveCluster removes a Kafka cluster and disconnects.
func (m *Manager) RemoveCluster(name string) {
	m.mu.Lock()
	producer, exists := m.producers[name]
	consumer := m.consumers[name]
	if exists {
		delete(m.producers, name)
		delete(m.consumers, name)
	}
	m.mu.Unlock()

	if consumer != nil {
		consumer.Stop()
	}
	if exists && producer != nil {
		producer.Disconnect()
	}
}

// GetProducer returns the producer for the named cluster.
func (m *Manager) GetProducer(name string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[name]
}

// ListClusters returns all cluster names.
func (m *Manager) ListClusters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.producers))
	for name := range m.producers {
		names = append(names, name)
	}
	return names
}

// Connect connects to the named Kafka cluster.
func (m *Manager) Connect(name string) error {
	m.mu.RLock()
	producer, exists := m.producers[name]
	consumer := m.consumers[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("kafka cluster not found: %s", name)
	}

	if err := producer.Connect(); err != nil {
		return err
	}
	if consumer != nil {
		return consumer.Start()
	}
	return nil
}

// Disconnect disconnects from the named Kafka cluster.
func (m *Manager) Disconnect(name string) {
	m.mu.RLock()
	producer, exists := m.producers[name]
	consumer := m.consumers[name]
	m.mu.RUnlock()

	if consumer != nil {
		consumer.Stop()
	}
	if exists && producer != nil {
		producer.Disconnect()
	}
}

// ConnectEnabled connects to all enabled Kafka clusters.
func (m *Manager) ConnectEnabled() {
	m.mu.RLock()
	names := make([]string, 0, len(m.producers))
	for name, p := range m.producers {
		if p.config.Enabled {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range names {
		go func(n string) {
			if err := m.Connect(n); err != nil {
				logging.DebugError("kafka", "connect "+n, err)
			}
		}(name)
	}
}

// StopAll disconnects from all Kafka clusters and stops workers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		m.disconnectAll()
		return
	}

	// Save old channels and create new ones while holding the lock
	oldStopChan := m.stopChan
	m.stopChan = make(chan struct{})
	m.publishQueue = make(chan publishJob, MaxPublishQueueSize)
	m.started = false
	m.mu.Unlock()

	close(oldStopChan)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		logging.DebugLog("kafka", "timeout waiting for publish workers to stop")
	}

	m.disconnectAll()
}

func (m *Manager) disconnectAll() {
	m.mu.RLock()
	producers := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.RUnlock()

	for _, c := range consumers {
		c.Stop()
	}
	for _, p := range producers {
		p.Disconnect()
	}
}

// Produce sends a message to a topic on the named cluster.
func (m *Manager) Produce(ctx context.Context, clusterName, topic string, key, value []byte) error {
	m.mu.RLock()
	producer, exists := m.producers[clusterName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("kafka cluster not found: %s", clusterName)
	}

	return producer.Produce(ctx, topic, key, value)
}

// GetClusterStatus returns the status of a specific cluster.
func (m *Manager) GetClusterStatus(name string) (ConnectionStatus, error) {
	m.mu.RLock()
	producer, exists := m.producers[name]
	m.mu.RUnlock()

	if !exists {
		return StatusDisconnected, fmt.Errorf("cluster not found")
	}

	return producer.GetStatus(), producer.GetError()
}

// LoadFromConfig converts and adds cluster configurations.
func (m *Manager) LoadFromConfig(cfgs []config.KafkaConfig, namespace string) {
	for i := range cfgs {
		cfg := FromYAML(cfgs[i], namespace)
		m.AddCluster(&cfg)
	}
}

// Publish sends a reading to all connected clusters that have
// PublishChanges enabled. Only publishes if the value changed since the
// last publish for that cluster, unless force is true.
func (m *Manager) Publish(r poller.Reading, force bool) {
	// Ensure workers are running
	m.startWorkers()

	m.mu.RLock()
	producers := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		producers = append(producers, p)
	}
	validator := m.writeValidator
	m.mu.RUnlock()

	writable := false
	if validator != nil {
		writable = validator(r.Name)
	}

	for _, p := range producers {
		if p.GetStatus() != StatusConnected {
			continue
		}
		if !p.config.PublishChanges || p.config.Topic == "" {
			continue
		}

		cacheKey := fmt.Sprintf("%s/%s", p.config.Name, r.Name)

		m.lastMu.RLock()
		lastValue, exists := m.lastValues[cacheKey]
		m.lastMu.RUnlock()

		if exists && !force && fmt.Sprintf("%v", lastValue) == fmt.Sprintf("%v", r.Value) {
			continue
		}

		msg := ValueMessage{
			Reading:  r,
			Writable: writable,
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}

		// Item name as key keeps per-item ordering within a partition
		job := publishJob{
			producer: p,
			topic:    p.config.Topic,
			key:      []byte(r.Name),
			payload:  payload,
			cacheKey: cacheKey,
			value:    r.Value,
		}
		select {
		case m.publishQueue <- job:
		default:
			logging.DebugLog("kafka", "publish queue full, dropping message for %s", cacheKey)
		}
	}
}

// PublishStatus publishes the gateway connection status to all connected
// clusters with a topic configured.
func (m *Manager) PublishStatus(online bool, status, errMsg string) {
	m.startWorkers()

	m.mu.RLock()
	producers := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		producers = append(producers, p)
	}
	m.mu.RUnlock()

	for _, p := range producers {
		if p.GetStatus() != StatusConnected {
			continue
		}
		if !p.config.PublishChanges || p.config.Topic == "" {
			continue
		}

		msg := StatusMessage{
			Online:    online,
			Status:    status,
			Error:     errMsg,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}

		statusTopic := p.config.Topic + ".status"

		job := publishJob{
			producer: p,
			topic:    statusTopic,
			key:      []byte("status"),
			payload:  payload,
			cacheKey: fmt.Sprintf("%s/status", p.config.Name),
			value:    nil, // Status messages are always published
		}
		select {
		case m.publishQueue <- job:
		default:
			logging.DebugLog("kafka", "publish queue full, dropping status message")
		}
	}
}

// AnyPublishing returns true if any cluster is connected with publishing enabled.
func (m *Manager) AnyPublishing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.producers {
		if p.GetStatus() == StatusConnected && p.config.PublishChanges && p.config.Topic != "" {
			return true
		}
	}
	return false
}

// ClearLastValues clears the change tracking cache, forcing republish of all values.
func (m *Manager) ClearLastValues() {
	m.lastMu.Lock()
	m.lastValues = make(map[string]interface{})
	m.lastMu.Unlock()
}

// SetWriteHandler sets the write handler for all write-back consumers.
func (m *Manager) SetWriteHandler(handler WriteHandler) {
	m.mu.Lock()
	m.writeHandler = handler
	consumers := make([]*Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.Unlock()

	for _, c := range consumers {
		c.SetWriteHandler(handler)
	}
}

// SetWriteValidator sets the write validator for all write-back consumers.
func (m *Manager) SetWriteValidator(validator WriteValidator) {
	m.mu.Lock()
	m.writeValidator = validator
	consumers := make([]*Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.Unlock()

	for _, c := range consumers {
		c.SetWriteValidator(validator)
	}
}
