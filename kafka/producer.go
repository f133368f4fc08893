// Package kafka streams controller state-change events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"modlink/config"
	"modlink/logging"
)

// ChangeEvent is the JSON value produced for each point change. The
// message key is the point name so a compacted topic retains the latest
// value per point.
type ChangeEvent struct {
	Scene     string      `json:"scene"`
	Point     string      `json:"point"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// Producer writes state-change events to a single topic. Writes are
// synchronous; the writer batches internally.
type Producer struct {
	config *config.KafkaConfig
	scene  string

	writer  *kafkago.Writer
	running bool
	mu      sync.RWMutex
}

// NewProducer creates a Kafka producer for the given scene.
func NewProducer(cfg *config.KafkaConfig, scene string) *Producer {
	return &Producer{config: cfg, scene: scene}
}

// Name identifies the producer in status output and logs.
func (p *Producer) Name() string { return "kafka" }

// IsRunning returns whether the producer has been started.
func (p *Producer) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start verifies broker connectivity and builds the topic writer.
func (p *Producer) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	if len(p.config.Brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	if p.config.Topic == "" {
		return fmt.Errorf("no topic configured")
	}

	logging.DebugConnect("kafka", p.config.Brokers[0])

	dialer := &kafkago.Dialer{Timeout: 10 * time.Second, DualStack: true}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		logging.DebugConnectError("kafka", p.config.Brokers[0], err)
		return fmt.Errorf("connect to %s: %w", p.config.Brokers[0], err)
	}
	conn.Close()

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(p.config.Brokers...),
		Topic:    p.config.Topic,
		Balancer: &kafkago.LeastBytes{},

		RequiredAcks: kafkago.RequireOne,
		Async:        false,

		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,

		AllowAutoTopicCreation: true,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		writer.Close()
		return nil
	}
	p.writer = writer
	p.running = true

	logging.DebugLog("kafka", "producing to topic %q on %v", p.config.Topic, p.config.Brokers)
	return nil
}

// Stop closes the writer.
func (p *Producer) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	writer := p.writer
	p.writer = nil
	p.running = false
	p.mu.Unlock()

	logging.DebugDisconnect("kafka", p.config.Topic, "stopped by caller")
	if writer != nil {
		return writer.Close()
	}
	return nil
}

// PublishPoint produces one change event keyed by point name. Not running
// is not an error.
func (p *Producer) PublishPoint(point string, value interface{}, ts time.Time) error {
	p.mu.RLock()
	if !p.running || p.writer == nil {
		p.mu.RUnlock()
		return nil
	}
	writer := p.writer
	p.mu.RUnlock()

	event := ChangeEvent{
		Scene:     p.scene,
		Point:     point,
		Value:     value,
		Timestamp: ts.UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(point),
		Value: payload,
		Time:  ts,
	})
	if err != nil {
		logging.DebugError("kafka", "produce "+point, err)
		return fmt.Errorf("produce %s: %w", point, err)
	}
	return nil
}
