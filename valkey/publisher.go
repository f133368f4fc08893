// Package valkey mirrors the latest controller point values into a
// Valkey/Redis server so other services can read state without touching
// the field bus.
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

	"modlink/config"
	"modlink/logging"
)

// joinKey joins key segments with colons, trimming stray colons from each
// segment so hand-edited prefixes cannot produce empty key parts.
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

// ChangeMessage is the JSON payload published on the change channel.
type ChangeMessage struct {
	Scene     string      `json:"scene"`
	Point     string      `json:"point"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher keeps the latest point values in a Valkey hash and optionally
// publishes each change on a Pub/Sub channel.
type Publisher struct {
	config *config.ValkeyConfig
	scene  string

	client  *redis.Client
	running bool
	mu      sync.RWMutex
}

// NewPublisher creates a Valkey publisher for the given scene.
func NewPublisher(cfg *config.ValkeyConfig, scene string) *Publisher {
	return &Publisher{config: cfg, scene: scene}
}

// Name identifies the publisher in status output and logs.
func (p *Publisher) Name() string { return "valkey" }

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the server address with scheme.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// stateKey is the hash holding the latest value per point.
func (p *Publisher) stateKey() string {
	return joinKey(p.config.KeyPrefix, p.scene, "state")
}

// Start connects to the server and verifies it with a ping.
func (p *Publisher) Start() error {
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
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	logging.DebugConnect("valkey", p.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logging.DebugConnectError("valkey", p.Address(), err)
		client.Close()
		return fmt.Errorf("connect to %s: %w", p.config.Address, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		client.Close()
		return nil
	}
	p.client = client
	p.running = true

	logging.DebugLog("valkey", "connected to %s", p.Address())
	return nil
}

// Stop disconnects from the server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	client := p.client
	p.client = nil
	p.running = false
	p.mu.Unlock()

	logging.DebugDisconnect("valkey", p.Address(), "stopped by caller")
	if client != nil {
		return client.Close()
	}
	return nil
}

// PublishPoint stores the latest value for a point and, when a channel is
// configured, publishes the change as JSON. Not running is not an error;
// the publisher is a mirror, never a gate on the poll loop.
func (p *Publisher) PublishPoint(point string, value interface{}, ts time.Time) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.HSet(ctx, p.stateKey(), point, fmt.Sprintf("%v", value)).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", p.stateKey(), err)
	}

	if p.config.Channel != "" {
		msg := ChangeMessage{
			Scene:     p.scene,
			Point:     point,
			Value:     value,
			Timestamp: ts.UTC(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		client.Publish(ctx, joinKey(p.config.KeyPrefix, p.config.Channel), data)
	}

	return nil
}
