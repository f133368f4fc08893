// Package mqtt publishes controller point values to an MQTT broker.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"modlink/config"
	"modlink/logging"
)

// PointMessage is the JSON structure published for each point.
type PointMessage struct {
	Scene     string      `json:"scene"`
	Point     string      `json:"point"`
	Value     interface{} `json:"value"`
	Timestamp string      `json:"timestamp"`
}

// Publisher handles the MQTT connection and publishes point values to a
// single broker. Values are published on change; a republish interval
// forces periodic full updates for late subscribers.
type Publisher struct {
	config *config.MQTTConfig
	scene  string

	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	// Last published value per point, for change suppression.
	lastValues map[string]interface{}
	lastPub    map[string]time.Time
	lastMu     sync.Mutex
}

// NewPublisher creates an MQTT publisher for the given scene.
func NewPublisher(cfg *config.MQTTConfig, scene string) *Publisher {
	return &Publisher{
		config:     cfg,
		scene:      scene,
		lastValues: make(map[string]interface{}),
		lastPub:    make(map[string]time.Time),
	}
}

// Name identifies the publisher in status output and logs.
func (p *Publisher) Name() string { return "mqtt" }

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// brokerURL normalizes the configured broker into a full URL, honoring
// the TLS flag when no scheme is given.
func (p *Publisher) brokerURL() string {
	broker := p.config.Broker
	if strings.Contains(broker, "://") {
		return broker
	}
	if p.config.UseTLS {
		return "ssl://" + broker
	}
	return "tcp://" + broker
}

// Start connects to the broker. Safe to call when already running.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.brokerURL())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	clientID := p.config.ClientID
	if clientID == "" {
		clientID = "modlink"
	}
	opts.SetClientID(clientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	logging.DebugConnect("mqtt", p.brokerURL())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		err := fmt.Errorf("connection timeout")
		logging.DebugConnectError("mqtt", p.brokerURL(), err)
		return err
	}
	if token.Error() != nil {
		logging.DebugConnectError("mqtt", p.brokerURL(), token.Error())
		return token.Error()
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	// Force a full republish to the fresh session.
	p.lastMu.Lock()
	p.lastValues = make(map[string]interface{})
	p.lastPub = make(map[string]time.Time)
	p.lastMu.Unlock()

	logging.DebugLog("mqtt", "connected to %s", p.brokerURL())
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return nil
	}
	client := p.client
	p.client = nil
	p.running = false
	p.mu.Unlock()

	client.Disconnect(500)
	logging.DebugDisconnect("mqtt", p.brokerURL(), "stopped by caller")
	return nil
}

// topic builds the full topic path for a point.
func (p *Publisher) topic(point string) string {
	return fmt.Sprintf("%s/%s/%s", p.config.RootTopic, p.scene, point)
}

// PublishPoint sends one point value if it changed since the last publish,
// or if the republish interval has elapsed. A suppressed duplicate is not
// an error.
func (p *Publisher) PublishPoint(point string, value interface{}, ts time.Time) error {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return nil
	}

	p.lastMu.Lock()
	last, seen := p.lastValues[point]
	stale := p.config.RepublishInterval > 0 &&
		time.Since(p.lastPub[point]) >= p.config.RepublishInterval
	p.lastMu.Unlock()

	// Compare formatted values so numeric types publish stable.
	if seen && !stale && fmt.Sprintf("%v", last) == fmt.Sprintf("%v", value) {
		return nil
	}

	msg := PointMessage{
		Scene:     p.scene,
		Point:     point,
		Value:     value,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	token := client.Publish(p.topic(point), p.config.QOS, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish %s: timeout", point)
	}
	if token.Error() != nil {
		logging.DebugError("mqtt", "publish "+point, token.Error())
		return token.Error()
	}

	p.lastMu.Lock()
	p.lastValues[point] = value
	p.lastPub[point] = time.Now()
	p.lastMu.Unlock()

	return nil
}
