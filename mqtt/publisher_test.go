package mqtt

import (
	"testing"
	"time"

	"modlink/config"
)

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		broker string
		tls    bool
		want   string
	}{
		{"localhost:1883", false, "tcp://localhost:1883"},
		{"localhost:8883", true, "ssl://localhost:8883"},
		{"tcp://broker.example:1883", false, "tcp://broker.example:1883"},
		{"ssl://broker.example:8883", false, "ssl://broker.example:8883"},
	}

	for _, tt := range tests {
		p := NewPublisher(&config.MQTTConfig{Broker: tt.broker, UseTLS: tt.tls}, "s")
		if got := p.brokerURL(); got != tt.want {
			t.Errorf("brokerURL(%q, tls=%v) = %q, want %q", tt.broker, tt.tls, got, tt.want)
		}
	}
}

func TestTopicLayout(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{RootTopic: "modlink"}, "sorting_station")
	if got := p.topic("motor_speed"); got != "modlink/sorting_station/motor_speed" {
		t.Errorf("topic = %q", got)
	}
}

func TestPublishWhileStoppedIsNoop(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Broker: "localhost:1883", RootTopic: "modlink"}, "s")
	if p.IsRunning() {
		t.Error("new publisher should not be running")
	}
	if err := p.PublishPoint("motor_speed", 10, time.Now()); err != nil {
		t.Errorf("publish while stopped = %v, want nil", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop on stopped publisher = %v", err)
	}
}
