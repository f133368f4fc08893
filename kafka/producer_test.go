package kafka

import (
	"testing"
	"time"

	"modlink/config"
)

func TestStartValidatesConfig(t *testing.T) {
	p := NewProducer(&config.KafkaConfig{}, "s")
	if err := p.Start(); err == nil {
		t.Error("expected error with no brokers configured")
	}

	p = NewProducer(&config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "s")
	if err := p.Start(); err == nil {
		t.Error("expected error with no topic configured")
	}
}

func TestPublishWhileStoppedIsNoop(t *testing.T) {
	p := NewProducer(&config.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "modlink.changes",
	}, "s")

	if p.IsRunning() {
		t.Error("new producer should not be running")
	}
	if err := p.PublishPoint("motor_speed", 10, time.Now()); err != nil {
		t.Errorf("publish while stopped = %v, want nil", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop on stopped producer = %v", err)
	}
}
