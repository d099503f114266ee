// Package events is an ambient observability bus: every interesting
// transition in the call lifecycle is published fire-and-forget for
// downstream consumers (analytics, alerting). Publish failures are logged
// and swallowed; nothing in the core call path depends on Kafka being up.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/outbound-voice-orchestrator/internal/config"
)

// EventType names a point in the call lifecycle worth publishing.
type EventType string

const (
	CallInitiated   EventType = "call.initiated"
	RetryScheduled  EventType = "call.retry_scheduled"
	MachineDetected EventType = "call.machine_detected"
	TerminalSuccess EventType = "call.terminal_success"
	TerminalFailure EventType = "call.terminal_failure"
	LadderExhausted EventType = "call.ladder_exhausted"
)

// Event is the envelope published to the events topic.
type Event struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"call_id"`
	ContactID string    `json:"contact_id"`
	Attempt   int       `json:"attempt_index"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Bus publishes Event envelopes to a single Kafka topic.
type Bus struct {
	writer *kafka.Writer
	topic  string
}

// NewBus constructs a Bus. Pass a nil *Bus receiver-safe wrapper by leaving
// cfg.Enabled false at the caller; Publish on a nil writer simply no-ops.
func NewBus(cfg config.KafkaConfig) (*Bus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: no brokers configured")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &Bus{writer: writer, topic: cfg.EventsTopic}, nil
}

// Publish writes ev fire-and-forget. The writer is async, so this call
// returns as soon as the message is queued locally.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if b == nil || b.writer == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.CallID),
		Value: value,
		Time:  ev.At,
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (b *Bus) Close() error {
	if b == nil || b.writer == nil {
		return nil
	}
	return b.writer.Close()
}

// EnsureTopic creates the events topic if it does not already exist.
func (b *Bus) EnsureTopic(ctx context.Context, brokers []string, partitions, replicationFactor int) error {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("events: dial: %w", err)
	}
	defer conn.Close()

	existing, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("events: read partitions: %w", err)
	}
	for _, p := range existing {
		if p.Topic == b.topic {
			return nil
		}
	}

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             b.topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	})
}
