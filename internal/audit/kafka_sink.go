package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes each event as a JSON message keyed by event type.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	headers := map[string]string{
		"event_id":   ev.ID,
		"event_type": string(ev.Type),
	}
	return s.producer.ProduceMessage(ctx, s.topic, []byte(ev.Type), value, headers)
}

func (s *KafkaSink) Name() string { return "kafka" }
