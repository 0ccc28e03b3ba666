package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"snapclaim/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic, keyed by entity id so changes to the
// same route or invoice stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *logger.Logger
}

// NewKafkaPublisher builds a synchronous producer for topic.
func NewKafkaPublisher(brokers []string, topic string, log *logger.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.Type, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.EntityID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		p.log.Error().Err(err).Str("topic", p.topic).Str("type", evt.Type).Msg("kafka publish failed")
		return fmt.Errorf("publish %s to %s: %w", evt.Type, p.topic, err)
	}
	p.log.Debug().Str("topic", p.topic).Str("type", evt.Type).Str("entity_id", evt.EntityID).Msg("event published")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
