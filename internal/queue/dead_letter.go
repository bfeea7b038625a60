package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetter parks payloads a worker could not process, preserving the raw
// bytes and the topic they came from for offline inspection.
type DeadLetter struct {
	writer *kafka.Writer
}

// NewDeadLetter constructs a dead letter publisher for the given topic.
func NewDeadLetter(k *Kafka, topic string) *DeadLetter {
	return &DeadLetter{writer: k.NewWriter(topic)}
}

// Publish parks one payload. The source topic and failure reason travel as
// headers so the payload itself stays untouched.
func (d *DeadLetter) Publish(ctx context.Context, sourceTopic string, value []byte, reason string) error {
	record := kafka.Message{
		Key:   []byte(sourceTopic),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "source-topic", Value: []byte(sourceTopic)},
			{Key: "reason", Value: []byte(reason)},
		},
	}
	if err := d.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("dead letter: write: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (d *DeadLetter) Close() error {
	if d.writer == nil {
		return nil
	}
	return d.writer.Close()
}
