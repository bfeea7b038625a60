package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CampaignDispatcher publishes campaign dispatch events to Kafka.
type CampaignDispatcher struct {
	writer *kafka.Writer
}

// NewCampaignDispatcher constructs a dispatcher for the given topic.
func NewCampaignDispatcher(k *Kafka, topic string) *CampaignDispatcher {
	return &CampaignDispatcher{
		writer: k.NewWriter(topic),
	}
}

// Dispatch writes the dispatch message to Kafka. Messages are keyed by
// campaign id so redeliveries of the same campaign land on one partition.
func (d *CampaignDispatcher) Dispatch(ctx context.Context, msg DispatchMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("campaign dispatcher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.CampaignID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := d.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("campaign dispatcher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (d *CampaignDispatcher) Close() error {
	return d.writer.Close()
}
