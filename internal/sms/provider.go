package sms

import (
	"context"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
)

// Provider abstracts the SMS vendor integration. Every method is total:
// transport faults, vendor rejections, and timeouts all come back inside the
// result values, never as Go errors, so one recipient's failure can never
// abort a batch.
type Provider interface {
	// Name identifies the provider implementation.
	Name() string
	// Send delivers one message.
	Send(ctx context.Context, phone, body string) domain.SmsResult
	// SendBatch delivers a batch, partitioning outcomes by success. Results
	// correlate to inputs via BatchMessage.ClientID, not by position.
	SendBatch(ctx context.Context, messages []domain.BatchMessage) domain.BatchResult
	// DeliveryStatus reports the vendor's current view of a sent message.
	// Lookup failures report DeliveryUnknown.
	DeliveryStatus(ctx context.Context, messageID string) domain.DeliveryStatus
}
