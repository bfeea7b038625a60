package domain

import "github.com/google/uuid"

// DeliveryStatus is the closed vocabulary reported to callers for a sent
// message. Vendor statuses outside the known set map to DeliveryUnknown.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryUnknown   DeliveryStatus = "unknown"
)

// SmsResult is the outcome of a single send attempt. It is a value: produced
// once per send, never mutated. Provider and transport failures are expressed
// here rather than as errors.
type SmsResult struct {
	Success   bool
	MessageID string
	Error     string
	Retryable bool
}

// BatchMessage is one entry of a bulk send. ClientID is an opaque correlation
// id carried through to the matching outcome so callers can map results back
// to recipients without relying on ordering.
type BatchMessage struct {
	ClientID uuid.UUID
	Phone    string
	Body     string
}

// SendOutcome pairs a correlation id with its send result.
type SendOutcome struct {
	ClientID uuid.UUID
	Phone    string
	Result   SmsResult
}

// BatchResult partitions bulk send outcomes by success, preserving the input
// order within each partition.
type BatchResult struct {
	Success []SendOutcome
	Failed  []SendOutcome
}
