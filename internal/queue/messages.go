package queue

import (
	"time"

	"github.com/google/uuid"
)

// DispatchMessage instructs a worker to send out one campaign. Recipients are
// resolved from storage by the consumer, not carried on the message, so the
// payload stays small for arbitrarily large campaigns.
type DispatchMessage struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// OutcomeMessage reports the result of one recipient send attempt.
type OutcomeMessage struct {
	CampaignID  uuid.UUID  `json:"campaign_id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	ClientID    uuid.UUID  `json:"client_id"`
	PhoneNumber string     `json:"phone_number"`
	Body        string     `json:"body,omitempty"`
	Success     bool       `json:"success"`
	MessageID   string     `json:"message_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	Retryable   bool       `json:"retryable"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	OccurredAt  time.Time  `json:"occurred_at"`
	NextAttempt *time.Time `json:"next_attempt,omitempty"`
}

// RetryMessage schedules a single recipient re-send after a backoff delay.
type RetryMessage struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	ClientID    uuid.UUID `json:"client_id"`
	PhoneNumber string    `json:"phone_number"`
	Body        string    `json:"body"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	NextAttempt time.Time `json:"next_attempt"`
}
