package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft         CampaignStatus = "draft"
	CampaignStatusScheduled     CampaignStatus = "scheduled"
	CampaignStatusSending       CampaignStatus = "sending"
	CampaignStatusSent          CampaignStatus = "sent"
	CampaignStatusPartiallySent CampaignStatus = "partially_sent"
	CampaignStatusFailed        CampaignStatus = "failed"
)

// InFlight reports whether the campaign has been handed to the send pipeline
// or already finished it. In-flight campaigns reject edits and deletes.
func (s CampaignStatus) InFlight() bool {
	switch s {
	case CampaignStatusSending, CampaignStatusSent, CampaignStatusPartiallySent:
		return true
	}
	return false
}

// Editable reports whether the campaign still accepts create/update style
// mutations.
func (s CampaignStatus) Editable() bool {
	return s == CampaignStatusDraft || s == CampaignStatusScheduled
}

// RecipientStatus enumerates per-recipient send outcomes on a campaign.
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// Campaign models an SMS campaign owned by a single tenant.
type Campaign struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Name            string
	MessageContent  string
	ScheduledAt     *time.Time
	Status          CampaignStatus
	RecipientsCount int
	DeliveredCount  int
	FailedCount     int
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recipient is a client attached to a campaign together with its send outcome.
type Recipient struct {
	CampaignID uuid.UUID
	ClientID   uuid.UUID
	Status     RecipientStatus
	MessageID  *string
	Error      *string
	Attempts   int
	UpdatedAt  time.Time
}

// FilterCriteria selects a tenant's clients by tag and/or category membership.
type FilterCriteria struct {
	TagIDs      []uuid.UUID
	CategoryIDs []uuid.UUID
}

// Empty reports whether no criteria were supplied.
func (f FilterCriteria) Empty() bool {
	return len(f.TagIDs) == 0 && len(f.CategoryIDs) == 0
}
