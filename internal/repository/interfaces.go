package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	apperrors "github.com/acme/sms-campaign-dispatch/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
	// ErrQuotaExceeded indicates the tenant's usage reservation failed.
	ErrQuotaExceeded = apperrors.ErrQuotaExceeded
	// ErrInvalidState indicates a guarded status transition did not apply.
	ErrInvalidState = apperrors.ErrInvalidState
)

// UsageReservation is the usage consumed together with a campaign write. The
// reservation is checked and applied under a row lock on the tenant's usage
// counters, inside the same transaction as the campaign mutation.
type UsageReservation struct {
	SmsDelta      int64
	CampaignDelta int64
}

// CampaignRepository manages campaign persistence including recipient links.
type CampaignRepository interface {
	// Create inserts the campaign, attaches recipients, and applies the usage
	// reservation in one transaction. A failed reservation aborts the whole
	// write with ErrQuotaExceeded.
	Create(ctx context.Context, campaign *domain.Campaign, recipientIDs []uuid.UUID, reserve UsageReservation) error
	// Update persists row changes and synchronizes recipient links (added and
	// removed, not replaced) plus the delta reservation in one transaction.
	Update(ctx context.Context, campaign *domain.Campaign, addIDs, removeIDs []uuid.UUID, reserve UsageReservation) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error)
	List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	// ListDue returns scheduled campaigns whose scheduled_at has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error)
	// TransitionStatus performs a guarded status change; ErrInvalidState when
	// the campaign is not in one of the allowed prior statuses.
	TransitionStatus(ctx context.Context, id uuid.UUID, allowed []domain.CampaignStatus, to domain.CampaignStatus) error
	// ResetForRetry zeroes counters and error, flips failed back to scheduled,
	// and resets failed recipient links to pending. Guarded on status=failed.
	ResetForRetry(ctx context.Context, id uuid.UUID) error
	// RecipientIDs returns the currently attached recipient set.
	RecipientIDs(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error)
	// RefreshDispatchState recomputes delivered/failed counters from recipient
	// links and finalizes the status once no pending links remain.
	RefreshDispatchState(ctx context.Context, campaignID uuid.UUID) error
}

// RecipientRepository manages per-recipient send state on campaign links.
type RecipientRepository interface {
	// PendingTargets returns recipients still awaiting a send, with phone
	// numbers joined in from the client records. Keyset pagination over
	// client id: pass the last client id of the previous page to advance,
	// which keeps one fan-out pass from rescanning rows whose outcomes are
	// still in flight.
	PendingTargets(ctx context.Context, campaignID uuid.UUID, afterClientID *uuid.UUID, limit int) ([]SendTarget, error)
	// RecordOutcome stores the result of one send attempt on the link row.
	RecordOutcome(ctx context.Context, outcome RecipientOutcome) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Recipient, error)
	Get(ctx context.Context, campaignID, clientID uuid.UUID) (*domain.Recipient, error)
}

// ClientRepository manages tenant client records.
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Client, error)
	List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Client, error)
	// ResolveIDs returns the subset of ids that belong to the tenant,
	// deduplicated.
	ResolveIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
	// ResolveFilter returns ids of the tenant's clients matching the tag
	// and/or category criteria.
	ResolveFilter(ctx context.Context, tenantID uuid.UUID, criteria domain.FilterCriteria) ([]uuid.UUID, error)
}

// UsageRepository manages tenant usage counters. Reads never create or mutate
// rows; tenants without a row for the period are reported at the configured
// default limits with zero consumption.
type UsageRepository interface {
	Get(ctx context.Context, tenantID uuid.UUID, period string) (*domain.Usage, error)
	// Reserve consumes quota under a row lock in its own transaction, failing
	// with ErrQuotaExceeded when a ceiling would be crossed.
	Reserve(ctx context.Context, tenantID uuid.UUID, period string, reserve UsageReservation) error
}

// MessageLog persists per-recipient send attempt records in the high-volume
// append-only store.
type MessageLog interface {
	Append(ctx context.Context, record MessageRecord) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]MessageRecord, []byte, error)
}

// SendTarget is a recipient due for sending.
type SendTarget struct {
	ClientID    uuid.UUID
	PhoneNumber string
	Attempts    int
}

// RecipientOutcome is the storage representation of one send result.
type RecipientOutcome struct {
	CampaignID uuid.UUID
	ClientID   uuid.UUID
	Status     domain.RecipientStatus
	MessageID  *string
	Error      *string
	Attempt    int
	OccurredAt time.Time
}

// MessageRecord is one entry of the send attempt log.
type MessageRecord struct {
	CampaignID  uuid.UUID
	ClientID    uuid.UUID
	PhoneNumber string
	Status      string
	MessageID   string
	Error       string
	Attempt     int
	OccurredAt  time.Time
}
