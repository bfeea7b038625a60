package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/queue"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
	"github.com/acme/sms-campaign-dispatch/internal/service/common"
	apperrors "github.com/acme/sms-campaign-dispatch/pkg/errors"
)

const (
	maxNameLength = 255
	// Four concatenated GSM-7 segments.
	maxMessageLength = 612
)

// Dispatcher hands a campaign to the send pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg queue.DispatchMessage) error
}

// QuotaChecker answers advisory allowance questions. The checks are
// side-effect free; the binding reservation happens inside the repository's
// transaction regardless of what the checker said.
type QuotaChecker interface {
	CanSendSms(ctx context.Context, tenantID uuid.UUID, count int64) (bool, error)
	CanCreateCampaign(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

// Service orchestrates campaign lifecycle operations.
type Service struct {
	repo       repository.CampaignRepository
	clients    repository.ClientRepository
	recipients repository.RecipientRepository
	messages   repository.MessageLog
	dispatcher Dispatcher
	quota      QuotaChecker
	now        func() time.Time
}

// NewService constructs a campaign service. quota may be nil; the
// transactional reservation still enforces the ceilings without it.
func NewService(
	repo repository.CampaignRepository,
	clients repository.ClientRepository,
	recipients repository.RecipientRepository,
	messages repository.MessageLog,
	dispatcher Dispatcher,
	quota QuotaChecker,
) *Service {
	return &Service{
		repo:       repo,
		clients:    clients,
		recipients: recipients,
		messages:   messages,
		dispatcher: dispatcher,
		quota:      quota,
		now:        time.Now,
	}
}

// CreateCampaignInput captures campaign creation parameters. Recipients come
// from exactly one source: an explicit client id list or a filter.
type CreateCampaignInput struct {
	TenantID       uuid.UUID
	Name           string
	MessageContent string
	ScheduledAt    *time.Time
	ClientIDs      []uuid.UUID
	Filter         domain.FilterCriteria
	SendNow        bool
}

// UpdateCampaignInput captures updatable properties. Nil fields keep their
// current values; a non-nil recipient source replaces the recipient set.
type UpdateCampaignInput struct {
	TenantID       uuid.UUID
	ID             uuid.UUID
	Name           *string
	MessageContent *string
	ScheduledAt    *time.Time
	ClientIDs      *[]uuid.UUID
	Filter         *domain.FilterCriteria
	SendNow        bool
}

// Create provisions a new campaign. Recipient resolution, the quota
// reservation (one campaign plus one SMS per recipient), and the row writes
// all commit in one transaction, so a quota failure leaves nothing behind.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input, s.now()); err != nil {
		return nil, err
	}

	recipientIDs, err := s.resolveRecipients(ctx, input.TenantID, input.ClientIDs, input.Filter)
	if err != nil {
		return nil, err
	}
	if len(recipientIDs) == 0 {
		return nil, fmt.Errorf("%w: campaign has no recipients", apperrors.ErrValidation)
	}

	// Advisory fast-fail before any write; the reservation below re-verifies
	// under the row lock.
	if err := s.precheckQuota(ctx, input.TenantID, int64(len(recipientIDs)), true); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := domain.CampaignStatusDraft
	if input.ScheduledAt != nil {
		status = domain.CampaignStatusScheduled
	}

	campaign := &domain.Campaign{
		ID:              uuid.New(),
		TenantID:        input.TenantID,
		Name:            input.Name,
		MessageContent:  input.MessageContent,
		ScheduledAt:     input.ScheduledAt,
		Status:          status,
		RecipientsCount: len(recipientIDs),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	reserve := repository.UsageReservation{
		SmsDelta:      int64(len(recipientIDs)),
		CampaignDelta: 1,
	}
	if err := s.repo.Create(ctx, campaign, recipientIDs, reserve); err != nil {
		return nil, err
	}

	if input.SendNow {
		if err := s.dispatch(ctx, campaign); err != nil {
			return nil, err
		}
	}

	return campaign, nil
}

// Update modifies a campaign that has not entered the send pipeline. When the
// recipient source changes, the set is re-resolved and only the growth in
// recipient count consumes additional SMS quota.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	if input.ClientIDs != nil && input.Filter != nil {
		return nil, fmt.Errorf("%w: supply client ids or a filter, not both", apperrors.ErrValidation)
	}

	campaign, err := s.repo.Get(ctx, input.TenantID, input.ID)
	if err != nil {
		return nil, err
	}
	if !campaign.Status.Editable() {
		return nil, fmt.Errorf("%w: campaign %s is %s", apperrors.ErrInvalidState, campaign.ID, campaign.Status)
	}

	if input.Name != nil {
		if err := validateName(*input.Name); err != nil {
			return nil, err
		}
		campaign.Name = *input.Name
	}
	if input.MessageContent != nil {
		if err := validateMessage(*input.MessageContent); err != nil {
			return nil, err
		}
		campaign.MessageContent = *input.MessageContent
	}
	if input.ScheduledAt != nil {
		if !input.ScheduledAt.After(s.now()) {
			return nil, fmt.Errorf("%w: scheduled_at must be in the future", apperrors.ErrValidation)
		}
		campaign.ScheduledAt = input.ScheduledAt
		campaign.Status = domain.CampaignStatusScheduled
	}

	var addIDs, removeIDs []uuid.UUID
	reserve := repository.UsageReservation{}

	if input.ClientIDs != nil || input.Filter != nil {
		var explicit []uuid.UUID
		var filter domain.FilterCriteria
		if input.ClientIDs != nil {
			explicit = *input.ClientIDs
		}
		if input.Filter != nil {
			filter = *input.Filter
		}

		resolved, err := s.resolveRecipients(ctx, input.TenantID, explicit, filter)
		if err != nil {
			return nil, err
		}
		if len(resolved) == 0 {
			return nil, fmt.Errorf("%w: campaign has no recipients", apperrors.ErrValidation)
		}

		current, err := s.repo.RecipientIDs(ctx, campaign.ID)
		if err != nil {
			return nil, err
		}

		addIDs, removeIDs = diffIDs(current, resolved)
		campaign.RecipientsCount = len(resolved)

		// Only growth consumes quota; shrinking does not refund.
		if delta := len(resolved) - len(current); delta > 0 {
			reserve.SmsDelta = int64(delta)
			if err := s.precheckQuota(ctx, input.TenantID, reserve.SmsDelta, false); err != nil {
				return nil, err
			}
		}
	}

	if input.SendNow && input.ScheduledAt != nil {
		return nil, fmt.Errorf("%w: send_now and scheduled_at are mutually exclusive", apperrors.ErrValidation)
	}

	campaign.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, campaign, addIDs, removeIDs, reserve); err != nil {
		return nil, err
	}

	if input.SendNow {
		if err := s.dispatch(ctx, campaign); err != nil {
			return nil, err
		}
	}
	return campaign, nil
}

// Send hands a draft or scheduled campaign to the pipeline immediately.
func (s *Service) Send(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !campaign.Status.Editable() {
		return nil, fmt.Errorf("%w: campaign %s is %s", apperrors.ErrInvalidState, campaign.ID, campaign.Status)
	}

	if err := s.dispatch(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Retry rearms a failed campaign and hands it straight back to the pipeline.
// Only links still marked failed flip back to pending and go out again.
func (s *Service) Retry(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusFailed {
		return nil, fmt.Errorf("%w: only failed campaigns can be retried, campaign is %s", apperrors.ErrInvalidState, campaign.Status)
	}

	if err := s.repo.ResetForRetry(ctx, campaign.ID); err != nil {
		return nil, err
	}
	campaign.Status = domain.CampaignStatusScheduled
	campaign.DeliveredCount = 0
	campaign.FailedCount = 0
	campaign.ErrorMessage = nil

	if err := s.dispatch(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Get retrieves a campaign scoped to its tenant.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns the tenant's campaigns.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.repo.List(ctx, tenantID, afterID, limit)
}

// Recipients returns the campaign's recipient links with send state.
func (s *Service) Recipients(ctx context.Context, tenantID, id uuid.UUID, limit int) ([]domain.Recipient, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.recipients.ListByCampaign(ctx, id, limit)
}

// Messages returns the campaign's send attempt log, one page per call. The
// returned token resumes the listing; empty means the log is exhausted.
func (s *Service) Messages(ctx context.Context, tenantID, id uuid.UUID, limit int, pageToken string) ([]repository.MessageRecord, string, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, "", err
	}

	var pagingState []byte
	if pageToken != "" {
		state, err := common.DecodePageToken(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
		}
		pagingState = state
	}

	records, nextState, err := s.messages.ListByCampaign(ctx, id, limit, pagingState)
	if err != nil {
		return nil, "", err
	}

	nextToken := ""
	if len(nextState) > 0 {
		nextToken = common.EncodePageToken(nextState)
	}
	return records, nextToken, nil
}

// DispatchScheduled hands a due campaign to the pipeline. The scheduler calls
// this once the campaign's scheduled time has passed.
func (s *Service) DispatchScheduled(ctx context.Context, campaign *domain.Campaign) error {
	return s.dispatch(ctx, campaign)
}

// dispatch moves the campaign into sending and enqueues it. If the enqueue
// fails the status change is reverted, so an observer never sees a campaign
// marked sending that never reached the queue.
func (s *Service) dispatch(ctx context.Context, campaign *domain.Campaign) error {
	prior := campaign.Status
	allowed := []domain.CampaignStatus{domain.CampaignStatusDraft, domain.CampaignStatusScheduled}
	if err := s.repo.TransitionStatus(ctx, campaign.ID, allowed, domain.CampaignStatusSending); err != nil {
		return err
	}

	msg := queue.DispatchMessage{
		CampaignID: campaign.ID,
		TenantID:   campaign.TenantID,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		revertErr := s.repo.TransitionStatus(ctx, campaign.ID,
			[]domain.CampaignStatus{domain.CampaignStatusSending}, prior)
		if revertErr != nil {
			return fmt.Errorf("%w: enqueue failed and status revert failed: %v (enqueue: %v)",
				apperrors.ErrUnavailable, revertErr, err)
		}
		return fmt.Errorf("%w: enqueue dispatch: %v", apperrors.ErrUnavailable, err)
	}

	campaign.Status = domain.CampaignStatusSending
	return nil
}

// precheckQuota rejects obviously over-budget requests before doing any work.
func (s *Service) precheckQuota(ctx context.Context, tenantID uuid.UUID, smsCount int64, newCampaign bool) error {
	if s.quota == nil {
		return nil
	}
	if smsCount > 0 {
		ok, err := s.quota.CanSendSms(ctx, tenantID, smsCount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: sms allowance does not cover %d recipients", apperrors.ErrQuotaExceeded, smsCount)
		}
	}
	if newCampaign {
		ok, err := s.quota.CanCreateCampaign(ctx, tenantID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: campaign allowance exhausted", apperrors.ErrQuotaExceeded)
		}
	}
	return nil
}

// resolveRecipients resolves the recipient set from exactly one source.
func (s *Service) resolveRecipients(ctx context.Context, tenantID uuid.UUID, clientIDs []uuid.UUID, filter domain.FilterCriteria) ([]uuid.UUID, error) {
	hasIDs := len(clientIDs) > 0
	hasFilter := !filter.Empty()

	switch {
	case hasIDs && hasFilter:
		return nil, fmt.Errorf("%w: supply client ids or a filter, not both", apperrors.ErrValidation)
	case hasIDs:
		unique := dedupeIDs(clientIDs)
		resolved, err := s.clients.ResolveIDs(ctx, tenantID, unique)
		if err != nil {
			return nil, err
		}
		if len(resolved) != len(unique) {
			return nil, fmt.Errorf("%w: %d of %d client ids not found",
				apperrors.ErrValidation, len(unique)-len(resolved), len(unique))
		}
		return resolved, nil
	case hasFilter:
		return s.clients.ResolveFilter(ctx, tenantID, filter)
	default:
		return nil, fmt.Errorf("%w: recipient client ids or filter criteria required", apperrors.ErrValidation)
	}
}

func validateCreateInput(input CreateCampaignInput, now time.Time) error {
	if input.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", apperrors.ErrValidation)
	}
	if err := validateName(input.Name); err != nil {
		return err
	}
	if err := validateMessage(input.MessageContent); err != nil {
		return err
	}
	if input.ScheduledAt != nil && !input.ScheduledAt.After(now) {
		return fmt.Errorf("%w: scheduled_at must be in the future", apperrors.ErrValidation)
	}
	if input.SendNow && input.ScheduledAt != nil {
		return fmt.Errorf("%w: send_now and scheduled_at are mutually exclusive", apperrors.ErrValidation)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: campaign name exceeds %d characters", apperrors.ErrValidation, maxNameLength)
	}
	return nil
}

func validateMessage(content string) error {
	if content == "" {
		return fmt.Errorf("%w: message content is required", apperrors.ErrValidation)
	}
	if len(content) > maxMessageLength {
		return fmt.Errorf("%w: message content exceeds %d characters", apperrors.ErrValidation, maxMessageLength)
	}
	return nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func diffIDs(current, desired []uuid.UUID) (add, remove []uuid.UUID) {
	currentSet := make(map[uuid.UUID]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}
	desiredSet := make(map[uuid.UUID]struct{}, len(desired))
	for _, id := range desired {
		desiredSet[id] = struct{}{}
		if _, ok := currentSet[id]; !ok {
			add = append(add, id)
		}
	}
	for _, id := range current {
		if _, ok := desiredSet[id]; !ok {
			remove = append(remove, id)
		}
	}
	return add, remove
}
