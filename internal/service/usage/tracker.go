package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
)

// Tracker answers advisory quota questions for the current billing period.
// Its checks are side-effect free and can race with concurrent consumption;
// the authoritative check happens under a row lock inside the campaign
// repository's transactions. The tracker exists so callers can reject
// obviously over-budget requests before doing any work, and so the API can
// report a usage summary.
type Tracker struct {
	repo repository.UsageRepository
	now  func() time.Time
}

// NewTracker constructs a tracker.
func NewTracker(repo repository.UsageRepository) *Tracker {
	return &Tracker{repo: repo, now: time.Now}
}

// CanSendSms reports whether the tenant's remaining SMS allowance covers
// count messages.
func (t *Tracker) CanSendSms(ctx context.Context, tenantID uuid.UUID, count int64) (bool, error) {
	usage, err := t.summary(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return usage.SmsRemaining() >= count, nil
}

// CanCreateCampaign reports whether the tenant may create another campaign
// this period.
func (t *Tracker) CanCreateCampaign(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	usage, err := t.summary(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return usage.CampaignsRemaining() >= 1, nil
}

// TrackCampaignUsage consumes one campaign allowance under the counter row
// lock. Campaign creation does not call this; its reservation rides inside
// the campaign transaction. This path serves consumption recorded outside
// that transaction.
func (t *Tracker) TrackCampaignUsage(ctx context.Context, tenantID uuid.UUID) error {
	period := domain.UsagePeriod(t.now())
	return t.repo.Reserve(ctx, tenantID, period, repository.UsageReservation{CampaignDelta: 1})
}

// Summary returns the tenant's counters for the current period.
func (t *Tracker) Summary(ctx context.Context, tenantID uuid.UUID) (*domain.Usage, error) {
	return t.summary(ctx, tenantID)
}

func (t *Tracker) summary(ctx context.Context, tenantID uuid.UUID) (*domain.Usage, error) {
	period := domain.UsagePeriod(t.now())
	return t.repo.Get(ctx, tenantID, period)
}
