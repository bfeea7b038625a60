package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
)

type fakeUsageRepo struct {
	usage    domain.Usage
	period   string
	reserved []repository.UsageReservation
}

func (f *fakeUsageRepo) Get(_ context.Context, tenantID uuid.UUID, period string) (*domain.Usage, error) {
	f.period = period
	u := f.usage
	u.TenantID = tenantID
	u.Period = period
	return &u, nil
}

func (f *fakeUsageRepo) Reserve(_ context.Context, _ uuid.UUID, period string, reserve repository.UsageReservation) error {
	f.period = period
	f.reserved = append(f.reserved, reserve)
	return nil
}

func newTestTracker(repo *fakeUsageRepo, at time.Time) *Tracker {
	tracker := NewTracker(repo)
	tracker.now = func() time.Time { return at }
	return tracker
}

func TestCanSendSmsBoundaries(t *testing.T) {
	repo := &fakeUsageRepo{usage: domain.Usage{SmsUsed: 90, SmsLimit: 100}}
	tracker := newTestTracker(repo, time.Now())
	tenant := uuid.New()

	cases := []struct {
		count int64
		want  bool
	}{
		{1, true},
		{10, true},
		{11, false},
	}
	for _, tc := range cases {
		ok, err := tracker.CanSendSms(context.Background(), tenant, tc.count)
		if err != nil {
			t.Fatalf("CanSendSms(%d): %v", tc.count, err)
		}
		if ok != tc.want {
			t.Errorf("CanSendSms(%d) = %v, want %v", tc.count, ok, tc.want)
		}
	}
}

func TestCanCreateCampaign(t *testing.T) {
	repo := &fakeUsageRepo{usage: domain.Usage{CampaignsUsed: 9, CampaignsLimit: 10}}
	tracker := newTestTracker(repo, time.Now())

	ok, err := tracker.CanCreateCampaign(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("one campaign left, expected allowed")
	}

	repo.usage.CampaignsUsed = 10
	ok, err = tracker.CanCreateCampaign(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("limit reached, expected denied")
	}
}

func TestTrackCampaignUsageReservesOneCampaign(t *testing.T) {
	repo := &fakeUsageRepo{usage: domain.Usage{CampaignsLimit: 10}}
	tracker := newTestTracker(repo, time.Now())

	if err := tracker.TrackCampaignUsage(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.reserved) != 1 {
		t.Fatalf("expected one reservation, got %d", len(repo.reserved))
	}
	if r := repo.reserved[0]; r.CampaignDelta != 1 || r.SmsDelta != 0 {
		t.Errorf("unexpected reservation %+v", r)
	}
}

func TestSummaryUsesCurrentPeriod(t *testing.T) {
	repo := &fakeUsageRepo{usage: domain.Usage{SmsLimit: 100}}
	at := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(repo, at)

	usage, err := tracker.Summary(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.period != "2026-03" {
		t.Errorf("expected period 2026-03, got %s", repo.period)
	}
	if usage.Period != "2026-03" {
		t.Errorf("summary period mismatch: %s", usage.Period)
	}
}
