package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

type fakeSource struct {
	campaigns []*domain.Campaign
	limit     int
	err       error
}

func (f *fakeSource) ListDue(_ context.Context, _ time.Time, limit int) ([]*domain.Campaign, error) {
	f.limit = limit
	return f.campaigns, f.err
}

type fakeDispatcher struct {
	dispatched []uuid.UUID
	failFor    map[uuid.UUID]error
}

func (f *fakeDispatcher) DispatchScheduled(_ context.Context, campaign *domain.Campaign) error {
	if err, ok := f.failFor[campaign.ID]; ok {
		return err
	}
	f.dispatched = append(f.dispatched, campaign.ID)
	return nil
}

func newTestScheduler(cfg config.SchedulerConfig, source *fakeSource, dispatch *fakeDispatcher) *Scheduler {
	return New(cfg, source, dispatch, nil, &logger.Logger{Logger: zap.NewNop()})
}

func dueCampaign() *domain.Campaign {
	at := time.Now().Add(-time.Minute)
	return &domain.Campaign{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Status:      domain.CampaignStatusScheduled,
		ScheduledAt: &at,
	}
}

func TestTickDispatchesDueCampaigns(t *testing.T) {
	source := &fakeSource{campaigns: []*domain.Campaign{dueCampaign(), dueCampaign()}}
	dispatch := &fakeDispatcher{}
	s := newTestScheduler(config.SchedulerConfig{MaxBatchSize: 50}, source, dispatch)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(dispatch.dispatched) != 2 {
		t.Errorf("expected 2 dispatches, got %d", len(dispatch.dispatched))
	}
	if source.limit != 50 {
		t.Errorf("expected configured batch size 50, got %d", source.limit)
	}
}

func TestTickDefaultsBatchSize(t *testing.T) {
	source := &fakeSource{}
	s := newTestScheduler(config.SchedulerConfig{}, source, &fakeDispatcher{})

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if source.limit != 100 {
		t.Errorf("expected default batch size 100, got %d", source.limit)
	}
}

func TestTickContinuesPastDispatchFailure(t *testing.T) {
	bad := dueCampaign()
	good := dueCampaign()
	source := &fakeSource{campaigns: []*domain.Campaign{bad, good}}
	dispatch := &fakeDispatcher{failFor: map[uuid.UUID]error{bad.ID: errors.New("broker down")}}
	s := newTestScheduler(config.SchedulerConfig{}, source, dispatch)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick must not fail on per-campaign errors: %v", err)
	}
	if len(dispatch.dispatched) != 1 || dispatch.dispatched[0] != good.ID {
		t.Errorf("expected only the healthy campaign dispatched, got %v", dispatch.dispatched)
	}
}

func TestTickPropagatesListError(t *testing.T) {
	listErr := errors.New("postgres down")
	source := &fakeSource{err: listErr}
	s := newTestScheduler(config.SchedulerConfig{}, source, &fakeDispatcher{})

	if err := s.Tick(context.Background()); !errors.Is(err, listErr) {
		t.Fatalf("expected list error, got %v", err)
	}
}
