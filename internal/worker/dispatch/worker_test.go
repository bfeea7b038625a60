package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/app"
	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/queue"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

type fakePending struct {
	targets []repository.SendTarget
	calls   int
}

func (f *fakePending) PendingTargets(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ int) ([]repository.SendTarget, error) {
	f.calls++
	if f.calls > 1 {
		return nil, nil
	}
	return f.targets, nil
}

func (f *fakePending) RecordOutcome(context.Context, repository.RecipientOutcome) error {
	return nil
}

func (f *fakePending) ListByCampaign(context.Context, uuid.UUID, int) ([]domain.Recipient, error) {
	return nil, nil
}

func (f *fakePending) Get(context.Context, uuid.UUID, uuid.UUID) (*domain.Recipient, error) {
	return nil, repository.ErrNotFound
}

type fakeSender struct {
	retryable bool
	fail      bool
}

func (f *fakeSender) SendBatch(_ context.Context, messages []domain.BatchMessage) domain.BatchResult {
	var result domain.BatchResult
	for _, msg := range messages {
		outcome := domain.SendOutcome{ClientID: msg.ClientID, Phone: msg.Phone}
		if f.fail {
			outcome.Result = domain.SmsResult{Error: "vendor rejected", Retryable: f.retryable}
			result.Failed = append(result.Failed, outcome)
			continue
		}
		outcome.Result = domain.SmsResult{Success: true, MessageID: "SM" + msg.ClientID.String()[:8]}
		result.Success = append(result.Success, outcome)
	}
	return result
}

type fakeOutcomes struct {
	published []queue.OutcomeMessage
	err       error
}

func (f *fakeOutcomes) Publish(_ context.Context, msg queue.OutcomeMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func testDispatchWorker(maxAttempts int) *Worker {
	cfg := &config.Config{}
	cfg.Dispatch.BatchSize = 200
	cfg.Retry.MaxAttempts = maxAttempts
	cfg.Retry.BaseDelay = time.Second
	cfg.Retry.MaxDelay = time.Minute
	return New(&app.Container{
		Config: cfg,
		Logger: &logger.Logger{Logger: zap.NewNop()},
	})
}

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		MessageContent: "hello",
		Status:         domain.CampaignStatusSending,
	}
}

func pendingTargets(n int) *fakePending {
	f := &fakePending{}
	for i := 0; i < n; i++ {
		f.targets = append(f.targets, repository.SendTarget{
			ClientID:    uuid.New(),
			PhoneNumber: "+15551234567",
		})
	}
	return f
}

func TestFanOutPublishesOutcomePerTarget(t *testing.T) {
	worker := testDispatchWorker(3)
	campaign := testCampaign()
	recipients := pendingTargets(3)
	outcomes := &fakeOutcomes{}

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	defer span.End()

	if err := worker.fanOut(ctx, span, campaign, recipients, &fakeSender{}, outcomes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes.published) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes.published))
	}
	for _, msg := range outcomes.published {
		if msg.CampaignID != campaign.ID || msg.TenantID != campaign.TenantID {
			t.Errorf("outcome ids do not match campaign: %+v", msg)
		}
		if !msg.Success || msg.Attempt != 1 {
			t.Errorf("expected successful first attempt, got %+v", msg)
		}
	}
}

func TestFanOutPublishFailureReturnsError(t *testing.T) {
	worker := testDispatchWorker(3)
	campaign := testCampaign()
	recipients := pendingTargets(2)
	outcomes := &fakeOutcomes{err: errors.New("broker down")}

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	defer span.End()

	err := worker.fanOut(ctx, span, campaign, recipients, &fakeSender{}, outcomes)
	if err == nil {
		t.Fatal("publish failure must surface so the dispatch offset stays uncommitted")
	}
	if len(outcomes.published) != 0 {
		t.Errorf("no outcome should be recorded after a failed publish, got %d", len(outcomes.published))
	}
}

func TestFanOutRetryableFailureCarriesBackoff(t *testing.T) {
	worker := testDispatchWorker(3)
	campaign := testCampaign()
	recipients := pendingTargets(1)
	recipients.targets[0].Attempts = 1
	outcomes := &fakeOutcomes{}

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	defer span.End()

	if err := worker.fanOut(ctx, span, campaign, recipients, &fakeSender{fail: true, retryable: true}, outcomes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes.published) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes.published))
	}
	msg := outcomes.published[0]
	if msg.Attempt != 2 {
		t.Errorf("expected attempt 2 after one prior attempt, got %d", msg.Attempt)
	}
	if !msg.Retryable || msg.NextAttempt == nil {
		t.Errorf("retryable failure below the attempt cap must carry a due time, got %+v", msg)
	}
}

func TestFanOutExhaustedAttemptsNotRetryable(t *testing.T) {
	worker := testDispatchWorker(3)
	campaign := testCampaign()
	recipients := pendingTargets(1)
	recipients.targets[0].Attempts = 2
	outcomes := &fakeOutcomes{}

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	defer span.End()

	if err := worker.fanOut(ctx, span, campaign, recipients, &fakeSender{fail: true, retryable: true}, outcomes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := outcomes.published[0]
	if msg.Attempt != 3 {
		t.Errorf("expected attempt 3, got %d", msg.Attempt)
	}
	if msg.Retryable || msg.NextAttempt != nil {
		t.Errorf("final attempt must not be retryable, got %+v", msg)
	}
}
