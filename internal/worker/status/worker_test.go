package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/app"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/queue"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

type fakeRecipients struct {
	outcomes []repository.RecipientOutcome
	attempts map[uuid.UUID]int
	status   map[uuid.UUID]domain.RecipientStatus
}

func (f *fakeRecipients) PendingTargets(context.Context, uuid.UUID, *uuid.UUID, int) ([]repository.SendTarget, error) {
	return nil, nil
}

func (f *fakeRecipients) RecordOutcome(_ context.Context, outcome repository.RecipientOutcome) error {
	f.outcomes = append(f.outcomes, outcome)
	if f.attempts == nil {
		f.attempts = make(map[uuid.UUID]int)
		f.status = make(map[uuid.UUID]domain.RecipientStatus)
	}
	// The real repository only moves the attempt counter forward; a write
	// for an attempt already recorded is a no-op.
	if outcome.Attempt <= f.attempts[outcome.ClientID] {
		return nil
	}
	f.attempts[outcome.ClientID] = outcome.Attempt
	f.status[outcome.ClientID] = outcome.Status
	return nil
}

func (f *fakeRecipients) ListByCampaign(context.Context, uuid.UUID, int) ([]domain.Recipient, error) {
	return nil, nil
}

func (f *fakeRecipients) Get(context.Context, uuid.UUID, uuid.UUID) (*domain.Recipient, error) {
	return nil, repository.ErrNotFound
}

type fakeMessageLog struct {
	records []repository.MessageRecord
}

func (f *fakeMessageLog) Append(_ context.Context, record repository.MessageRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeMessageLog) ListByCampaign(context.Context, uuid.UUID, int, []byte) ([]repository.MessageRecord, []byte, error) {
	return nil, nil, nil
}

type fakeCampaigns struct {
	repository.CampaignRepository
	refreshed []uuid.UUID
}

func (f *fakeCampaigns) RefreshDispatchState(_ context.Context, campaignID uuid.UUID) error {
	f.refreshed = append(f.refreshed, campaignID)
	return nil
}

type fakeRetries struct {
	scheduled []queue.RetryMessage
	attempts  []int
	err       error
}

func (f *fakeRetries) ScheduleRetry(_ context.Context, attempt int, msg queue.RetryMessage) error {
	if f.err != nil {
		return f.err
	}
	f.attempts = append(f.attempts, attempt)
	f.scheduled = append(f.scheduled, msg)
	return nil
}

func testWorker() *Worker {
	return New(&app.Container{Logger: &logger.Logger{Logger: zap.NewNop()}})
}

func baseOutcome() queue.OutcomeMessage {
	return queue.OutcomeMessage{
		CampaignID:  uuid.New(),
		TenantID:    uuid.New(),
		ClientID:    uuid.New(),
		PhoneNumber: "+15551234567",
		Body:        "hello",
		Attempt:     1,
		MaxAttempts: 3,
		OccurredAt:  time.Now().UTC(),
	}
}

func TestApplyOutcomeSuccess(t *testing.T) {
	recipients := &fakeRecipients{}
	messages := &fakeMessageLog{}
	campaigns := &fakeCampaigns{}
	retries := &fakeRetries{}

	outcome := baseOutcome()
	outcome.Success = true
	outcome.MessageID = "SM123"

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	testWorker().applyOutcome(ctx, span, recipients, messages, campaigns, retries, outcome)

	if len(recipients.outcomes) != 1 {
		t.Fatalf("expected one link update, got %d", len(recipients.outcomes))
	}
	if recipients.outcomes[0].Status != domain.RecipientStatusSent {
		t.Errorf("expected link sent, got %s", recipients.outcomes[0].Status)
	}
	if len(messages.records) != 1 || messages.records[0].Status != "sent" {
		t.Errorf("expected one sent log record, got %+v", messages.records)
	}
	if len(retries.scheduled) != 0 {
		t.Errorf("success must not schedule a retry")
	}
	if len(campaigns.refreshed) != 1 {
		t.Errorf("final outcome must refresh campaign state")
	}
}

func TestApplyOutcomeRetryableSchedulesRetry(t *testing.T) {
	recipients := &fakeRecipients{}
	messages := &fakeMessageLog{}
	campaigns := &fakeCampaigns{}
	retries := &fakeRetries{}

	next := time.Now().Add(10 * time.Second).UTC()
	outcome := baseOutcome()
	outcome.Error = "transport: timeout"
	outcome.Retryable = true
	outcome.NextAttempt = &next

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	testWorker().applyOutcome(ctx, span, recipients, messages, campaigns, retries, outcome)

	if recipients.outcomes[0].Status != domain.RecipientStatusPending {
		t.Errorf("retryable outcome must keep link pending, got %s", recipients.outcomes[0].Status)
	}
	if messages.records[0].Status != "retrying" {
		t.Errorf("expected retrying log status, got %s", messages.records[0].Status)
	}
	if len(retries.scheduled) != 1 {
		t.Fatalf("expected one scheduled retry, got %d", len(retries.scheduled))
	}
	retry := retries.scheduled[0]
	if retry.Attempt != outcome.Attempt+1 {
		t.Errorf("expected retry attempt %d, got %d", outcome.Attempt+1, retry.Attempt)
	}
	if !retry.NextAttempt.Equal(next) {
		t.Errorf("retry due time mismatch: %v != %v", retry.NextAttempt, next)
	}
	if retries.attempts[0] != outcome.Attempt {
		t.Errorf("retry topic index must be the completed attempt, got %d", retries.attempts[0])
	}
	if len(campaigns.refreshed) != 0 {
		t.Errorf("pending link must not finalize the campaign")
	}
}

func TestApplyOutcomeTerminalFailure(t *testing.T) {
	recipients := &fakeRecipients{}
	messages := &fakeMessageLog{}
	campaigns := &fakeCampaigns{}
	retries := &fakeRetries{}

	outcome := baseOutcome()
	outcome.Error = "invalid number"
	outcome.Retryable = false

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	testWorker().applyOutcome(ctx, span, recipients, messages, campaigns, retries, outcome)

	if recipients.outcomes[0].Status != domain.RecipientStatusFailed {
		t.Errorf("expected link failed, got %s", recipients.outcomes[0].Status)
	}
	if len(retries.scheduled) != 0 {
		t.Errorf("terminal failure must not schedule a retry")
	}
	if len(campaigns.refreshed) != 1 {
		t.Errorf("terminal failure must refresh campaign state")
	}
}

func TestApplyOutcomeScheduleFailureDowngradesToFailed(t *testing.T) {
	recipients := &fakeRecipients{}
	messages := &fakeMessageLog{}
	campaigns := &fakeCampaigns{}
	retries := &fakeRetries{err: errors.New("broker down")}

	next := time.Now().Add(10 * time.Second).UTC()
	outcome := baseOutcome()
	outcome.Error = "transport: timeout"
	outcome.Retryable = true
	outcome.NextAttempt = &next

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	testWorker().applyOutcome(ctx, span, recipients, messages, campaigns, retries, outcome)

	if len(recipients.outcomes) != 2 {
		t.Fatalf("expected pending then failed updates, got %d", len(recipients.outcomes))
	}
	if recipients.outcomes[1].Status != domain.RecipientStatusFailed {
		t.Errorf("unscheduled retry must downgrade the link to failed, got %s", recipients.outcomes[1].Status)
	}
	if got := recipients.outcomes[1].Attempt; got != outcome.Attempt+1 {
		t.Errorf("downgrade must carry attempt %d to pass the forward-only guard, got %d", outcome.Attempt+1, got)
	}
	if got := recipients.status[outcome.ClientID]; got != domain.RecipientStatusFailed {
		t.Errorf("link must end failed after the downgrade, got %s", got)
	}
	if len(campaigns.refreshed) != 1 {
		t.Errorf("downgraded link must refresh campaign state")
	}
}
