package status

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/app"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/queue"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
)

// Worker consumes per-recipient send outcomes and persists them. It is the
// only writer of recipient send state after dispatch: link rows, the attempt
// log, retry scheduling, and campaign finalization all happen here.
type Worker struct {
	container *app.Container
}

// retryScheduler is the slice of queue.RetryScheduler this worker needs.
type retryScheduler interface {
	ScheduleRetry(ctx context.Context, attempt int, msg queue.RetryMessage) error
}

// New creates a new status worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes outcome events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-status"
	reader := w.container.Kafka.NewReader(cfg.Kafka.OutcomeTopic, groupID)
	defer reader.Close()

	repos, err := w.container.Repositories()
	if err != nil {
		return err
	}
	dispatchers, err := w.container.Dispatchers()
	if err != nil {
		return err
	}
	logger := w.container.Logger

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("status worker: fetch", zap.Error(err))
			continue
		}

		var outcome queue.OutcomeMessage
		if err := json.Unmarshal(msg.Value, &outcome); err != nil {
			logger.Error("status worker: unmarshal", zap.Error(err))
			if dispatchers.DeadLetter != nil {
				if dlErr := dispatchers.DeadLetter.Publish(ctx, cfg.Kafka.OutcomeTopic, msg.Value, err.Error()); dlErr != nil {
					logger.Error("status worker: dead letter", zap.Error(dlErr))
				}
			}
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		tracer := otel.Tracer("smsdispatch.statusworker")
		sctx, span := tracer.Start(ctx, "recipient.outcome", trace.WithAttributes(
			attribute.String("campaign.id", outcome.CampaignID.String()),
			attribute.String("client.id", outcome.ClientID.String()),
			attribute.Int("attempt", outcome.Attempt),
			attribute.Bool("success", outcome.Success),
		))

		w.applyOutcome(sctx, span, repos.Recipients, repos.Messages, repos.Campaigns, dispatchers.RetryScheduler, outcome)

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("status worker: commit", zap.Error(err))
		}
		span.End()
	}
}

func (w *Worker) applyOutcome(
	ctx context.Context,
	span trace.Span,
	recipients repository.RecipientRepository,
	messages repository.MessageLog,
	campaigns repository.CampaignRepository,
	retries retryScheduler,
	outcome queue.OutcomeMessage,
) {
	logger := w.container.Logger

	// A retryable failure keeps the link pending so campaign finalization
	// waits for the scheduled re-send.
	linkStatus := domain.RecipientStatusFailed
	logStatus := "failed"
	switch {
	case outcome.Success:
		linkStatus = domain.RecipientStatusSent
		logStatus = "sent"
	case outcome.Retryable && outcome.NextAttempt != nil:
		linkStatus = domain.RecipientStatusPending
		logStatus = "retrying"
	}

	record := repository.RecipientOutcome{
		CampaignID: outcome.CampaignID,
		ClientID:   outcome.ClientID,
		Status:     linkStatus,
		MessageID:  optionalString(outcome.MessageID),
		Error:      optionalString(outcome.Error),
		Attempt:    outcome.Attempt,
		OccurredAt: outcome.OccurredAt,
	}
	if err := recipients.RecordOutcome(ctx, record); err != nil {
		span.RecordError(err)
		logger.Error("status worker: record outcome", zap.Error(err))
	}

	logRecord := repository.MessageRecord{
		CampaignID:  outcome.CampaignID,
		ClientID:    outcome.ClientID,
		PhoneNumber: outcome.PhoneNumber,
		Status:      logStatus,
		MessageID:   outcome.MessageID,
		Error:       outcome.Error,
		Attempt:     outcome.Attempt,
		OccurredAt:  outcome.OccurredAt,
	}
	if err := messages.Append(ctx, logRecord); err != nil {
		span.RecordError(err)
		logger.Error("status worker: append message log", zap.Error(err))
	}

	if linkStatus == domain.RecipientStatusPending {
		retry := queue.RetryMessage{
			CampaignID:  outcome.CampaignID,
			TenantID:    outcome.TenantID,
			ClientID:    outcome.ClientID,
			PhoneNumber: outcome.PhoneNumber,
			Body:        outcome.Body,
			Attempt:     outcome.Attempt + 1,
			MaxAttempts: outcome.MaxAttempts,
			NextAttempt: *outcome.NextAttempt,
		}
		if err := retries.ScheduleRetry(ctx, outcome.Attempt, retry); err != nil {
			span.RecordError(err)
			logger.Error("status worker: schedule retry", zap.Error(err))
			// Without a scheduled retry the link would hang pending forever.
			// The pending write above already recorded this attempt, and the
			// link's attempt counter only moves forward, so the downgrade has
			// to ride the next attempt number to take effect.
			record.Status = domain.RecipientStatusFailed
			record.Attempt = outcome.Attempt + 1
			if rerr := recipients.RecordOutcome(ctx, record); rerr != nil {
				logger.Error("status worker: mark failed after retry error", zap.Error(rerr))
			}
			linkStatus = domain.RecipientStatusFailed
		}
	}

	if linkStatus != domain.RecipientStatusPending {
		if err := campaigns.RefreshDispatchState(ctx, outcome.CampaignID); err != nil {
			span.RecordError(err)
			logger.Error("status worker: refresh campaign state", zap.Error(err))
		}
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
