package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/app"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/queue"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
	"github.com/acme/sms-campaign-dispatch/internal/worker/backoff"
)

// Worker consumes campaign dispatch events and fans each campaign out to its
// pending recipients through the SMS facade. The dispatch message carries only
// ids; recipients come from storage, which is what makes redelivery safe:
// a recipient already sent is no longer pending and will not go out twice.
type Worker struct {
	container *app.Container
	rng       *rand.Rand
}

// batchSender is the slice of the SMS facade this worker needs.
type batchSender interface {
	SendBatch(ctx context.Context, messages []domain.BatchMessage) domain.BatchResult
}

// outcomePublisher is the slice of queue.OutcomePublisher this worker needs.
type outcomePublisher interface {
	Publish(ctx context.Context, msg queue.OutcomeMessage) error
}

// New creates a new dispatch worker instance.
func New(container *app.Container) *Worker {
	return &Worker{
		container: container,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.DispatchTopic, cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.container.Logger.Error("dispatch worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, reader, m); err != nil {
			w.container.Logger.Error("dispatch worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var dispatch queue.DispatchMessage
	if err := json.Unmarshal(m.Value, &dispatch); err != nil {
		w.deadLetter(ctx, m.Value, err)
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal dispatch: %w", err)
	}

	tracer := otel.Tracer("smsdispatch.dispatchworker")
	sctx, span := tracer.Start(ctx, "campaign.dispatch", trace.WithAttributes(
		attribute.String("campaign.id", dispatch.CampaignID.String()),
		attribute.String("tenant.id", dispatch.TenantID.String()),
	))
	defer span.End()

	limiters, err := w.container.Limiters()
	if err != nil {
		span.RecordError(err)
		return err
	}

	acquired, err := limiters.Dispatch.AcquireCampaign(sctx, dispatch.CampaignID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !acquired {
		// Another worker holds this campaign; the pending-link scan there
		// covers whatever this redelivery would have sent.
		w.container.Logger.Info("dispatch worker: campaign locked, skipping",
			zap.String("campaign_id", dispatch.CampaignID.String()))
		return reader.CommitMessages(sctx, m)
	}
	defer func() {
		if err := limiters.Dispatch.ReleaseCampaign(context.WithoutCancel(sctx), dispatch.CampaignID); err != nil {
			w.container.Logger.Warn("dispatch worker: release campaign lock", zap.Error(err))
		}
	}()

	if err := w.sendCampaign(sctx, span, dispatch); err != nil {
		span.RecordError(err)
		return err
	}

	if err := reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (w *Worker) sendCampaign(ctx context.Context, span trace.Span, dispatch queue.DispatchMessage) error {
	repos, err := w.container.Repositories()
	if err != nil {
		return err
	}
	services, err := w.container.Services()
	if err != nil {
		return err
	}
	dispatchers, err := w.container.Dispatchers()
	if err != nil {
		return err
	}
	logger := w.container.Logger

	campaign, err := repos.Campaigns.Get(ctx, dispatch.TenantID, dispatch.CampaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("dispatch worker: campaign gone",
				zap.String("campaign_id", dispatch.CampaignID.String()))
			return nil
		}
		return fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status != domain.CampaignStatusSending {
		logger.Info("dispatch worker: campaign not sending, skipping",
			zap.String("campaign_id", campaign.ID.String()),
			zap.String("status", string(campaign.Status)))
		return nil
	}

	return w.fanOut(ctx, span, campaign, repos.Recipients, services.Sms, dispatchers.OutcomePublisher)
}

// fanOut walks the pending links in keyset batches, sends each batch, and
// publishes one outcome per recipient. A publish failure aborts the scan with
// an error so the dispatch offset stays uncommitted; redelivery re-runs the
// pending scan and the forward-only attempt guard on the link row absorbs the
// duplicate send.
func (w *Worker) fanOut(
	ctx context.Context,
	span trace.Span,
	campaign *domain.Campaign,
	recipients repository.RecipientRepository,
	sender batchSender,
	outcomes outcomePublisher,
) error {
	cfg := w.container.Config
	logger := w.container.Logger

	batchSize := cfg.Dispatch.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	sent := 0
	var afterClientID *uuid.UUID
	for {
		targets, err := recipients.PendingTargets(ctx, campaign.ID, afterClientID, batchSize)
		if err != nil {
			return fmt.Errorf("pending targets: %w", err)
		}
		if len(targets) == 0 {
			break
		}
		last := targets[len(targets)-1].ClientID
		afterClientID = &last

		batch := make([]domain.BatchMessage, 0, len(targets))
		priorAttempts := make(map[uuid.UUID]int, len(targets))
		for _, target := range targets {
			batch = append(batch, domain.BatchMessage{
				ClientID: target.ClientID,
				Phone:    target.PhoneNumber,
				Body:     campaign.MessageContent,
			})
			priorAttempts[target.ClientID] = target.Attempts
		}

		result := sender.SendBatch(ctx, batch)
		now := time.Now().UTC()

		for _, outcome := range append(result.Success, result.Failed...) {
			msg := w.buildOutcome(campaign, outcome, priorAttempts[outcome.ClientID]+1, maxAttempts, now)
			if err := outcomes.Publish(ctx, msg); err != nil {
				span.RecordError(err)
				return fmt.Errorf("publish outcome for client %s: %w", outcome.ClientID, err)
			}
		}
		sent += len(targets)

		if len(targets) < batchSize {
			break
		}
		if limit := cfg.Dispatch.MessageLimit; limit > 0 && sent >= limit {
			logger.Warn("dispatch worker: message limit reached",
				zap.String("campaign_id", campaign.ID.String()), zap.Int("sent", sent))
			break
		}
	}

	span.SetAttributes(attribute.Int("recipients.sent", sent))
	logger.Info("dispatch worker: campaign fanned out",
		zap.String("campaign_id", campaign.ID.String()), zap.Int("recipients", sent))
	return nil
}

// deadLetter parks an undecodable payload before the offset is committed.
func (w *Worker) deadLetter(ctx context.Context, value []byte, cause error) {
	dispatchers, err := w.container.Dispatchers()
	if err != nil || dispatchers.DeadLetter == nil {
		return
	}
	topic := w.container.Config.Kafka.DispatchTopic
	if err := dispatchers.DeadLetter.Publish(ctx, topic, value, cause.Error()); err != nil {
		w.container.Logger.Error("dispatch worker: dead letter", zap.Error(err))
	}
}

func (w *Worker) buildOutcome(campaign *domain.Campaign, outcome domain.SendOutcome, attempt, maxAttempts int, now time.Time) queue.OutcomeMessage {
	msg := queue.OutcomeMessage{
		CampaignID:  campaign.ID,
		TenantID:    campaign.TenantID,
		ClientID:    outcome.ClientID,
		PhoneNumber: outcome.Phone,
		Body:        campaign.MessageContent,
		Success:     outcome.Result.Success,
		MessageID:   outcome.Result.MessageID,
		Error:       outcome.Result.Error,
		Retryable:   outcome.Result.Retryable && attempt < maxAttempts,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		OccurredAt:  now,
	}
	if msg.Retryable {
		next := backoff.NextAttempt(w.container.Config.Retry, attempt, w.rng)
		msg.NextAttempt = &next
	}
	return msg
}
