package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/app"
	"github.com/acme/sms-campaign-dispatch/internal/queue"
	"github.com/acme/sms-campaign-dispatch/internal/worker/backoff"
)

// Worker re-sends individual recipients whose earlier attempts failed
// transiently. Each retry topic holds one attempt tier; the worker sleeps
// until a message's due time, sends through the SMS facade, and publishes a
// fresh outcome so the status worker records it like any first attempt.
type Worker struct {
	container *app.Container
	rng       *rand.Rand
}

// New creates a retry worker instance.
func New(container *app.Container) *Worker {
	return &Worker{
		container: container,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run consumes all retry topics until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	if len(cfg.Kafka.RetryTopics) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(cfg.Kafka.RetryTopics))
	var wg sync.WaitGroup

	for idx, topic := range cfg.Kafka.RetryTopics {
		wg.Add(1)
		go func(topic string, attemptIndex int) {
			defer wg.Done()
			if err := w.consumeTopic(ctx, topic, attemptIndex); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}(topic, idx+1)
	}

	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	}
}

func (w *Worker) consumeTopic(ctx context.Context, topic string, attemptIndex int) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.RetryConsumerGroupID
	if groupID == "" {
		groupID = fmt.Sprintf("%s-retry-%d", cfg.Kafka.ConsumerGroupID, attemptIndex)
	} else {
		groupID = fmt.Sprintf("%s-%d", groupID, attemptIndex)
	}

	reader := w.container.Kafka.NewReader(topic, groupID)
	defer reader.Close()

	services, err := w.container.Services()
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
			logger.Error("retry worker: fetch", zap.Error(err))
			continue
		}

		var retryMsg queue.RetryMessage
		if err := json.Unmarshal(msg.Value, &retryMsg); err != nil {
			logger.Error("retry worker: unmarshal", zap.Error(err))
			if dispatchers.DeadLetter != nil {
				if dlErr := dispatchers.DeadLetter.Publish(ctx, topic, msg.Value, err.Error()); dlErr != nil {
					logger.Error("retry worker: dead letter", zap.Error(dlErr))
				}
			}
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		tracer := otel.Tracer("smsdispatch.retryworker")
		sctx, span := tracer.Start(ctx, "recipient.retry", trace.WithAttributes(
			attribute.String("campaign.id", retryMsg.CampaignID.String()),
			attribute.String("client.id", retryMsg.ClientID.String()),
			attribute.Int("attempt", retryMsg.Attempt),
		))

		if sleepErr := w.sleepUntil(sctx, retryMsg.NextAttempt); sleepErr != nil {
			span.RecordError(sleepErr)
			span.End()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		result := services.Sms.Send(sctx, retryMsg.PhoneNumber, retryMsg.Body)

		outcome := queue.OutcomeMessage{
			CampaignID:  retryMsg.CampaignID,
			TenantID:    retryMsg.TenantID,
			ClientID:    retryMsg.ClientID,
			PhoneNumber: retryMsg.PhoneNumber,
			Body:        retryMsg.Body,
			Success:     result.Success,
			MessageID:   result.MessageID,
			Error:       result.Error,
			Retryable:   result.Retryable && retryMsg.Attempt < retryMsg.MaxAttempts,
			Attempt:     retryMsg.Attempt,
			MaxAttempts: retryMsg.MaxAttempts,
			OccurredAt:  time.Now().UTC(),
		}
		if outcome.Retryable {
			next := backoff.NextAttempt(cfg.Retry, retryMsg.Attempt, w.rng)
			outcome.NextAttempt = &next
		}

		if err := dispatchers.OutcomePublisher.Publish(sctx, outcome); err != nil {
			span.RecordError(err)
			logger.Error("retry worker: publish outcome", zap.Error(err))
			span.End()
			// Left uncommitted so the send result is not lost; redelivery
			// re-sends, which the attempt-guarded link update tolerates.
			continue
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("retry worker: commit", zap.Error(err))
		}
		span.End()
	}
}

func (w *Worker) sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
