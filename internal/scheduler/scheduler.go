package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/service/concurrency"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

const tickLockName = "scheduler-tick"

// CampaignSource lists campaigns whose scheduled time has arrived.
type CampaignSource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error)
}

// CampaignDispatcher hands a due campaign to the send pipeline.
type CampaignDispatcher interface {
	DispatchScheduled(ctx context.Context, campaign *domain.Campaign) error
}

// Scheduler periodically promotes due scheduled campaigns into the send
// pipeline. A Redis lock keeps concurrent scheduler instances from racing on
// the same tick; the guarded status transition inside dispatch makes a missed
// lock harmless anyway.
type Scheduler struct {
	cfg      config.SchedulerConfig
	source   CampaignSource
	dispatch CampaignDispatcher
	limiter  *concurrency.Limiter
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a scheduler.
func New(cfg config.SchedulerConfig, source CampaignSource, dispatch CampaignDispatcher, limiter *concurrency.Limiter, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		dispatch: dispatch,
		limiter:  limiter,
		log:      log,
		now:      time.Now,
	}
}

// Run executes the scheduling loop until cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling pass: take the tick lock, list due campaigns, and
// hand each to the pipeline. A campaign that fails to dispatch stays
// scheduled and is retried on a later tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	tracer := otel.Tracer("smsdispatch.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	if s.limiter != nil {
		acquired, err := s.limiter.AcquireNamed(sctx, tickLockName)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !acquired {
			s.log.Debug("scheduler: tick lock held elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := s.limiter.ReleaseNamed(context.WithoutCancel(sctx), tickLockName); err != nil {
				s.log.Warn("scheduler: release tick lock", zap.Error(err))
			}
		}()
	}

	limit := s.cfg.MaxBatchSize
	if limit <= 0 {
		limit = 100
	}

	now := s.now().UTC()
	campaigns, err := s.source.ListDue(sctx, now, limit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))

	if len(campaigns) == 0 {
		return nil
	}
	s.log.Info("scheduler: dispatching due campaigns", zap.Int("count", len(campaigns)))

	for _, campaign := range campaigns {
		if err := s.dispatch.DispatchScheduled(sctx, campaign); err != nil {
			span.RecordError(err)
			s.log.Error("scheduler: dispatch campaign",
				zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
			continue
		}
		s.log.Info("scheduler: campaign dispatched",
			zap.String("campaign_id", campaign.ID.String()),
			zap.String("tenant_id", campaign.TenantID.String()))
	}

	return nil
}
