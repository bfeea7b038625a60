package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/infra/db"
	"github.com/acme/sms-campaign-dispatch/internal/infra/redis"
	"github.com/acme/sms-campaign-dispatch/internal/queue"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
	pgrepo "github.com/acme/sms-campaign-dispatch/internal/repository/postgres"
	scyllarepo "github.com/acme/sms-campaign-dispatch/internal/repository/scylla"
	campaignsvc "github.com/acme/sms-campaign-dispatch/internal/service/campaign"
	"github.com/acme/sms-campaign-dispatch/internal/service/concurrency"
	usagesvc "github.com/acme/sms-campaign-dispatch/internal/service/usage"
	"github.com/acme/sms-campaign-dispatch/internal/sms"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		err          error
		repositories *repositories
		services     *services
		dispatchers  *dispatchers
		limiters     *limiters
	}
}

type repositories struct {
	Campaigns  repository.CampaignRepository
	Recipients repository.RecipientRepository
	Clients    repository.ClientRepository
	Usage      repository.UsageRepository
	Messages   repository.MessageLog
}

type services struct {
	Campaign *campaignsvc.Service
	Usage    *usagesvc.Tracker
	Sms      *sms.Service
}

type dispatchers struct {
	CampaignDispatcher *queue.CampaignDispatcher
	OutcomePublisher   *queue.OutcomePublisher
	RetryScheduler     *queue.RetryScheduler
	DeadLetter         *queue.DeadLetter
}

type limiters struct {
	Dispatch *concurrency.Limiter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() error {
	c.components.once.Do(func() {
		quotaDefaults := pgrepo.QuotaDefaults{
			SmsLimit:      c.Config.Quota.DefaultSmsLimit,
			CampaignLimit: c.Config.Quota.DefaultCampaignLimit,
		}

		repos := &repositories{
			Campaigns:  pgrepo.NewCampaignRepository(c.Postgres.DB(), quotaDefaults),
			Recipients: pgrepo.NewRecipientRepository(c.Postgres.DB()),
			Clients:    pgrepo.NewClientRepository(c.Postgres.DB()),
			Usage:      pgrepo.NewUsageRepository(c.Postgres.DB(), quotaDefaults),
			Messages:   scyllarepo.NewMessageLog(c.Scylla.Session()),
		}

		disp := &dispatchers{
			CampaignDispatcher: queue.NewCampaignDispatcher(c.Kafka, c.Config.Kafka.DispatchTopic),
			OutcomePublisher:   queue.NewOutcomePublisher(c.Kafka, c.Config.Kafka.OutcomeTopic),
			RetryScheduler:     queue.NewRetryScheduler(c.Kafka, c.Config.Kafka.RetryTopics),
		}
		if c.Config.Kafka.DeadLetterTopic != "" {
			disp.DeadLetter = queue.NewDeadLetter(c.Kafka, c.Config.Kafka.DeadLetterTopic)
		}

		smsService, err := sms.NewService(c.Config.Sms, c.Logger)
		if err != nil {
			c.components.err = fmt.Errorf("bootstrap sms provider: %w", err)
			return
		}

		tracker := usagesvc.NewTracker(repos.Usage)

		svcs := &services{
			Campaign: campaignsvc.NewService(
				repos.Campaigns,
				repos.Clients,
				repos.Recipients,
				repos.Messages,
				disp.CampaignDispatcher,
				tracker,
			),
			Usage: tracker,
			Sms:   smsService,
		}

		lims := &limiters{
			Dispatch: concurrency.NewLimiter(c.Redis.Inner(), c.Config.Scheduler.LockKeyPrefix, c.Config.Dispatch.LockTTL),
		}

		c.components.repositories = repos
		c.components.dispatchers = disp
		c.components.services = svcs
		c.components.limiters = lims
	})
	return c.components.err
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() (*repositories, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.repositories, nil
}

// Services exposes initialized services.
func (c *Container) Services() (*services, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.services, nil
}

// Dispatchers exposes Kafka dispatchers.
func (c *Container) Dispatchers() (*dispatchers, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.dispatchers, nil
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() (*limiters, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.limiters, nil
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if d := c.components.dispatchers; d != nil {
		if d.CampaignDispatcher != nil {
			if err := d.CampaignDispatcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("campaign dispatcher close: %w", err))
			}
		}
		if d.OutcomePublisher != nil {
			if err := d.OutcomePublisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
			}
		}
		if d.RetryScheduler != nil {
			if err := d.RetryScheduler.Close(); err != nil {
				errs = append(errs, fmt.Errorf("retry scheduler close: %w", err))
			}
		}
		if d.DeadLetter != nil {
			if err := d.DeadLetter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dead letter close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.DispatchTopic, c.Config.Kafka.OutcomeTopic}
	if err := c.Kafka.EnsureTopics(ctx, topics, 48, 1); err != nil {
		return err
	}

	if len(c.Config.Kafka.RetryTopics) > 0 {
		if err := c.Kafka.EnsureTopics(ctx, c.Config.Kafka.RetryTopics, 48, 1); err != nil {
			return err
		}
	}

	if c.Config.Kafka.DeadLetterTopic != "" {
		if err := c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.DeadLetterTopic}, 12, 1); err != nil {
			return err
		}
	}

	return nil
}
