package sms

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

// Service is the sending facade the rest of the system talks to. It holds the
// active provider and supports switching it at runtime; callers never handle
// a nil provider because construction fails fast on an unsupported name.
//
// Message bodies are never logged here, only destinations and outcomes.
type Service struct {
	cfg config.SmsConfig
	log *logger.Logger

	mu       sync.RWMutex
	provider Provider
}

// NewService constructs the facade with the configured provider.
func NewService(cfg config.SmsConfig, log *logger.Logger) (*Service, error) {
	provider, err := NewProvider(cfg.Provider, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, log: log, provider: provider}, nil
}

// Use switches the active provider by name. The switch only applies when the
// new provider constructs successfully; on error the current one stays.
func (s *Service) Use(name string) error {
	provider, err := NewProvider(name, s.cfg, s.log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.provider = provider
	s.mu.Unlock()

	s.log.Info("sms provider switched", zap.String("provider", name))
	return nil
}

// ActiveProvider returns the current provider's name.
func (s *Service) ActiveProvider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider.Name()
}

// Send delivers one message through the active provider.
func (s *Service) Send(ctx context.Context, phone, body string) domain.SmsResult {
	return s.current().Send(ctx, phone, body)
}

// SendBatch delivers a batch through the active provider.
func (s *Service) SendBatch(ctx context.Context, messages []domain.BatchMessage) domain.BatchResult {
	return s.current().SendBatch(ctx, messages)
}

// DeliveryStatus reports the delivery status of a sent message.
func (s *Service) DeliveryStatus(ctx context.Context, messageID string) domain.DeliveryStatus {
	return s.current().DeliveryStatus(ctx, messageID)
}

func (s *Service) current() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}
