package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
)

// Provider simulates SMS delivery for development and testing.
type Provider struct {
	successRate float64
	latency     time.Duration

	mu       sync.Mutex
	rng      *rand.Rand
	statuses map[string]domain.DeliveryStatus
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.MockConfig) *Provider {
	successRate := cfg.SuccessRate
	if successRate <= 0 || successRate > 1 {
		successRate = 0.95
	}
	return &Provider{
		successRate: successRate,
		latency:     cfg.Latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		statuses:    make(map[string]domain.DeliveryStatus),
	}
}

// Name identifies the provider.
func (p *Provider) Name() string { return "mock" }

// Send simulates one delivery attempt.
func (p *Provider) Send(ctx context.Context, phone, body string) domain.SmsResult {
	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return domain.SmsResult{Error: ctx.Err().Error(), Retryable: true}
		case <-time.After(p.latency):
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rng.Float64() <= p.successRate {
		id := fmt.Sprintf("mock-%s", uuid.NewString())
		p.statuses[id] = domain.DeliveryDelivered
		return domain.SmsResult{Success: true, MessageID: id}
	}

	retryable := p.rng.Float64() < 0.7
	return domain.SmsResult{Error: "simulated failure", Retryable: retryable}
}

// SendBatch simulates a bulk delivery, one attempt per message.
func (p *Provider) SendBatch(ctx context.Context, messages []domain.BatchMessage) domain.BatchResult {
	var result domain.BatchResult
	for _, msg := range messages {
		outcome := domain.SendOutcome{
			ClientID: msg.ClientID,
			Phone:    msg.Phone,
			Result:   p.Send(ctx, msg.Phone, msg.Body),
		}
		if outcome.Result.Success {
			result.Success = append(result.Success, outcome)
		} else {
			result.Failed = append(result.Failed, outcome)
		}
	}
	return result
}

// DeliveryStatus reports the stored status for a message id issued by this
// provider; unknown ids report unknown.
func (p *Provider) DeliveryStatus(ctx context.Context, messageID string) domain.DeliveryStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if status, ok := p.statuses[messageID]; ok {
		return status
	}
	return domain.DeliveryUnknown
}
