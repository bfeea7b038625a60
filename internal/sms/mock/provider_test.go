package mock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
)

func TestSendAlwaysSucceedsAtFullRate(t *testing.T) {
	p := NewProvider(config.MockConfig{SuccessRate: 1.0})

	for i := 0; i < 50; i++ {
		result := p.Send(context.Background(), "+15551234567", "hello")
		if !result.Success {
			t.Fatalf("success_rate 1.0 produced a failure: %q", result.Error)
		}
		if result.MessageID == "" {
			t.Fatal("expected a message id")
		}
		if got := p.DeliveryStatus(context.Background(), result.MessageID); got != domain.DeliveryDelivered {
			t.Fatalf("issued id must report delivered, got %s", got)
		}
	}
}

func TestDeliveryStatusUnknownID(t *testing.T) {
	p := NewProvider(config.MockConfig{SuccessRate: 1.0})
	if got := p.DeliveryStatus(context.Background(), "never-issued"); got != domain.DeliveryUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestSendBatchCorrelation(t *testing.T) {
	p := NewProvider(config.MockConfig{SuccessRate: 1.0})

	messages := []domain.BatchMessage{
		{ClientID: uuid.New(), Phone: "+15550000001", Body: "a"},
		{ClientID: uuid.New(), Phone: "+15550000002", Body: "b"},
	}
	result := p.SendBatch(context.Background(), messages)

	if len(result.Success) != 2 || len(result.Failed) != 0 {
		t.Fatalf("expected all successes, got %d/%d", len(result.Success), len(result.Failed))
	}
	for i, outcome := range result.Success {
		if outcome.ClientID != messages[i].ClientID {
			t.Errorf("outcome %d correlates to wrong client", i)
		}
	}
}

func TestSendHonorsContextDuringLatency(t *testing.T) {
	p := NewProvider(config.MockConfig{SuccessRate: 1.0, Latency: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := p.Send(ctx, "+15551234567", "hello")
	if time.Since(start) > time.Second {
		t.Fatal("send did not return promptly on context cancellation")
	}
	if result.Success {
		t.Error("cancelled send must not succeed")
	}
	if !result.Retryable {
		t.Error("cancelled send must be retryable")
	}
}
