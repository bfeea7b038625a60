package twilio

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

func testProvider(baseURL string) *Provider {
	cfg := config.SmsConfig{
		FromNumber: "+15550100000",
		Twilio: config.TwilioConfig{
			AccountSID: "ACtest",
			AuthToken:  "secret",
			BaseURL:    baseURL,
		},
	}
	return NewProvider(cfg, &logger.Logger{Logger: zap.NewNop()})
}

func TestSendSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "ACtest" {
			t.Errorf("missing or wrong basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+15551234567" {
			t.Errorf("expected To +15551234567, got %s", got)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sid": "SM123", "status": "queued"}`)
	}))
	defer server.Close()

	result := testProvider(server.URL).Send(context.Background(), "+15551234567", "hello")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.MessageID != "SM123" {
		t.Errorf("expected message id SM123, got %s", result.MessageID)
	}
}

func TestSendVendorRejectionNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message": "The 'To' number is not a valid phone number.", "code": 21211}`)
	}))
	defer server.Close()

	result := testProvider(server.URL).Send(context.Background(), "bogus", "hello")
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Retryable {
		t.Error("vendor rejection must not be retryable")
	}
	if result.Error != "The 'To' number is not a valid phone number." {
		t.Errorf("unexpected error %q", result.Error)
	}
}

func TestSendServerErrorRetryable(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			fmt.Fprint(w, `{}`)
		}))
		result := testProvider(server.URL).Send(context.Background(), "+15551234567", "hello")
		server.Close()

		if result.Success {
			t.Fatalf("status %d: expected failure", status)
		}
		if !result.Retryable {
			t.Errorf("status %d: expected retryable", status)
		}
	}
}

func TestSendTransportFailureRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	result := testProvider(server.URL).Send(context.Background(), "+15551234567", "hello")
	if result.Success {
		t.Fatal("expected failure")
	}
	if !result.Retryable {
		t.Error("transport failure must be retryable")
	}
}

func TestSendBatchPartitionsAndCorrelates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("To") == "+15550000002" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"message": "blocked"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sid": "SM1"}`)
	}))
	defer server.Close()

	ok, bad := uuid.New(), uuid.New()
	result := testProvider(server.URL).SendBatch(context.Background(), []domain.BatchMessage{
		{ClientID: ok, Phone: "+15550000001", Body: "hi"},
		{ClientID: bad, Phone: "+15550000002", Body: "hi"},
	})

	if len(result.Success) != 1 || len(result.Failed) != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %d/%d", len(result.Success), len(result.Failed))
	}
	if result.Success[0].ClientID != ok {
		t.Errorf("success outcome correlates to wrong client")
	}
	if result.Failed[0].ClientID != bad {
		t.Errorf("failed outcome correlates to wrong client")
	}
}

func TestDeliveryStatus(t *testing.T) {
	vendor := "delivered"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sid": "SM123", "status": %q}`, vendor)
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	if got := provider.DeliveryStatus(context.Background(), "SM123"); got != domain.DeliveryDelivered {
		t.Errorf("expected delivered, got %s", got)
	}

	vendor = "some-new-vendor-state"
	if got := provider.DeliveryStatus(context.Background(), "SM123"); got != domain.DeliveryUnknown {
		t.Errorf("unrecognized vendor status must map to unknown, got %s", got)
	}
}

func TestDeliveryStatusLookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if got := testProvider(server.URL).DeliveryStatus(context.Background(), "SMmissing"); got != domain.DeliveryUnknown {
		t.Errorf("lookup failure must report unknown, got %s", got)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		vendor string
		want   domain.DeliveryStatus
	}{
		{"delivered", domain.DeliveryDelivered},
		{"failed", domain.DeliveryFailed},
		{"undelivered", domain.DeliveryFailed},
		{"sent", domain.DeliverySent},
		{"queued", domain.DeliveryPending},
		{"accepted", domain.DeliveryPending},
		{"sending", domain.DeliveryPending},
		{"", domain.DeliveryUnknown},
		{"canceled", domain.DeliveryUnknown},
	}
	for _, tc := range cases {
		if got := mapStatus(tc.vendor); got != tc.want {
			t.Errorf("mapStatus(%q) = %s, want %s", tc.vendor, got, tc.want)
		}
	}
}
