package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Provider sends messages through the Twilio REST API.
type Provider struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	timeout    time.Duration
	client     *http.Client
	log        *logger.Logger
}

// NewProvider constructs a Twilio provider from configuration. BaseURL is
// overridable for testing against a stub server.
func NewProvider(cfg config.SmsConfig, log *logger.Logger) *Provider {
	baseURL := cfg.Twilio.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		accountSID: cfg.Twilio.AccountSID,
		authToken:  cfg.Twilio.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Name identifies the provider.
func (p *Provider) Name() string { return "twilio" }

type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
	Code         int    `json:"code"`
}

// Send delivers one message. Transport faults and timeouts come back as
// retryable failures; vendor rejections (bad number, account trouble) as
// non-retryable ones.
func (p *Provider) Send(ctx context.Context, phone, body string) domain.SmsResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", p.fromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.SmsResult{Error: fmt.Sprintf("build request: %v", err), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.WithContext(ctx).Warn("twilio send transport failure",
			zap.String("phone", phone), zap.Error(err))
		return domain.SmsResult{Error: fmt.Sprintf("transport: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	var payload messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.SmsResult{Error: fmt.Sprintf("decode response: %v", err), Retryable: true}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return domain.SmsResult{Success: true, MessageID: payload.SID}
	}

	// 5xx and throttling are worth retrying; other 4xx rejections are not.
	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	reason := payload.Message
	if reason == "" {
		reason = payload.ErrorMessage
	}
	if reason == "" {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	p.log.WithContext(ctx).Warn("twilio send rejected",
		zap.String("phone", phone), zap.Int("status", resp.StatusCode), zap.String("reason", reason))
	return domain.SmsResult{Error: reason, Retryable: retryable}
}

// SendBatch delivers each message in turn. Twilio has no bulk endpoint at
// this API level, so the batch is a loop; one recipient's failure never stops
// the rest.
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

// DeliveryStatus fetches the vendor's current status for a message and maps
// it to the closed vocabulary. Any lookup failure reports unknown.
func (p *Provider) DeliveryStatus(ctx context.Context, messageID string) domain.DeliveryStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages/%s.json", p.baseURL, p.accountSID, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.DeliveryUnknown
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.DeliveryUnknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.DeliveryUnknown
	}

	var payload messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.DeliveryUnknown
	}

	return mapStatus(payload.Status)
}

func mapStatus(vendor string) domain.DeliveryStatus {
	switch vendor {
	case "delivered":
		return domain.DeliveryDelivered
	case "failed", "undelivered":
		return domain.DeliveryFailed
	case "sent":
		return domain.DeliverySent
	case "queued", "accepted", "sending":
		return domain.DeliveryPending
	default:
		return domain.DeliveryUnknown
	}
}
