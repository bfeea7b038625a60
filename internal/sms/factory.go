package sms

import (
	"fmt"

	"github.com/acme/sms-campaign-dispatch/internal/config"
	"github.com/acme/sms-campaign-dispatch/internal/sms/mock"
	"github.com/acme/sms-campaign-dispatch/internal/sms/twilio"
	apperrors "github.com/acme/sms-campaign-dispatch/pkg/errors"
	"github.com/acme/sms-campaign-dispatch/pkg/logger"
)

// ProviderTwilio and ProviderMock are the supported provider names.
const (
	ProviderTwilio = "twilio"
	ProviderMock   = "mock"
)

// NewProvider builds the provider named in the configuration. Unknown names
// fail here, at construction, rather than on the first send.
func NewProvider(name string, cfg config.SmsConfig, log *logger.Logger) (Provider, error) {
	switch name {
	case ProviderTwilio:
		return twilio.NewProvider(cfg, log), nil
	case ProviderMock:
		return mock.NewProvider(cfg.Mock), nil
	default:
		return nil, fmt.Errorf("%w: sms provider %q", apperrors.ErrUnsupported, name)
	}
}
