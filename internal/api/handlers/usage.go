package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

type usageResponse struct {
	Period             string `json:"period"`
	SmsUsed            int64  `json:"sms_used"`
	SmsLimit           int64  `json:"sms_limit"`
	SmsRemaining       int64  `json:"sms_remaining"`
	CampaignsUsed      int64  `json:"campaigns_used"`
	CampaignsLimit     int64  `json:"campaigns_limit"`
	CampaignsRemaining int64  `json:"campaigns_remaining"`
}

func (h *HandlerSet) usageSummary(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}

	usage, err := h.usage.Summary(ctx.Context(), tenant)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(usageResponse{
		Period:             usage.Period,
		SmsUsed:            usage.SmsUsed,
		SmsLimit:           usage.SmsLimit,
		SmsRemaining:       usage.SmsRemaining(),
		CampaignsUsed:      usage.CampaignsUsed,
		CampaignsLimit:     usage.CampaignsLimit,
		CampaignsRemaining: usage.CampaignsRemaining(),
	})
}
