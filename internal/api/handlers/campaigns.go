package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	campaignsvc "github.com/acme/sms-campaign-dispatch/internal/service/campaign"
)

type filterCriteriaRequest struct {
	TagIDs      []uuid.UUID `json:"tag_ids"`
	CategoryIDs []uuid.UUID `json:"category_ids"`
}

type createCampaignRequest struct {
	Name           string                 `json:"name"`
	MessageContent string                 `json:"message_content"`
	ScheduledAt    *time.Time             `json:"scheduled_at"`
	ClientIDs      []uuid.UUID            `json:"client_ids"`
	FilterCriteria *filterCriteriaRequest `json:"filter_criteria"`
	SendNow        bool                   `json:"send_now"`
}

type updateCampaignRequest struct {
	Name           *string                `json:"name"`
	MessageContent *string                `json:"message_content"`
	ScheduledAt    *time.Time             `json:"scheduled_at"`
	ClientIDs      *[]uuid.UUID           `json:"client_ids"`
	FilterCriteria *filterCriteriaRequest `json:"filter_criteria"`
	SendNow        bool                   `json:"send_now"`
}

type campaignResponse struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	MessageContent  string                `json:"message_content"`
	ScheduledAt     *time.Time            `json:"scheduled_at,omitempty"`
	Status          domain.CampaignStatus `json:"status"`
	RecipientsCount int                   `json:"recipients_count"`
	DeliveredCount  int                   `json:"delivered_count"`
	FailedCount     int                   `json:"failed_count"`
	ErrorMessage    *string               `json:"error_message,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type recipientResponse struct {
	ClientID  uuid.UUID              `json:"client_id"`
	Status    domain.RecipientStatus `json:"status"`
	MessageID *string                `json:"message_id,omitempty"`
	Error     *string                `json:"error,omitempty"`
	Attempts  int                    `json:"attempts"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type listRecipientsResponse struct {
	Recipients []recipientResponse `json:"recipients"`
}

type messageResponse struct {
	ClientID    uuid.UUID `json:"client_id"`
	PhoneNumber string    `json:"phone_number"`
	Status      string    `json:"status"`
	MessageID   string    `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempt     int       `json:"attempt"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
	NextPage string            `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}

	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.CreateCampaignInput{
		TenantID:       tenant,
		Name:           req.Name,
		MessageContent: req.MessageContent,
		ScheduledAt:    req.ScheduledAt,
		ClientIDs:      req.ClientIDs,
		SendNow:        req.SendNow,
	}
	if req.FilterCriteria != nil {
		input.Filter = domain.FilterCriteria{
			TagIDs:      req.FilterCriteria.TagIDs,
			CategoryIDs: req.FilterCriteria.CategoryIDs,
		}
	}

	campaign, err := h.campaigns.Create(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	var afterID *uuid.UUID
	if afterStr := ctx.Query("after_id"); afterStr != "" {
		if id, err := uuid.Parse(afterStr); err == nil {
			afterID = &id
		}
	}

	campaigns, err := h.campaigns.List(ctx.Context(), tenant, afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), tenant, id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.UpdateCampaignInput{
		TenantID:       tenant,
		ID:             id,
		Name:           req.Name,
		MessageContent: req.MessageContent,
		ScheduledAt:    req.ScheduledAt,
		ClientIDs:      req.ClientIDs,
		SendNow:        req.SendNow,
	}
	if req.FilterCriteria != nil {
		input.Filter = &domain.FilterCriteria{
			TagIDs:      req.FilterCriteria.TagIDs,
			CategoryIDs: req.FilterCriteria.CategoryIDs,
		}
	}

	campaign, err := h.campaigns.Update(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) sendCampaign(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Send(ctx.Context(), tenant, id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) retryCampaign(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Retry(ctx.Context(), tenant, id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listRecipients(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "200"))

	recipients, err := h.campaigns.Recipients(ctx.Context(), tenant, id, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listRecipientsResponse{Recipients: make([]recipientResponse, 0, len(recipients))}
	for _, r := range recipients {
		resp.Recipients = append(resp.Recipients, recipientResponse{
			ClientID:  r.ClientID,
			Status:    r.Status,
			MessageID: r.MessageID,
			Error:     r.Error,
			Attempts:  r.Attempts,
			UpdatedAt: r.UpdatedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) recipientDelivery(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	clientID, err := parseUUID(ctx.Params("clientID"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid client id")
	}

	if _, err := h.campaigns.Get(ctx.Context(), tenant, id); err != nil {
		return translateError(err)
	}

	recipient, err := h.recipients.Get(ctx.Context(), id, clientID)
	if err != nil {
		return translateError(err)
	}

	status := domain.DeliveryUnknown
	if recipient.MessageID != nil {
		status = h.sms.DeliveryStatus(ctx.Context(), *recipient.MessageID)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"client_id":       recipient.ClientID,
		"message_id":      recipient.MessageID,
		"delivery_status": status,
	})
}

func (h *HandlerSet) listMessages(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	token := ctx.Query("page_token", "")

	records, nextToken, err := h.campaigns.Messages(ctx.Context(), tenant, id, limit, token)
	if err != nil {
		return translateError(err)
	}

	resp := listMessagesResponse{Messages: make([]messageResponse, 0, len(records)), NextPage: nextToken}
	for _, r := range records {
		resp.Messages = append(resp.Messages, messageResponse{
			ClientID:    r.ClientID,
			PhoneNumber: r.PhoneNumber,
			Status:      r.Status,
			MessageID:   r.MessageID,
			Error:       r.Error,
			Attempt:     r.Attempt,
			OccurredAt:  r.OccurredAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:              campaign.ID,
		Name:            campaign.Name,
		MessageContent:  campaign.MessageContent,
		ScheduledAt:     campaign.ScheduledAt,
		Status:          campaign.Status,
		RecipientsCount: campaign.RecipientsCount,
		DeliveredCount:  campaign.DeliveredCount,
		FailedCount:     campaign.FailedCount,
		ErrorMessage:    campaign.ErrorMessage,
		CreatedAt:       campaign.CreatedAt,
		UpdatedAt:       campaign.UpdatedAt,
	}
}
