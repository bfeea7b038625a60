package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/service/common"
)

type createClientRequest struct {
	Name       string      `json:"name"`
	Phone      string      `json:"phone"`
	CategoryID *uuid.UUID  `json:"category_id"`
	TagIDs     []uuid.UUID `json:"tag_ids"`
}

type clientResponse struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Phone      string      `json:"phone"`
	CategoryID *uuid.UUID  `json:"category_id,omitempty"`
	TagIDs     []uuid.UUID `json:"tag_ids,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type listClientsResponse struct {
	Clients []clientResponse `json:"clients"`
}

func (h *HandlerSet) createClient(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}

	var req createClientRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return fiber.NewError(http.StatusBadRequest, "client name is required")
	}

	phone, err := common.NormalizePhone(req.Phone)
	if err != nil {
		return translateError(err)
	}

	now := time.Now().UTC()
	client := &domain.Client{
		ID:         uuid.New(),
		TenantID:   tenant,
		Name:       req.Name,
		Phone:      phone,
		CategoryID: req.CategoryID,
		TagIDs:     req.TagIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.clients.Create(ctx.Context(), client); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toClientResponse(client))
}

func (h *HandlerSet) listClients(ctx *fiber.Ctx) error {
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

	clients, err := h.clients.List(ctx.Context(), tenant, afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listClientsResponse{Clients: make([]clientResponse, 0, len(clients))}
	for _, c := range clients {
		resp.Clients = append(resp.Clients, toClientResponse(c))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getClient(ctx *fiber.Ctx) error {
	tenant, err := tenantID(ctx)
	if err != nil {
		return err
	}
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid client id")
	}

	client, err := h.clients.Get(ctx.Context(), tenant, id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toClientResponse(client))
}

func toClientResponse(client *domain.Client) clientResponse {
	return clientResponse{
		ID:         client.ID,
		Name:       client.Name,
		Phone:      client.Phone,
		CategoryID: client.CategoryID,
		TagIDs:     client.TagIDs,
		CreatedAt:  client.CreatedAt,
		UpdatedAt:  client.UpdatedAt,
	}
}
