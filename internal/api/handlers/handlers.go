package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/sms-campaign-dispatch/internal/app"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
	campaignsvc "github.com/acme/sms-campaign-dispatch/internal/service/campaign"
	usagesvc "github.com/acme/sms-campaign-dispatch/internal/service/usage"
	"github.com/acme/sms-campaign-dispatch/internal/sms"
)

const tenantHeader = "X-Tenant-ID"

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container  *app.Container
	campaigns  *campaignsvc.Service
	usage      *usagesvc.Tracker
	sms        *sms.Service
	recipients repository.RecipientRepository
	clients    repository.ClientRepository
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) (*HandlerSet, error) {
	services, err := container.Services()
	if err != nil {
		return nil, err
	}
	repos, err := container.Repositories()
	if err != nil {
		return nil, err
	}
	return &HandlerSet{
		container:  container,
		campaigns:  services.Campaign,
		usage:      services.Usage,
		sms:        services.Sms,
		recipients: repos.Recipients,
		clients:    repos.Clients,
	}, nil
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Post("/:id/send", h.sendCampaign)
	campaigns.Post("/:id/retry", h.retryCampaign)
	campaigns.Get("/:id/recipients", h.listRecipients)
	campaigns.Get("/:id/recipients/:clientID/delivery", h.recipientDelivery)
	campaigns.Get("/:id/messages", h.listMessages)

	clients := v1.Group("/clients")
	clients.Post("/", h.createClient)
	clients.Get("/", h.listClients)
	clients.Get("/:id", h.getClient)

	v1.Get("/usage", h.usageSummary)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Ping(healthCtx); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	if err := h.container.Kafka.Ping(healthCtx); err != nil {
		errs["kafka"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}

// tenantID extracts and validates the tenant header.
func tenantID(ctx *fiber.Ctx) (uuid.UUID, error) {
	raw := ctx.Get(tenantHeader)
	if raw == "" {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "missing "+tenantHeader+" header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid "+tenantHeader+" header")
	}
	return id, nil
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
