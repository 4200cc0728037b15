package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/PauFou/form-builder-sub001/internal/handler"
	"github.com/PauFou/form-builder-sub001/internal/middleware"
	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
)

// Handler is the thin management surface the admin application talks to:
// register and deactivate webhooks, inspect deliveries and dead letters.
type Handler struct {
	webhooks    repository.WebhookRepository
	deliveries  repository.DeliveryRepository
	deadLetters repository.DeadLetterRepository
	logger      *logger.Logger
}

func NewHandler(
	webhooks repository.WebhookRepository,
	deliveries repository.DeliveryRepository,
	deadLetters repository.DeadLetterRepository,
	log *logger.Logger,
) *Handler {
	return &Handler{
		webhooks:    webhooks,
		deliveries:  deliveries,
		deadLetters: deadLetters,
		logger:      log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	hooks := r.Group("/webhooks")
	{
		hooks.POST("", h.CreateWebhook)
		hooks.GET("", h.ListWebhooks)
		hooks.PATCH("/:id/active", h.SetActive)
		hooks.GET("/:id/deliveries", h.ListDeliveries)
	}
	r.GET("/dead-letters", h.ListDeadLetters)
}

type createWebhookRequest struct {
	URL        string            `json:"url" binding:"required,url"`
	Secret     string            `json:"secret" binding:"required,min=16"`
	EventTypes []string          `json:"event_types" binding:"required,min=1,dive,event_type"`
	Headers    map[string]string `json:"headers"`
}

// createWebhookResponse echoes the secret exactly once, at creation. Every
// later read path serializes the webhook with the secret redacted.
type createWebhookResponse struct {
	*model.Webhook
	Secret string `json:"secret"`
}

func (h *Handler) CreateWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("MALFORMED_PAYLOAD", err.Error()))
		return
	}

	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}

	webhook := &model.Webhook{
		OrganizationID: orgID,
		URL:            req.URL,
		Secret:         req.Secret,
		Active:         true,
		EventTypes:     pq.StringArray(req.EventTypes),
		Headers:        req.Headers,
	}
	if err := h.webhooks.Create(c.Request.Context(), webhook); err != nil {
		h.logger.Error(err, "failed to create webhook")
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("INTERNAL", "failed to create webhook"))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(&createWebhookResponse{
		Webhook: webhook,
		Secret:  req.Secret,
	}))
}

func (h *Handler) ListWebhooks(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}

	webhooks, err := h.webhooks.ListByOrganization(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error(err, "failed to list webhooks")
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("INTERNAL", "failed to list webhooks"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(webhooks))
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive deactivates (or reactivates) a webhook. In-flight deliveries run
// to their natural terminal state either way.
func (h *Handler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("MALFORMED_PAYLOAD", "invalid webhook ID"))
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("MALFORMED_PAYLOAD", err.Error()))
		return
	}

	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}

	if err := h.webhooks.SetActive(c.Request.Context(), orgID, id, *req.Active); err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			c.JSON(appErr.HTTPStatus(), handler.NewErrorResponse(string(appErr.Code), appErr.Message))
			return
		}
		h.logger.Error(err, "failed to update webhook", "webhook_id", id.String())
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("INTERNAL", "failed to update webhook"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("MALFORMED_PAYLOAD", "invalid webhook ID"))
		return
	}

	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}

	// Delivery payloads hold respondent answers; only the owning tenant
	// may read them.
	webhook, err := h.webhooks.Get(c.Request.Context(), id)
	if err != nil || webhook.OrganizationID != orgID {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("NOT_FOUND", "webhook not found"))
		return
	}

	var p model.Pagination
	if err := c.ShouldBindQuery(&p); err != nil || p.PageSize <= 0 {
		p = model.Pagination{Page: 1, PageSize: 50}
	}
	if p.Page <= 0 {
		p.Page = 1
	}

	deliveries, err := h.deliveries.ListByWebhook(c.Request.Context(), id, p.PageSize, (p.Page-1)*p.PageSize)
	if err != nil {
		h.logger.Error(err, "failed to list deliveries", "webhook_id", id.String())
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("INTERNAL", "failed to list deliveries"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(deliveries))
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}

	var p model.Pagination
	if err := c.ShouldBindQuery(&p); err != nil || p.PageSize <= 0 {
		p = model.Pagination{Page: 1, PageSize: 50}
	}
	if p.Page <= 0 {
		p.Page = 1
	}

	entries, err := h.deadLetters.List(c.Request.Context(), orgID, p.PageSize, (p.Page-1)*p.PageSize)
	if err != nil {
		h.logger.Error(err, "failed to list dead letters")
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("INTERNAL", "failed to list dead letters"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}

func (h *Handler) organizationID(c *gin.Context) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.GetString(middleware.ContextOrganizationID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("UNAUTHORIZED", "invalid organization"))
		return uuid.Nil, false
	}
	return orgID, true
}
