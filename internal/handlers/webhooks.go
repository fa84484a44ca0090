package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/middleware"
	"github.com/charlesng35/popshop/internal/services"
	"github.com/charlesng35/popshop/internal/shopify"
	apperrors "github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/response"
)

// WebhookHandler receives Shopify webhook deliveries on /webhooks/*topic.
type WebhookHandler struct {
	svc *services.WebhookService
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(svc *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Receive stores and dispatches one delivery. The signature has already been
// checked by middleware.VerifyWebhook.
func (h *WebhookHandler) Receive(c *gin.Context) {
	topic := shopify.TopicFromPath(c.Param("topic"))
	if topic == "" {
		response.Error(c, apperrors.NewBadRequest("Webhook topic is required"))
		return
	}
	shop := strings.TrimSpace(c.GetHeader(middleware.HeaderShopifyShop))
	if shop == "" {
		response.Error(c, apperrors.NewBadRequest("Missing "+middleware.HeaderShopifyShop+" header"))
		return
	}
	if _, err := shopify.NormalizeShopDomain(shop); err != nil {
		response.Error(c, apperrors.NewBadRequest("Invalid shop domain"))
		return
	}

	body, ok := middleware.RawBody(c)
	if !ok {
		var err error
		if body, err = io.ReadAll(c.Request.Body); err != nil {
			response.Error(c, apperrors.NewBadRequest("Unable to read webhook body"))
			return
		}
	}

	event, err := h.svc.Process(requestContext(c), services.WebhookDelivery{
		Topic:     topic,
		Shop:      shop,
		WebhookID: c.GetHeader(middleware.HeaderShopifyWebhook),
		Payload:   body,
	})
	switch {
	case errors.Is(err, services.ErrInvalidWebhookPayload):
		response.Error(c, apperrors.NewBadRequest("Webhook payload must be JSON"))
		return
	case errors.Is(err, services.ErrDuplicateWebhook):
		response.Success(c, http.StatusOK, gin.H{"duplicate": true})
		return
	case err != nil:
		logger.WithModule("webhooks").Error("webhook not stored",
			zap.String("topic", topic),
			zap.String("shop", shop),
			zap.Error(err),
		)
		response.Error(c, apperrors.Wrap(err, "Webhook processing failed"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":        event.ID,
		"topic":     event.Topic,
		"processed": event.Processed,
	})
}

// MethodNotAllowed answers non-POST requests on the webhook endpoint.
func (h *WebhookHandler) MethodNotAllowed(c *gin.Context) {
	c.Header("Allow", http.MethodPost)
	response.Error(c, apperrors.ErrMethodNotAllowed)
}
