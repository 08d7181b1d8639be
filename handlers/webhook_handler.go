package handlers

import (
	"context"
	"crypto/subtle"

	"github.com/labstack/echo/v4"

	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/pkg/logger"
	"github.com/zapgate/campaign-service/pkg/response"
)

const WebhookSecretHeader = "x-webhook-secret"

// eventReconciler is the reconciliation surface the webhook endpoint needs.
type eventReconciler interface {
	ApplyDeliveryStatus(ctx context.Context, event domain.DeliveryStatusEvent) error
	ApplyReply(ctx context.Context, event domain.ReplyEvent) error
}

type WebhookHandler struct {
	reconciler eventReconciler
	secret     string
}

func NewWebhookHandler(reconciler eventReconciler, secret string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secret: secret}
}

// GatewayEventRequest is the gateway's webhook envelope. Unknown event
// names are acknowledged and ignored so gateway updates never pile up
// retries against us.
type GatewayEventRequest struct {
	Event string `json:"event"`

	MessageAck *domain.DeliveryStatusEvent `json:"messageAck,omitempty"`
	Reply      *domain.ReplyEvent          `json:"reply,omitempty"`
}

// HandleGatewayEvent godoc
// @Summary Receive a gateway event
// @Description Ingests message_ack and button_reply events from the chat gateway
// @Tags webhooks
// @Accept json
// @Produce json
// @Param x-webhook-secret header string true "Shared webhook secret"
// @Param event body GatewayEventRequest true "Gateway event envelope"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /webhooks/gateway [post]
func (h *WebhookHandler) HandleGatewayEvent(c echo.Context) error {
	if h.secret != "" {
		provided := c.Request().Header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			return response.Unauthorized(c)
		}
	}

	var req GatewayEventRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	ctx := c.Request().Context()

	// Only storage failures produce a non-2xx, making the gateway retry.
	// Malformed or unmatched events are dropped inside the reconciler.
	switch req.Event {
	case "message_ack":
		if req.MessageAck == nil {
			return response.BadRequestWithMessage(c, "message_ack event without payload")
		}
		if err := h.reconciler.ApplyDeliveryStatus(ctx, *req.MessageAck); err != nil {
			return response.InternalServerError(c, err)
		}

	case "button_reply":
		if req.Reply == nil {
			return response.BadRequestWithMessage(c, "button_reply event without payload")
		}
		if err := h.reconciler.ApplyReply(ctx, *req.Reply); err != nil {
			return response.InternalServerError(c, err)
		}

	default:
		logger.Debugf("Ignoring gateway event %q", req.Event)
	}

	return response.Ok(c, nil)
}
