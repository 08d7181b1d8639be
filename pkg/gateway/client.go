// Package gateway implements the outbound chat-gateway client. API-level
// failures come back as Success=false with a human-readable error; only
// transport and timeout conditions surface as Go errors.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/pkg/logger"
)

type Client struct {
	httpClient *resty.Client
	limiter    *rate.Limiter
}

func NewClient(cfg environments.GatewayConfig) *Client {
	// Retries belong to the dispatch layer; one call here is exactly one
	// HTTP request against the gateway.
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("apikey", cfg.APIKey)

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		// Process-wide cap across all instances, on top of per-recipient
		// campaign pacing.
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Client{
		httpClient: client,
		limiter:    limiter,
	}
}

type textRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type buttonsRequest struct {
	Number      string                  `json:"number"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Footer      string                  `json:"footer,omitempty"`
	Media       *domain.MediaAttachment `json:"media,omitempty"`
	Buttons     []buttonItem            `json:"buttons"`
}

type buttonItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// SendText dispatches a plain text message through the given instance.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*domain.SendResult, error) {
	return c.post(ctx, "/message/sendText/"+instance, textRequest{
		Number: number,
		Text:   text,
	})
}

// SendButtons dispatches an interactive buttons message through the given
// instance.
func (c *Client) SendButtons(ctx context.Context, instance, number string, payload *domain.ButtonsPayload) (*domain.SendResult, error) {
	req := buttonsRequest{
		Number:      number,
		Title:       payload.Title,
		Description: payload.Description,
		Footer:      payload.Footer,
		Media:       payload.Media,
		Buttons:     make([]buttonItem, 0, len(payload.Buttons)),
	}
	for _, b := range payload.Buttons {
		req.Buttons = append(req.Buttons, buttonItem{ID: b.ID, Label: b.Label})
	}

	return c.post(ctx, "/message/sendButtons/"+instance, req)
}

func (c *Client) post(ctx context.Context, path string, body any) (*domain.SendResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)

	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}

	logger.Debugf("Gateway request %s completed in %v (status: %d)", path, time.Since(startTime), resp.StatusCode())

	details := json.RawMessage(resp.Body())

	var parsed sendResponse
	if unmarshalErr := json.Unmarshal(resp.Body(), &parsed); unmarshalErr != nil {
		parsed = sendResponse{}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		reason := parsed.Error
		if reason == "" {
			reason = parsed.Message
		}
		if reason == "" {
			reason = fmt.Sprintf("gateway returned status %d", resp.StatusCode())
		}
		return &domain.SendResult{
			Success: false,
			Error:   reason,
			Details: details,
		}, nil
	}

	if parsed.Key.ID == "" {
		return &domain.SendResult{
			Success: false,
			Error:   "gateway accepted the request but returned no message id",
			Details: details,
		}, nil
	}

	return &domain.SendResult{
		Success:   true,
		MessageID: parsed.Key.ID,
		Details:   details,
	}, nil
}
