package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/internal/service"
	"github.com/zapgate/campaign-service/pkg/logger"
	"github.com/zapgate/campaign-service/pkg/response"
	"github.com/zapgate/campaign-service/pkg/validator"
)

// campaignDispatcher abstracts over inline and queued execution; either way
// the handler only triggers a dispatch and returns immediately.
type campaignDispatcher interface {
	RunCampaignByID(ctx context.Context, id int64) error
}

type CampaignHandler struct {
	service    *service.CampaignService
	dispatcher campaignDispatcher
	baseCtx    context.Context
}

func NewCampaignHandler(svc *service.CampaignService, dispatcher campaignDispatcher, baseCtx context.Context) *CampaignHandler {
	return &CampaignHandler{
		service:    svc,
		dispatcher: dispatcher,
		baseCtx:    baseCtx,
	}
}

type MediaRequest struct {
	Type    string `json:"type" validate:"required,oneof=image video audio document"`
	URL     string `json:"url" validate:"required,url"`
	Caption string `json:"caption,omitempty" validate:"max=1024"`
}

type ButtonRequest struct {
	ID    string `json:"id" validate:"required,max=100"`
	Label string `json:"label" validate:"required,max=60"`
}

type CreateCampaignRequest struct {
	Name              string          `json:"name" validate:"required,max=191"`
	MessageText       string          `json:"messageText" validate:"max=4096,template"`
	Media             *MediaRequest   `json:"media,omitempty"`
	Buttons           []ButtonRequest `json:"buttons,omitempty" validate:"max=2,dive"`
	Recipients        []string        `json:"recipients" validate:"required,min=1,max=10000,dive,e164"`
	InstanceIDs       []int64         `json:"instanceIds,omitempty"`
	IntervalMin       int             `json:"intervalMin" validate:"min=0,max=3600"`
	IntervalMax       int             `json:"intervalMax" validate:"min=0,max=3600"`
	UseNumberRotation bool            `json:"useNumberRotation"`
	StartTime         *time.Time      `json:"startTime,omitempty"`
}

// CreateCampaign godoc
// @Summary Create a campaign
// @Description Creates a draft campaign with its recipient list and instance bindings
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param campaign body CreateCampaignRequest true "Campaign to create"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c echo.Context) error {
	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	input := service.CreateCampaignInput{
		Name:              req.Name,
		MessageText:       req.MessageText,
		Recipients:        req.Recipients,
		InstanceIDs:       req.InstanceIDs,
		IntervalMin:       req.IntervalMin,
		IntervalMax:       req.IntervalMax,
		UseNumberRotation: req.UseNumberRotation,
		StartTime:         req.StartTime,
	}
	if req.Media != nil {
		input.Media = &domain.MediaAttachment{
			Type:    req.Media.Type,
			URL:     req.Media.URL,
			Caption: req.Media.Caption,
		}
	}
	for _, b := range req.Buttons {
		input.Buttons = append(input.Buttons, domain.Button{ID: b.ID, Label: b.Label})
	}

	campaign, err := h.service.CreateCampaign(c.Request().Context(), input)
	if err != nil {
		if errors.Is(err, domain.ErrNoContent) {
			return response.BadRequestWithMessage(c, "campaign needs message text, media or buttons")
		}
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Campaign created successfully", campaign)
}

// ListCampaigns godoc
// @Summary List campaigns
// @Description Retrieves a paginated list of campaigns with optional status filter
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (draft, pending, running, paused, completed, cancelled)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) ListCampaigns(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var status *domain.CampaignStatus
	if statusStr := c.QueryParam("status"); statusStr != "" {
		parsed := domain.CampaignStatus(statusStr)
		status = &parsed
	}

	campaigns, totalCount, err := h.service.ListCampaigns(c.Request().Context(), status, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, campaigns, page, pageSize, totalCount)
}

// GetCampaign godoc
// @Summary Get a campaign with its delivery breakdown
// @Description Returns the campaign, its counters and the per-status recipient counts
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	stats, err := h.service.GetCampaign(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return response.NotFound(c, "Campaign not found")
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, stats)
}

// StartCampaign godoc
// @Summary Start a campaign
// @Description Marks a draft or paused campaign runnable for the scheduler
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/start [post]
func (h *CampaignHandler) StartCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	campaign, err := h.service.StartCampaign(c.Request().Context(), id)
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign queued for dispatch", campaign)
}

// DispatchCampaign godoc
// @Summary Dispatch a campaign immediately
// @Description Starts the campaign and triggers a dispatch without waiting for the scheduler tick
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Campaign ID"
// @Success 202 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/dispatch [post]
func (h *CampaignHandler) DispatchCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	campaign, err := h.service.StartCampaign(c.Request().Context(), id)
	if err != nil {
		// Already pending or running: dispatching it again is fine.
		campaign = nil
	}

	// Dispatch outlives the HTTP request; tie it to the server lifetime.
	go func() {
		if err := h.dispatcher.RunCampaignByID(h.baseCtx, id); err != nil {
			logger.Errorf("Manual dispatch of campaign %d failed: %v", id, err)
		}
	}()

	return response.Accepted(c, "Campaign dispatch triggered", campaign)
}

// PauseCampaign godoc
// @Summary Pause a campaign
// @Description Stops further dispatching; queued recipients return to pending
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/pause [post]
func (h *CampaignHandler) PauseCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	campaign, err := h.service.PauseCampaign(c.Request().Context(), id)
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign paused", campaign)
}

// CancelCampaign godoc
// @Summary Cancel a campaign
// @Description Terminally stops the campaign; delivery receipts for sent messages keep reconciling
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/cancel [post]
func (h *CampaignHandler) CancelCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	campaign, err := h.service.CancelCampaign(c.Request().Context(), id)
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign cancelled", campaign)
}

// GetCampaignLogs godoc
// @Summary Get campaign sending logs
// @Description Retrieves the paginated audit trail of a campaign
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Campaign ID"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/logs [get]
func (h *CampaignHandler) GetCampaignLogs(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	logs, totalCount, err := h.service.GetLogs(c.Request().Context(), id, page, pageSize)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return response.NotFound(c, "Campaign not found")
		}
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, logs, page, pageSize, totalCount)
}

func parseIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
