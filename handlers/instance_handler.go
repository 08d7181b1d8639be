package handlers

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/pkg/response"
	"github.com/zapgate/campaign-service/pkg/validator"
)

type instanceStore interface {
	Create(ctx context.Context, instance *domain.Instance) error
	GetByID(ctx context.Context, id int64) (*domain.Instance, error)
	UpdateStatus(ctx context.Context, id int64, status domain.InstanceStatus) error
	List(ctx context.Context, page, pageSize int) ([]domain.Instance, int64, error)
}

type InstanceHandler struct {
	instances instanceStore
}

func NewInstanceHandler(instances instanceStore) *InstanceHandler {
	return &InstanceHandler{instances: instances}
}

type CreateInstanceRequest struct {
	Name string `json:"name" validate:"required,max=191"`
}

type UpdateInstanceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=created connecting connected disconnected qrcode"`
}

// CreateInstance godoc
// @Summary Register a sending instance
// @Description Registers a gateway instance; it becomes eligible for campaigns once connected
// @Tags instances
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param instance body CreateInstanceRequest true "Instance to register"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/instances [post]
func (h *InstanceHandler) CreateInstance(c echo.Context) error {
	var req CreateInstanceRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	instance := &domain.Instance{
		Name:   req.Name,
		Status: domain.InstanceCreated,
	}
	if err := h.instances.Create(c.Request().Context(), instance); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Instance registered successfully", instance)
}

// ListInstances godoc
// @Summary List instances
// @Description Retrieves a paginated list of registered instances
// @Tags instances
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/instances [get]
func (h *InstanceHandler) ListInstances(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	instances, totalCount, err := h.instances.List(c.Request().Context(), page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, instances, page, pageSize, totalCount)
}

// GetInstance godoc
// @Summary Get an instance
// @Tags instances
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Instance ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/instances/{id} [get]
func (h *InstanceHandler) GetInstance(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	instance, err := h.instances.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return response.NotFound(c, "Instance not found")
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, instance)
}

// UpdateInstanceStatus godoc
// @Summary Update instance connection status
// @Description Records the gateway-reported connection state of an instance
// @Tags instances
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Instance ID"
// @Param status body UpdateInstanceStatusRequest true "New status"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/instances/{id}/status [patch]
func (h *InstanceHandler) UpdateInstanceStatus(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req UpdateInstanceStatusRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	if err := h.instances.UpdateStatus(c.Request().Context(), id, domain.InstanceStatus(req.Status)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return response.NotFound(c, "Instance not found")
		}
		return response.InternalServerError(c, err)
	}

	instance, err := h.instances.GetByID(c.Request().Context(), id)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Instance status updated", instance)
}
