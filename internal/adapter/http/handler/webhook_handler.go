package handler

import (
	"strconv"

	"sbtc-gateway/internal/adapter/http/dto"
	"sbtc-gateway/internal/adapter/http/middleware"
	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/pkg/apperror"
	"sbtc-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// WebhookHandler handles webhook endpoint management and the delivery
// audit listing.
type WebhookHandler struct {
	endpointSvc ports.EndpointService
	eventRepo   ports.WebhookEventRepository
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(endpointSvc ports.EndpointService, eventRepo ports.WebhookEventRepository) *WebhookHandler {
	return &WebhookHandler{endpointSvc: endpointSvc, eventRepo: eventRepo}
}

// CreateEndpoint handles POST /api/v1/webhook-endpoints.
func (h *WebhookHandler) CreateEndpoint(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	endpoint, secret, err := h.endpointSvc.Create(c.Request.Context(), merchantID.(uuid.UUID), req.URL, req.EventTypes())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.CreatedEndpointResponse{
		EndpointResponse: dto.NewEndpointResponse(endpoint),
		Secret:           secret,
	})
}

// ListEndpoints handles GET /api/v1/webhook-endpoints.
func (h *WebhookHandler) ListEndpoints(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	endpoints, err := h.endpointSvc.List(c.Request.Context(), merchantID.(uuid.UUID))
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.EndpointResponse, len(endpoints))
	for i := range endpoints {
		out[i] = dto.NewEndpointResponse(&endpoints[i])
	}
	response.OK(c, out)
}

// DeactivateEndpoint handles POST /api/v1/webhook-endpoints/:id/deactivate.
func (h *WebhookHandler) DeactivateEndpoint(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	endpointID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid endpoint id"))
		return
	}

	if err := h.endpointSvc.Deactivate(c.Request.Context(), merchantID.(uuid.UUID), endpointID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"id": endpointID.String(), "active": false})
}

// SendTestEvent handles POST /api/v1/webhook-endpoints/:id/test.
func (h *WebhookHandler) SendTestEvent(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	endpointID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid endpoint id"))
		return
	}

	if err := h.endpointSvc.SendTest(c.Request.Context(), merchantID.(uuid.UUID), endpointID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"id": endpointID.String(), "test_event": "queued"})
}

// ListEvents handles GET /api/v1/webhook-events.
func (h *WebhookHandler) ListEvents(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(c, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	events, total, err := h.eventRepo.ListByMerchant(c.Request.Context(), merchantID.(uuid.UUID), page, pageSize)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}

	out := make([]dto.WebhookEventResponse, len(events))
	for i := range events {
		out[i] = dto.NewWebhookEventResponse(&events[i])
	}
	response.OK(c, dto.WebhookEventListResponse{
		Events:   out,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
