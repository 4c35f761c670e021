package handler

import (
	"net/http"

	"sbtc-gateway/internal/adapter/http/dto"
	"sbtc-gateway/internal/adapter/http/middleware"
	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/pkg/apperror"
	"sbtc-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler exposes the read-only payment intent view for the
// dashboard.
type PaymentHandler struct {
	intentRepo ports.PaymentIntentRepository
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(intentRepo ports.PaymentIntentRepository) *PaymentHandler {
	return &PaymentHandler{intentRepo: intentRepo}
}

// GetIntent handles GET /api/v1/payment-intents/:id.
func (h *PaymentHandler) GetIntent(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	intent, err := h.intentRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}
	// A foreign merchant's intent is indistinguishable from a missing one.
	if intent == nil || intent.MerchantID != merchantID.(uuid.UUID) {
		response.Error(c, apperror.ErrNotFound("payment intent"))
		return
	}

	response.OK(c, dto.NewPaymentIntentResponse(intent))
}

// HealthCheck handles GET /health — deep health check verifying all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
