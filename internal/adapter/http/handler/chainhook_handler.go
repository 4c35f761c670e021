package handler

import (
	"sbtc-gateway/internal/adapter/http/dto"
	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/pkg/apperror"
	"sbtc-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// ChainhookHandler receives chainhook block notifications.
type ChainhookHandler struct {
	ingestSvc ports.IngestService
}

// NewChainhookHandler creates a new ChainhookHandler.
func NewChainhookHandler(ingestSvc ports.IngestService) *ChainhookHandler {
	return &ChainhookHandler{ingestSvc: ingestSvc}
}

// ProcessBatch handles POST /api/v1/chainhook. Always acknowledges
// structurally valid batches with 200; per-transaction failures are
// absorbed into the summary so the chainhook node never re-sends a
// batch because of one bad transaction.
func (h *ChainhookHandler) ProcessBatch(c *gin.Context) {
	var payload dto.ChainhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, apperror.ErrMalformedBatch(err))
		return
	}
	if err := payload.Validate(); err != nil {
		response.Error(c, err)
		return
	}

	summary, err := h.ingestSvc.ProcessBatch(c.Request.Context(), payload.ToDomain())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, summary)
}
