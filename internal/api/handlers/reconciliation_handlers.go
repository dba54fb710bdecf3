package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/payment_listener/internal/domain/services/reconciliation"
	"github.com/rail-service/payment_listener/pkg/logger"
)

// CycleTrigger runs a reconciliation cycle on demand
type CycleTrigger interface {
	RunOnce(ctx context.Context) (*reconciliation.CycleResult, error)
}

// ReconciliationHandlers exposes the operator trigger
type ReconciliationHandlers struct {
	trigger CycleTrigger
	logger  *logger.Logger
}

func NewReconciliationHandlers(trigger CycleTrigger, logger *logger.Logger) *ReconciliationHandlers {
	return &ReconciliationHandlers{trigger: trigger, logger: logger}
}

// RunCycle handles POST /api/v1/reconciliation/run. The cycle is detached from
// the request so a disconnecting client cannot cancel writes midway.
func (h *ReconciliationHandlers) RunCycle(c *gin.Context) {
	result, err := h.trigger.RunOnce(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, reconciliation.ErrCycleInProgress):
		respondError(c, http.StatusConflict, ErrCodeCycleInProgress, err.Error(), nil)
		return
	case err != nil:
		h.logger.Error("Manual reconciliation cycle failed",
			"request_id", c.GetString("request_id"),
			"error", err)
		if result == nil {
			respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "reconciliation cycle failed", nil)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"result": result, "error": err.Error()})
		return
	}

	h.logger.Info("Manual reconciliation cycle finished", "request_id", c.GetString("request_id"))
	c.JSON(http.StatusOK, gin.H{"result": result})
}
