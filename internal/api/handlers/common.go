package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/rail-service/payment_listener/internal/domain/errors"
)

const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidID          = "INVALID_ID"
	ErrCodeInvalidAmount      = "INVALID_AMOUNT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeCycleInProgress    = "CYCLE_IN_PROGRESS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: c.GetString("request_id"),
	})
}

func respondBadRequest(c *gin.Context, code, message string) {
	respondError(c, http.StatusBadRequest, code, message, nil)
}

// respondDomainError maps categorised domain errors onto HTTP statuses
func respondDomainError(c *gin.Context, err error) {
	var de *domainerrors.DomainError
	code := ""
	var details map[string]interface{}
	if errors.As(err, &de) {
		code = de.Code
		details = de.Details
	}
	orDefault := func(fallback string) string {
		if code != "" {
			return code
		}
		return fallback
	}

	switch {
	case errors.Is(err, domainerrors.ErrUnknownTier):
		respondError(c, http.StatusBadRequest, ErrCodeInvalidAmount, err.Error(), details)
	case domainerrors.IsInvalidInput(err):
		respondError(c, http.StatusBadRequest, orDefault(ErrCodeInvalidRequest), err.Error(), details)
	case domainerrors.IsNotFound(err):
		respondError(c, http.StatusNotFound, orDefault(ErrCodeNotFound), err.Error(), details)
	case domainerrors.IsConflict(err):
		respondError(c, http.StatusConflict, ErrCodeConflict, err.Error(), details)
	case errors.Is(err, domainerrors.ErrServiceUnavailable):
		respondError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error(), nil)
	default:
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error", nil)
	}
}
