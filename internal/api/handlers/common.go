package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
)

var errUnsupportedNetwork = errors.New("unsupported network")

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if reqID, exists := c.Get("request_id"); exists {
		if id, ok := reqID.(string); ok {
			return id
		}
	}
	return ""
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondBadRequest sends a bad request error
func respondBadRequest(c *gin.Context, message string, details ...map[string]interface{}) {
	var det map[string]interface{}
	if len(details) > 0 {
		det = details[0]
	}
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", message, det)
}

// respondInternalError sends an internal server error
func respondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

// respondDomainError maps a domain error to the appropriate HTTP status
func respondDomainError(c *gin.Context, err error) {
	var derr *domainerrors.DomainError
	if !errors.As(err, &derr) {
		respondInternalError(c, "unexpected error")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case domainerrors.IsInvalidInput(err), domainerrors.IsInvalidAddress(err):
		status = http.StatusBadRequest
	case domainerrors.IsNotFound(err):
		status = http.StatusNotFound
	case domainerrors.IsInsufficientPoolLiquidity(err):
		status = http.StatusUnprocessableEntity
	case domainerrors.IsChainUnavailable(err), derr.Code == "SERVICE_UNAVAILABLE":
		status = http.StatusServiceUnavailable
	case domainerrors.IsWithdrawalFailed(err):
		status = http.StatusBadGateway
	}

	respondError(c, status, derr.Code, derr.Message, derr.Details)
}
