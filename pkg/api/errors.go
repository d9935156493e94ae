package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vexa-ai/vexa/pkg/bots"
	"github.com/vexa-ai/vexa/pkg/services"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// abortWithError maps a service-layer error to an HTTP error response and
// aborts the request.
func abortWithError(c *gin.Context, err error) {
	status, detail := mapServiceError(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}

// mapServiceError maps service-layer errors to an HTTP status and detail
// message.
func mapServiceError(err error) (int, string) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error()
	}
	switch {
	case errors.Is(err, bots.ErrNoActiveMeeting):
		return http.StatusNotFound, "no active meeting found for this platform and meeting id"
	case errors.Is(err, bots.ErrUnknownSession):
		return http.StatusNotFound, "unknown connection id"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "resource not found"
	case errors.Is(err, bots.ErrDuplicateBot):
		// The conflicting meeting id comes from the manager.
		return http.StatusConflict, err.Error()
	case errors.Is(err, bots.ErrMissingContainer):
		return http.StatusConflict, "meeting has no bot container to stop"
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict, "resource already exists"
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict, "meeting is not in a state that allows this operation"
	case errors.Is(err, bots.ErrBotLimit):
		// The manager quantifies the limit in the message.
		return http.StatusForbidden, err.Error()
	case errors.Is(err, bots.ErrBusUnavailable):
		return http.StatusServiceUnavailable, "message bus unavailable"
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}
