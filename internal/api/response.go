package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/permd/internal/service"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error sends a JSON error response.
func Error(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// errorJSON is an alias for Error (used by some handlers).
var errorJSON = Error

// successJSON sends a JSON success response with a data envelope.
func successJSON(c echo.Context, status int, data any) error {
	return c.JSON(status, map[string]any{"data": data})
}

// mapServiceError translates service errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var se *service.ServiceError
	if !errors.As(err, &se) {
		slog.Error("unhandled service error", "path", c.Path(), "error", err)
		return errorJSON(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}

	switch {
	case errors.Is(se, service.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, se.Code, se.Message)
	case errors.Is(se, service.ErrForbidden), errors.Is(se, service.ErrRoleHierarchy):
		return errorJSON(c, http.StatusForbidden, se.Code, se.Message)
	case errors.Is(se, service.ErrBadRequest):
		return errorJSON(c, http.StatusBadRequest, se.Code, se.Message)
	case errors.Is(se, service.ErrUnavailable):
		return errorJSON(c, http.StatusServiceUnavailable, se.Code, se.Message)
	default:
		return errorJSON(c, http.StatusInternalServerError, se.Code, se.Message)
	}
}
