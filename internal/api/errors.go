package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

// mapServiceError maps domain errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *models.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, models.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, models.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if errors.Is(err, models.ErrUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "dependency unavailable")
	}
	if errors.Is(err, models.ErrTimeout) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "deadline exceeded")
	}
	if errors.Is(err, models.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, models.ErrShuttingDown) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
