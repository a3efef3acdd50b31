package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
)

// mapError translates an apperr sentinel (or wrapped error) into the HTTP
// status contract of spec §6/§7, mirroring tarsy's mapServiceError.
func mapError(err error) *echo.HTTPError {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "validation_error", Details: ve.Error()})
	}
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, &ErrorResponse{Error: "not_found", Details: err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, &ErrorResponse{Error: "conflict", Details: err.Error()})
	case errors.Is(err, apperr.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, &ErrorResponse{Error: "unauthorized", Details: err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, &ErrorResponse{Error: "forbidden", Details: err.Error()})
	case errors.Is(err, apperr.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, &ErrorResponse{Error: "rate_limited", Details: err.Error()})
	case errors.Is(err, apperr.ErrTransient):
		return echo.NewHTTPError(http.StatusInternalServerError, &ErrorResponse{Error: "transient_error", Details: err.Error()})
	}
	slog.Error("unexpected internal error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, &ErrorResponse{Error: "internal_error"})
}
