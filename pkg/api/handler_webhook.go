package api

import (
	"errors"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/webhook"
)

// linearWebhookHandler handles POST /api/linear/webhook (spec §4.7/§6). The
// signature check happens inside Ingest.Handle against the raw body, so the
// body must be read unmodified before any JSON decoding.
func (s *Server) linearWebhookHandler(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_body"})
	}

	if err := s.ingest.Handle(c.Request().Context(), body, c.Request().Header.Get("linear-signature")); err != nil {
		if errors.Is(err, webhook.ErrBadSignature) {
			// Spec §7: signature failure is a hard 401 with no leaked detail.
			return echo.NewHTTPError(http.StatusUnauthorized, &ErrorResponse{Error: "unauthorized"})
		}
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
