package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// listMessagesHandler handles GET /api/messages. **[SUPPLEMENT]** paginated
// notification history, filterable by `read` and `project_id`.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	filter := models.MessageFilter{Limit: 50}
	if v := c.QueryParam("read"); v != "" {
		read := v == "true"
		filter.Read = &read
	}
	if v := c.QueryParam("project_id"); v != "" {
		filter.ProjectID = &v
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}

	messages, err := s.store.Messages.List(c.Request().Context(), filter)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toMessageResponses(messages))
}

// markMessageReadHandler handles PATCH /api/messages/{id}/read. **[SUPPLEMENT]**
func (s *Server) markMessageReadHandler(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_id"})
	}
	if err := s.store.Messages.MarkRead(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
