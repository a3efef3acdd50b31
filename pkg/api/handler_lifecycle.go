package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/lifecycle"
)

// heartbeatHandler handles POST /api/agents/{id}/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	if err := s.lifecycle.RefreshHeartbeat(c.Request().Context(), c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// blockHandler handles POST /api/agents/{id}/block.
func (s *Server) blockHandler(c *echo.Context) error {
	var req BlockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}
	if req.TaskID == "" {
		return mapError(apperr.NewValidation("taskId", "required"))
	}
	if req.Source == "" {
		return mapError(apperr.NewValidation("source", "required"))
	}

	err := s.lifecycle.DetectBlocked(c.Request().Context(), c.Param("id"), lifecycle.BlockParams{
		Source: req.Source,
		Reason: req.Reason,
		TaskID: req.TaskID,
	})
	if err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// recordErrorHandler handles POST /api/agents/{id}/error.
func (s *Server) recordErrorHandler(c *echo.Context) error {
	var req TaskIDRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}
	if req.TaskID == "" {
		return mapError(apperr.NewValidation("taskId", "required"))
	}

	triggered, err := s.lifecycle.RecordError(c.Request().Context(), c.Param("id"), req.TaskID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &RecordErrorResponse{Triggered: triggered})
}

// completeTaskHandler handles POST /api/agents/{id}/complete.
func (s *Server) completeTaskHandler(c *echo.Context) error {
	var req TaskIDRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}
	if req.TaskID == "" {
		return mapError(apperr.NewValidation("taskId", "required"))
	}

	if err := s.lifecycle.CompleteTask(c.Request().Context(), c.Param("id"), req.TaskID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// actionHandler handles POST /api/agents/{id}/actions.
func (s *Server) actionHandler(c *echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}

	agentID := c.Param("id")
	ctx := c.Request().Context()

	var err error
	switch req.Action {
	case "sleep":
		err = s.lifecycle.TriggerSleep(ctx, agentID, "manual")
	case "stop":
		err = s.lifecycle.Stop(ctx, agentID)
	case "unblock":
		err = s.lifecycle.Unblock(ctx, agentID)
	case "restart":
		err = s.lifecycle.Restart(ctx, agentID)
	default:
		return mapError(apperr.NewValidation("action", "must be one of sleep, stop, unblock, restart"))
	}
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &ActionResponse{Status: "ok"})
}
