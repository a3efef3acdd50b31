package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// getSleepScheduleHandler handles GET /api/settings/sleep-schedule.
func (s *Server) getSleepScheduleHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, toSleepScheduleResponse(s.lifecycle.Current()))
}

// putSleepScheduleHandler handles PUT /api/settings/sleep-schedule.
func (s *Server) putSleepScheduleHandler(c *echo.Context) error {
	var req SleepScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}

	if req.StartHour < 0 || req.StartHour > 23 || req.EndHour < 0 || req.EndHour > 24 {
		return mapError(apperr.NewValidation("start_hour/end_hour", "start_hour must be in [0,23], end_hour in [0,24]"))
	}

	schedule := models.SleepSchedule{
		StartHour: req.StartHour,
		EndHour:   req.EndHour,
		Timezone:  req.Timezone,
		Enabled:   req.Enabled,
	}
	if err := s.lifecycle.Configure(schedule); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toSleepScheduleResponse(s.lifecycle.Current()))
}
