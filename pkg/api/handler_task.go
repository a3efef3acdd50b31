package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// createTaskHandler handles POST /api/agents/{id}/tasks and
// POST /api/agents/{id}/assign — both run assignTask (spec §4.6.3).
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}
	if req.TaskID == "" {
		return mapError(apperr.NewValidation("taskId", "required"))
	}
	if req.Title == "" {
		return mapError(apperr.NewValidation("title", "required"))
	}

	priority := models.PriorityMedium
	if req.Priority != "" {
		priority = models.Priority(req.Priority)
	}

	task, err := s.lifecycle.AssignTask(c.Request().Context(), c.Param("id"), req.TaskID, req.Title, priority, req.LinearIssueID, req.ProjectID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, toTaskResponse(task))
}

// assignTaskHandler handles POST /api/agents/{id}/assign (spec §6).
func (s *Server) assignTaskHandler(c *echo.Context) error {
	return s.createTaskHandler(c)
}

// updateTaskHandler handles PATCH /api/agents/{id}/tasks/{taskId}. Only the
// "in_progress" and "completed" transitions and a bare title edit are
// supported here — "blocked" goes through POST .../block (it needs a
// source/reason the generic PATCH body doesn't carry) and there is no safe
// path to cancel a task with a live idle monitor outside the Lifecycle
// Manager's own lock.
func (s *Server) updateTaskHandler(c *echo.Context) error {
	var req UpdateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}

	agentID, taskID := c.Param("id"), c.Param("taskId")

	if req.Status != nil {
		switch models.TaskStatus(*req.Status) {
		case models.TaskStatusInProgress:
			if err := s.lifecycle.StartTask(c.Request().Context(), agentID, taskID); err != nil {
				return mapError(err)
			}
		case models.TaskStatusCompleted:
			if err := s.lifecycle.CompleteTask(c.Request().Context(), agentID, taskID); err != nil {
				return mapError(err)
			}
		default:
			return mapError(apperr.NewValidation("status", "only \"in_progress\" and \"completed\" are accepted here; use /block or /actions for other transitions"))
		}
	}

	task, err := s.store.AgentTasks.Get(c.Request().Context(), taskID)
	if err != nil {
		return mapError(err)
	}
	if req.Title != nil {
		task.Title = *req.Title
		if err := s.store.AgentTasks.Update(c.Request().Context(), task); err != nil {
			return mapError(err)
		}
	}
	return c.JSON(http.StatusOK, toTaskResponse(task))
}
