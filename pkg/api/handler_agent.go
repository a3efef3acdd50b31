package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// registerAgentHandler handles POST /api/agents.
func (s *Server) registerAgentHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}

	// 2. Validate required fields
	if req.ID == "" {
		return mapError(apperr.NewValidation("id", "required"))
	}
	if req.Name == "" {
		return mapError(apperr.NewValidation("name", "required"))
	}
	agentType := models.AgentType(req.Type)
	if agentType != models.AgentTypePrimary && agentType != models.AgentTypeSubAgent {
		return mapError(apperr.NewValidation("type", "must be primary or sub-agent"))
	}

	// 3. Transform to domain input
	agent := &models.Agent{
		ID:            req.ID,
		Name:          req.Name,
		Type:          agentType,
		ParentAgentID: req.ParentAgentID,
		SoulMD:        req.SoulMD,
		Skills:        req.Skills,
		Config:        req.Config,
	}

	// 4. Call service
	if err := s.lifecycle.Register(c.Request().Context(), agent); err != nil {
		return mapError(err)
	}

	registered, err := s.store.Agents.Get(c.Request().Context(), agent.ID)
	if err != nil {
		return mapError(err)
	}

	// 5. Return response
	return c.JSON(http.StatusCreated, toAgentResponse(registered))
}

// listAgentsHandler handles GET /api/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	var filter models.AgentFilter
	if v := c.QueryParam("status"); v != "" {
		status := models.AgentStatus(v)
		filter.Status = &status
	}
	if v := c.QueryParam("type"); v != "" {
		t := models.AgentType(v)
		filter.Type = &t
	}
	if v := c.QueryParam("parent_agent_id"); v != "" {
		filter.ParentAgentID = &v
	}

	agents, err := s.store.Agents.List(c.Request().Context(), filter)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toAgentResponses(agents))
}

// getAgentHandler handles GET /api/agents/{id}.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agent, err := s.store.Agents.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toAgentResponse(agent))
}

// updateAgentHandler handles PATCH /api/agents/{id}. Only the fields
// present in the request body are applied.
func (s *Server) updateAgentHandler(c *echo.Context) error {
	var req UpdateAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid_json"})
	}

	agent, err := s.store.Agents.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.SoulMD != nil {
		agent.SoulMD = *req.SoulMD
	}
	if req.Skills != nil {
		agent.Skills = req.Skills
	}
	if req.Config != nil {
		agent.Config = req.Config
	}

	if err := s.store.Agents.Update(c.Request().Context(), agent); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toAgentResponse(agent))
}

// deleteAgentHandler handles DELETE /api/agents/{id}.
func (s *Server) deleteAgentHandler(c *echo.Context) error {
	if err := s.store.Agents.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listAgentTasksHandler handles GET /api/agents/{id}/tasks. **[SUPPLEMENT]**
func (s *Server) listAgentTasksHandler(c *echo.Context) error {
	tasks, err := s.store.AgentTasks.ListByAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toTaskResponses(tasks))
}
