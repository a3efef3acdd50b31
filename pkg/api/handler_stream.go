package api

import (
	echo "github.com/labstack/echo/v5"
)

// streamHandler handles GET /api/stream, handing the connection straight to
// the Stream Gateway (spec §4.5) for the lifetime of the request.
func (s *Server) streamHandler(c *echo.Context) error {
	s.gateway.ServeHTTP(c.Response(), c.Request())
	return nil
}
