package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getJobHandler returns the full Job record for GET /jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}
	job, err := s.store.Jobs().Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}
