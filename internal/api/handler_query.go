package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/splunk-chatops/dispatcher/internal/adapters"
	"github.com/splunk-chatops/dispatcher/internal/models"
)

// ExecuteQueryRequest is the body for POST /query.
type ExecuteQueryRequest struct {
	Query    string `json:"query"`
	Earliest string `json:"earliest,omitempty"`
	Latest   string `json:"latest,omitempty"`
	Language string `json:"language,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// executeQueryHandler runs an analytics query synchronously: submit,
// poll, classify visualization, upsert the fingerprint-addressed cache
// row, and return formatted rows plus visualization metadata and the
// cached-result id. A partial backend failure still returns the rows the
// last successful poll observed, flagged as a preview.
func (s *Server) executeQueryHandler(c *echo.Context) error {
	var req ExecuteQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	tz := time.UTC
	if req.Timezone != "" {
		if loc, err := time.LoadLocation(req.Timezone); err == nil {
			tz = loc
		}
	}

	result, err := s.engine.ExecuteAnalytics(c.Request().Context(), requestUser(c), adapters.AnalyticsQuery{
		Query:    req.Query,
		Earliest: req.Earliest,
		Latest:   req.Latest,
	}, tz)
	if err != nil && !models.IsPartial(err) {
		return mapServiceError(err)
	}
	if models.IsPartial(err) {
		result.Preview = true
	}

	return c.JSON(http.StatusOK, result)
}
