package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// CreateConversationRequest is the body for POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) createConversationHandler(c *echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conv, err := s.store.Conversations().Create(c.Request().Context(), req.Title)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) listMessagesHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	if _, err := s.store.Conversations().Get(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	msgs, err := s.store.Messages().ListByConversation(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

// deleteConversationHandler removes a conversation and its messages. Jobs
// linked to the conversation survive and stay queryable by id.
func (s *Server) deleteConversationHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	if err := s.store.Conversations().Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
