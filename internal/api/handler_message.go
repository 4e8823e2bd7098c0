package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/splunk-chatops/dispatcher/internal/bus"
	"github.com/splunk-chatops/dispatcher/internal/metrics"
	"github.com/splunk-chatops/dispatcher/internal/models"
)

// CreateMessageRequest is the body for POST /conversations/:id/messages.
type CreateMessageRequest struct {
	Content  string         `json:"content"`
	Role     string         `json:"role"`
	Blocks   []models.Block `json:"blocks,omitempty"`
	Timezone string         `json:"timezone,omitempty"`
}

// CreateMessageResponse returns the stored message and, for user
// messages, the id of the job spawned to answer it.
type CreateMessageResponse struct {
	Message *models.Message `json:"message"`
	JobID   string          `json:"job_id,omitempty"`
}

// createMessageHandler stores a message in a conversation. A user message
// always creates an assistant_response job and returns its id; the
// message itself is not broadcast (the caller already has it). Assistant
// messages posted directly are broadcast as message.new.
func (s *Server) createMessageHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if len(req.Content) > maxMessageContentLength {
		return echo.NewHTTPError(http.StatusBadRequest, "content exceeds maximum length")
	}
	role := models.MessageRole(req.Role)
	if role != models.RoleUser && role != models.RoleAssistant {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be user or assistant")
	}

	ctx := c.Request().Context()
	if _, err := s.store.Conversations().Get(ctx, conversationID); err != nil {
		return mapServiceError(err)
	}

	msg, err := s.store.Messages().Create(ctx, &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        req.Content,
		Blocks:         req.Blocks,
	})
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.store.Conversations().Touch(ctx, conversationID); err != nil {
		return mapServiceError(err)
	}

	if role == models.RoleAssistant {
		s.publish(models.EventMessageNew, models.MessageNewPayload{Message: *msg})
		return c.JSON(http.StatusCreated, CreateMessageResponse{Message: msg})
	}

	job, err := s.store.Jobs().Create(ctx, models.JobTypeAssistantResponse, map[string]any{
		"content":    req.Content,
		"message_id": msg.ID,
		"user_id":    requestUser(c),
		"timezone":   req.Timezone,
	}, conversationID)
	if err != nil {
		return mapServiceError(err)
	}
	metrics.JobsCreatedTotal.WithLabelValues(string(job.Type)).Inc()

	if err := s.sched.Spawn(ctx, job.ID, func(taskCtx context.Context) error {
		return s.engine.Run(taskCtx, job.ID)
	}); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, CreateMessageResponse{Message: msg, JobID: job.ID})
}

func (s *Server) publish(eventType models.EventType, data any) {
	metrics.EventsPublishedTotal.WithLabelValues(bus.TopicEvents).Inc()
	s.bus.Publish(bus.TopicEvents, models.Envelope{Type: eventType, Data: data})
}
