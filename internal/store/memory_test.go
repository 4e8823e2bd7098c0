package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

func TestJobLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().Jobs()

	job, err := s.Create(ctx, models.JobTypeAssistantResponse, map[string]any{"x": 1}, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	job, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusStarted})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStarted, job.Status)

	progress := 50
	job, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusProgress, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress)

	job, err = s.Transition(ctx, job.ID, models.JobTransition{
		Status: models.JobStatusCompleted,
		Result: map[string]any{"ok": true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.Result)
}

func TestJobRejectsBackEdge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().Jobs()

	job, err := s.Create(ctx, models.JobTypeAssistantResponse, nil, "")
	require.NoError(t, err)

	_, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusStarted})
	require.NoError(t, err)

	_, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusQueued})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestJobRejectsDecreasingProgress(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().Jobs()

	job, err := s.Create(ctx, models.JobTypeAssistantResponse, nil, "")
	require.NoError(t, err)
	_, _ = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusStarted})

	hi, lo := 80, 10
	_, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusProgress, Progress: &hi})
	require.NoError(t, err)

	_, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusProgress, Progress: &lo})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestJobTerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().Jobs()

	job, err := s.Create(ctx, models.JobTypeAssistantResponse, nil, "")
	require.NoError(t, err)
	_, _ = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusStarted})
	_, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusFailed, Error: "boom"})
	require.NoError(t, err)

	_, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusProgress})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestJobFailedRequiresError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().Jobs()

	job, err := s.Create(ctx, models.JobTypeAssistantResponse, nil, "")
	require.NoError(t, err)
	_, _ = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusStarted})

	_, err = s.Transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusFailed})
	require.Error(t, err)
}

func TestCachedQueryResultUpsertDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().CachedQueryResults()

	fp := Fingerprint("stats count by status", "-1h", "now")
	first, err := s.Upsert(ctx, "user-1", fp, "stats count by status", "-1h", "now", models.AnalyticsResult{RowCount: 3})
	require.NoError(t, err)

	second, err := s.Upsert(ctx, "user-1", fp, "stats count by status", "-1h", "now", models.AnalyticsResult{RowCount: 7})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 7, second.Result.RowCount)
}

func TestConversationDeleteCascadesMessagesNotJobs(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	conv, err := ms.Conversations().Create(ctx, "t")
	require.NoError(t, err)

	msg, err := ms.Messages().Create(ctx, &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)

	job, err := ms.Jobs().Create(ctx, models.JobTypeAssistantResponse, nil, conv.ID)
	require.NoError(t, err)

	require.NoError(t, ms.Conversations().Delete(ctx, conv.ID))

	_, err = ms.Messages().Get(ctx, msg.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = ms.Jobs().Get(ctx, job.ID)
	assert.NoError(t, err)
}
