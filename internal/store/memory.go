package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

// MemoryStore is an in-process implementation of Store backed by guarded
// maps. It satisfies the same invariants as PostgresStore and runs the
// whole system without a live database.
type MemoryStore struct {
	mu            sync.Mutex
	jobs          map[string]*models.Job
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	cachedResults map[string]*models.CachedQueryResult // key: userID + "\x00" + fingerprint
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:          make(map[string]*models.Job),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		cachedResults: make(map[string]*models.CachedQueryResult),
	}
}

func (m *MemoryStore) Jobs() JobStore                             { return memoryJobStore{m} }
func (m *MemoryStore) Conversations() ConversationStore           { return memoryConversationStore{m} }
func (m *MemoryStore) Messages() MessageStore                     { return memoryMessageStore{m} }
func (m *MemoryStore) CachedQueryResults() CachedQueryResultStore { return memoryCachedQueryStore{m} }
func (m *MemoryStore) Close() error                               { return nil }

type memoryJobStore struct{ m *MemoryStore }

func (s memoryJobStore) Create(ctx context.Context, jobType models.JobType, params map[string]any, conversationID string) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New().String(),
		Type:           jobType,
		Params:         params,
		Status:         models.JobStatusQueued,
		Progress:       0,
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.jobs[job.ID] = job

	cp := *job
	return &cp, nil
}

func (s memoryJobStore) Transition(ctx context.Context, id string, t models.JobTransition) (*models.Job, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	job, ok := s.m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}

	if err := validateTransition(job, t); err != nil {
		return nil, err
	}

	job.Status = t.Status
	if t.Progress != nil {
		job.Progress = *t.Progress
	}
	if t.Status == models.JobStatusCompleted {
		job.Progress = 100
		job.Result = t.Result
	}
	if t.Status == models.JobStatusFailed {
		job.Error = t.Error
	}
	job.UpdatedAt = time.Now().UTC()

	cp := *job
	return &cp, nil
}

// validateTransition checks the requested change before any field is
// mutated: legal DAG edge, non-decreasing progress, result set iff
// completed, error set iff failed.
func validateTransition(job *models.Job, t models.JobTransition) error {
	if !models.CanTransition(job.Status, t.Status) {
		return fmt.Errorf("job %s: %s -> %s: %w", job.ID, job.Status, t.Status, models.ErrInvalidTransition)
	}
	if t.Progress != nil && *t.Progress < job.Progress {
		return fmt.Errorf("job %s: progress cannot decrease (%d -> %d): %w", job.ID, job.Progress, *t.Progress, models.ErrInvalidTransition)
	}
	if t.Status == models.JobStatusCompleted && t.Result == nil {
		return fmt.Errorf("job %s: completed requires a result: %w", job.ID, models.ErrInvalidTransition)
	}
	if t.Status == models.JobStatusFailed && t.Error == "" {
		return fmt.Errorf("job %s: failed requires an error: %w", job.ID, models.ErrInvalidTransition)
	}
	return nil
}

func (s memoryJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	job, ok := s.m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (s memoryJobStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.Job, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var out []*models.Job
	for _, job := range s.m.jobs {
		if job.ConversationID == conversationID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memoryConversationStore struct{ m *MemoryStore }

func (s memoryConversationStore) Create(ctx context.Context, title string) (*models.Conversation, error) {
	now := time.Now().UTC()
	c := &models.Conversation{ID: uuid.New().String(), Title: title, CreatedAt: now, UpdatedAt: now}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.conversations[c.ID] = c

	cp := *c
	return &cp, nil
}

func (s memoryConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	c, ok := s.m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s memoryConversationStore) Touch(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	c, ok := s.m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a conversation and cascades to its messages. Jobs are
// not cascaded: an orphaned job remains
// queryable by id.
func (s memoryConversationStore) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	delete(s.m.conversations, id)
	for msgID, msg := range s.m.messages {
		if msg.ConversationID == id {
			delete(s.m.messages, msgID)
		}
	}
	return nil
}

type memoryMessageStore struct{ m *MemoryStore }

func (s memoryMessageStore) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	now := time.Now().UTC()
	cp := *msg
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored := cp
	s.m.messages[cp.ID] = &stored

	out := cp
	return &out, nil
}

func (s memoryMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	msg, ok := s.m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	cp := *msg
	return &cp, nil
}

func (s memoryMessageStore) AppendContent(ctx context.Context, id string, chunk string) (*models.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	msg, ok := s.m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	msg.Content += chunk
	msg.UpdatedAt = time.Now().UTC()

	cp := *msg
	return &cp, nil
}

func (s memoryMessageStore) Finalize(ctx context.Context, id string, content string, blocks []models.Block) (*models.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	msg, ok := s.m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	msg.Content = content
	msg.Blocks = blocks
	msg.UpdatedAt = time.Now().UTC()

	cp := *msg
	return &cp, nil
}

func (s memoryMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var out []*models.Message
	for _, msg := range s.m.messages {
		if msg.ConversationID == conversationID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memoryCachedQueryStore struct{ m *MemoryStore }

func cacheKey(userID, fingerprint string) string {
	return userID + "\x00" + fingerprint
}

func (s memoryCachedQueryStore) Upsert(ctx context.Context, userID, fingerprint, query, earliest, latest string, result models.AnalyticsResult) (*models.CachedQueryResult, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	key := cacheKey(userID, fingerprint)
	now := time.Now().UTC()

	if existing, ok := s.m.cachedResults[key]; ok {
		existing.Result = result
		existing.Query = query
		existing.Earliest = earliest
		existing.Latest = latest
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	row := &models.CachedQueryResult{
		ID:          uuid.New().String(),
		UserID:      userID,
		Fingerprint: fingerprint,
		Query:       query,
		Earliest:    earliest,
		Latest:      latest,
		Result:      result,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.m.cachedResults[key] = row

	cp := *row
	return &cp, nil
}

func (s memoryCachedQueryStore) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.CachedQueryResult, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	row, ok := s.m.cachedResults[cacheKey(userID, fingerprint)]
	if !ok {
		return nil, fmt.Errorf("cached result for user %s fingerprint %s: %w", userID, fingerprint, models.ErrNotFound)
	}
	cp := *row
	return &cp, nil
}
