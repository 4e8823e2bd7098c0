// Package store persists jobs, conversations, messages, and cached
// query results. The job store is the sole authority on job state:
// every write goes through Transition, which enforces the status DAG,
// monotonic progress, and terminal immutability before touching a row.
// PostgresStore runs over database/sql with the pgx driver and embedded
// golang-migrate migrations; MemoryStore mirrors the same invariants
// for tests and database-less runs.
package store

import (
	"context"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

// JobStore is the durable record of each job's params, status, progress,
// result, and error.
type JobStore interface {
	// Create inserts a new Job with status queued. params is opaque and
	// immutable thereafter.
	Create(ctx context.Context, jobType models.JobType, params map[string]any, conversationID string) (*models.Job, error)

	// Transition atomically applies t to the job identified by id,
	// rejecting any change that would violate the status DAG, progress
	// monotonicity, or terminal immutability (models.ErrInvalidTransition).
	Transition(ctx context.Context, id string, t models.JobTransition) (*models.Job, error)

	// Get returns the current row for id, or models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)

	// ListByConversation returns jobs linked to conversationID, newest first.
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Job, error)
}

// ConversationStore persists Conversation rows.
type ConversationStore interface {
	Create(ctx context.Context, title string) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// MessageStore persists Message rows. Conversation owns its messages;
// deleting a conversation cascades to its messages but
// never to jobs.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)
	Get(ctx context.Context, id string) (*models.Message, error)

	// AppendContent extends a message's content in place, used while a
	// stream is accumulating tokens.
	AppendContent(ctx context.Context, id string, chunk string) (*models.Message, error)

	// Finalize sets a message's final content and blocks; the message is
	// frozen once the owning job terminates.
	Finalize(ctx context.Context, id string, content string, blocks []models.Block) (*models.Message, error)

	ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// CachedQueryResultStore persists analytics results keyed by fingerprint.
// A row for a given (user, fingerprint) is updated in place, never
// duplicated.
type CachedQueryResultStore interface {
	// Upsert creates or updates the row for (userID, fingerprint),
	// returning its id (stable across repeated calls for the same key).
	Upsert(ctx context.Context, userID, fingerprint, query, earliest, latest string, result models.AnalyticsResult) (*models.CachedQueryResult, error)

	GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.CachedQueryResult, error)
}

// Store bundles all four stores behind one handle, the way callers
// typically want to construct and pass persistence around as a unit.
type Store interface {
	Jobs() JobStore
	Conversations() ConversationStore
	Messages() MessageStore
	CachedQueryResults() CachedQueryResultStore

	// Close releases underlying resources (connection pool, etc).
	Close() error
}
