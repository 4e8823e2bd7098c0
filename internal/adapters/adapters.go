// Package adapters wraps the external LLM, retrieval, and analytics
// backends behind a uniform Available/Call/CallStream capability set,
// with ticker-driven availability probing, exponential-backoff retry on
// connect failures, per-call deadlines, and a distinct partial failure
// kind for mid-stream errors.
package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

// GenerateRequest is the input to the LLM adapter's whole-response and
// streaming calls.
type GenerateRequest struct {
	SystemPrompt string
	History      []ConversationMessage
	Prompt       string
}

// ConversationMessage is one turn of rolling history fed to the LLM.
type ConversationMessage struct {
	Role    models.MessageRole
	Content string
}

// LLM is the uniform capability set for chat completion.
type LLM interface {
	Available(ctx context.Context) bool
	Call(ctx context.Context, req GenerateRequest) (string, error)
	CallStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
}

// StreamChunk is one element of the lazy, finite, non-restartable
// sequence produced by CallStream. Exactly one of Text or Err is set;
// a chunk with Err set is always the last one sent on the channel.
type StreamChunk struct {
	Text string
	Err  error
}

// RetrievalDoc is one ranked hit from the Retrieval adapter.
type RetrievalDoc struct {
	Score    float64
	Content  string
	Title    string
	Metadata map[string]any
}

// Retrieval is the uniform capability set for k-NN + lexical document
// lookup.
type Retrieval interface {
	Available(ctx context.Context) bool
	Call(ctx context.Context, query string, topK int) ([]RetrievalDoc, error)
}

// AnalyticsQuery submits a query and returns its formatted result.
type AnalyticsQuery struct {
	Query    string
	Earliest string
	Latest   string
}

// AnalyticsQueryResult is the raw shape the Analytics adapter returns
// before the Visualization Classifier runs over it.
type AnalyticsQueryResult struct {
	Columns  []string
	Rows     [][]any
	Fields   []string
	Preview  bool
	RowCount int
}

// Analytics is the uniform capability set for submit-then-poll query
// execution.
type Analytics interface {
	Available(ctx context.Context) bool
	Call(ctx context.Context, q AnalyticsQuery) (AnalyticsQueryResult, error)
}

// backoffFor builds the shared exponential-backoff policy withRetry uses
// around adapter calls, capped at maxAttempts tries before surfacing
// models.ErrUnavailable.
func backoffFor(maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithMaxRetries(b, uint64(max(maxAttempts-1, 0)))
}

// withRetry runs op under the shared backoff policy, translating
// exhaustion into models.ErrUnavailable.
func withRetry(ctx context.Context, maxAttempts int, op func() error) error {
	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return op()
	}, backoff.WithContext(backoffFor(maxAttempts), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return models.ErrUnavailable
}

// withDeadline runs op with a hard per-call deadline, translating
// expiry into models.ErrTimeout.
func withDeadline(ctx context.Context, d time.Duration, op func(ctx context.Context) error) error {
	if d <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := op(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return models.ErrTimeout
	}
	return err
}

// healthState is the shared availability-probe bookkeeping embedded by
// every adapter below: a single guarded boolean, since each adapter has
// exactly one backend.
type healthState struct {
	mu      sync.RWMutex
	healthy bool
	checked bool
}

func (h *healthState) get() (healthy, checked bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.healthy, h.checked
}

func (h *healthState) set(healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = healthy
	h.checked = true
}
