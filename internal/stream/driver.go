// Package stream drives a token-producing LLM adapter call end to end:
// it persists the accumulating assistant message incrementally, emits
// stream.start/stream.token/stream.end events in order, and finalizes
// both the message and the owning job.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splunk-chatops/dispatcher/internal/adapters"
	"github.com/splunk-chatops/dispatcher/internal/bus"
	"github.com/splunk-chatops/dispatcher/internal/metrics"
	"github.com/splunk-chatops/dispatcher/internal/models"
	"github.com/splunk-chatops/dispatcher/internal/pipeline"
	"github.com/splunk-chatops/dispatcher/internal/store"
)

// flushEvery is how many chunks may accumulate before the message row is
// brought up to date; flushInterval bounds how stale the row may get on a
// slow stream. Batching never leaves the final row short: on a clean end
// the row is rewritten with the fence-stripped text ExtractBlocks
// returns, and on failure with the raw accumulation.
const (
	flushEvery    = 8
	flushInterval = 250 * time.Millisecond
)

// Driver pumps one streaming LLM call per Run invocation. The adapter's
// stream handle is exclusive to that call: Driver holds no
// per-stream state across calls and is safe for concurrent Runs on
// distinct jobs.
type Driver struct {
	store store.Store
	bus   *bus.Bus
}

// New constructs a Driver over the given persistence and event bus.
func New(st store.Store, b *bus.Bus) *Driver {
	return &Driver{store: st, bus: b}
}

// Run executes the full streaming lifecycle for jobID:
// persists a placeholder assistant message, publishes stream.start,
// pumps the adapter's chunk sequence into stream.token events and batched
// persistence, then finalizes. On clean end-of-stream the job is
// transitioned to completed; on a mid-stream adapter error (or
// cooperative cancellation) the partial content is retained, the job is
// transitioned to failed, and exactly one stream.end plus one terminal
// job.update are still published. The finalized message is returned in
// both cases; err is non-nil only for the failure path.
func (d *Driver) Run(ctx context.Context, job *models.Job, conversationID string, llm adapters.LLM, req adapters.GenerateRequest) (*models.Message, error) {
	msg, err := d.store.Messages().Create(ctx, &models.Message{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		JobID:          job.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("stream: create placeholder message: %w", err)
	}

	d.publish(models.EventStreamStart, models.StreamStartPayload{
		ConversationID: conversationID,
		MessageID:      msg.ID,
	})

	chunks, err := llm.CallStream(ctx, req)
	if err != nil {
		return d.finishFailed(ctx, job, msg, "", err)
	}

	var acc strings.Builder
	pending := 0
	unflushed := 0
	lastFlush := time.Now()

	flush := func() error {
		if unflushed == 0 {
			return nil
		}
		content := acc.String()
		tail := content[len(content)-unflushed:]
		if _, err := d.store.Messages().AppendContent(ctx, msg.ID, tail); err != nil {
			return err
		}
		unflushed = 0
		pending = 0
		lastFlush = time.Now()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			// Cooperative cancellation surfaces here, at the stream's
			// suspension point.
			return d.finishFailed(ctx, job, msg, acc.String(), fmt.Errorf("cancelled: %w", context.Cause(ctx)))
		case chunk, ok := <-chunks:
			if !ok {
				return d.finishCompleted(ctx, job, conversationID, msg, acc.String())
			}
			if chunk.Err != nil {
				return d.finishFailed(ctx, job, msg, acc.String(), chunk.Err)
			}

			acc.WriteString(chunk.Text)
			unflushed += len(chunk.Text)
			pending++
			metrics.StreamTokensTotal.Inc()

			d.publish(models.EventStreamToken, models.StreamTokenPayload{
				Token:          chunk.Text,
				MessageID:      msg.ID,
				ConversationID: conversationID,
			})

			if pending >= flushEvery || time.Since(lastFlush) >= flushInterval {
				if err := flush(); err != nil {
					return d.finishFailed(ctx, job, msg, acc.String(), fmt.Errorf("persist stream batch: %w", err))
				}
			}
		}
	}
}

// finishCompleted runs extract_blocks over the accumulator, stores the
// final content and blocks, marks the job completed, and publishes
// stream.end followed by message.new for late-joining sessions.
func (d *Driver) finishCompleted(ctx context.Context, job *models.Job, conversationID string, msg *models.Message, accumulated string) (*models.Message, error) {
	content, blocks := pipeline.ExtractBlocks(accumulated)

	final, err := d.store.Messages().Finalize(ctx, msg.ID, content, blocks)
	if err != nil {
		return d.finishFailed(ctx, job, msg, accumulated, fmt.Errorf("finalize message: %w", err))
	}

	updated, err := d.store.Jobs().Transition(ctx, job.ID, models.JobTransition{
		Status: models.JobStatusCompleted,
		Result: map[string]any{
			"message_id": msg.ID,
			"blocks":     len(blocks),
		},
	})
	if err != nil {
		slog.Error("stream: completed transition failed", "job_id", job.ID, "error", err)
	}

	d.publish(models.EventStreamEnd, models.StreamEndPayload{MessageID: msg.ID, Blocks: blocks})
	if updated != nil {
		d.publish(models.EventJobUpdate, models.JobUpdatePayload{
			JobID:    updated.ID,
			Status:   updated.Status,
			Progress: updated.Progress,
			Result:   updated.Result,
		})
	}
	d.publish(models.EventMessageNew, models.MessageNewPayload{Message: *final})

	return final, nil
}

// finishFailed retains whatever accumulated, marks the job failed, and
// publishes exactly one stream.end carrying whatever blocks could still
// be parsed plus one terminal job.update.
func (d *Driver) finishFailed(ctx context.Context, job *models.Job, msg *models.Message, accumulated string, cause error) (*models.Message, error) {
	// The failure may be the task's own cancellation; the terminal writes
	// still need a live context to land.
	ctx = context.WithoutCancel(ctx)

	_, blocks := pipeline.ExtractBlocks(accumulated)

	// Finalize with the raw accumulation rather than the block-stripped
	// text: a partial message's content is exactly the chunks the user
	// already saw stream past.
	final, err := d.store.Messages().Finalize(ctx, msg.ID, accumulated, blocks)
	if err != nil {
		slog.Error("stream: finalize partial message failed", "message_id", msg.ID, "error", err)
		final = msg
	}

	updated, err := d.store.Jobs().Transition(ctx, job.ID, models.JobTransition{
		Status: models.JobStatusFailed,
		Error:  cause.Error(),
	})
	if err != nil {
		slog.Error("stream: failed transition rejected", "job_id", job.ID, "error", err)
	}

	d.publish(models.EventStreamEnd, models.StreamEndPayload{MessageID: msg.ID, Blocks: blocks})
	if updated != nil {
		d.publish(models.EventJobUpdate, models.JobUpdatePayload{
			JobID:    updated.ID,
			Status:   updated.Status,
			Progress: updated.Progress,
			Error:    updated.Error,
		})
	}

	return final, &models.PartialError{Err: cause}
}

func (d *Driver) publish(eventType models.EventType, data any) {
	metrics.EventsPublishedTotal.WithLabelValues(bus.TopicEvents).Inc()
	d.bus.Publish(bus.TopicEvents, models.Envelope{Type: eventType, Data: data})
}
