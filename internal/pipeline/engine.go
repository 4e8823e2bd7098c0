// Package pipeline implements the conversation pipeline engine: the
// deterministic state machine that turns a queued assistant_response job
// into an assistant message plus blocks, via conditional stages
// classify -> retrieve -> generate_query -> execute_query ->
// generate_response -> extract_blocks -> emit. One owning task drives
// the whole unit of work start to finish, writing every status
// transition through the store and publishing progress events as it
// goes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splunk-chatops/dispatcher/internal/adapters"
	"github.com/splunk-chatops/dispatcher/internal/bus"
	"github.com/splunk-chatops/dispatcher/internal/config"
	"github.com/splunk-chatops/dispatcher/internal/metrics"
	"github.com/splunk-chatops/dispatcher/internal/models"
	"github.com/splunk-chatops/dispatcher/internal/store"
)

// retrievalTopK bounds how many documents the retrieve stage pulls into
// the context blob.
const retrievalTopK = 5

// docContentLimit truncates each retrieved document's content in the
// context blob so a handful of large documents cannot blow the prompt.
const docContentLimit = 1200

// StreamDriver is the handoff contract generate_response uses when
// streaming applies. The concrete implementation lives
// in internal/stream; the engine only needs Run's full-lifecycle
// semantics: by the time Run returns, the message and job are final and
// every stream event has been published.
type StreamDriver interface {
	Run(ctx context.Context, job *models.Job, conversationID string, llm adapters.LLM, req adapters.GenerateRequest) (*models.Message, error)
}

// Engine executes assistant_response and chart_build jobs. All external
// collaborators arrive through the constructor; configuration flags are resolved once at startup.
type Engine struct {
	store     store.Store
	bus       *bus.Bus
	llm       adapters.LLM
	retrieval adapters.Retrieval
	analytics adapters.Analytics
	streamer  StreamDriver
	cfg       *config.Config
}

// NewEngine constructs an Engine over its dependency container.
func NewEngine(st store.Store, b *bus.Bus, llm adapters.LLM, retrieval adapters.Retrieval, analytics adapters.Analytics, streamer StreamDriver, cfg *config.Config) *Engine {
	return &Engine{
		store:     st,
		bus:       b,
		llm:       llm,
		retrieval: retrieval,
		analytics: analytics,
		streamer:  streamer,
		cfg:       cfg,
	}
}

// Run is the task entry the scheduler spawns per job: it loads the job,
// drives it through the stage graph, and guarantees a terminal status
// (completed, or failed with an error) plus a terminal job.update event
// before returning. It returns the terminal error, if any, for logging.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	job, err := e.store.Jobs().Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: load job %s: %w", jobID, err)
	}
	start := time.Now()

	err = e.run(ctx, job)
	if err != nil {
		e.failJob(ctx, job.ID, err)
	}

	if final, getErr := e.store.Jobs().Get(context.WithoutCancel(ctx), jobID); getErr == nil {
		metrics.JobsTerminalTotal.WithLabelValues(string(final.Status)).Inc()
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

// run drives the conditional stage graph. A returned error means the job
// still needs a failed transition; nil means a terminal transition has
// already been written (by emit or by the stream driver).
func (e *Engine) run(ctx context.Context, job *models.Job) error {
	userMessage, _ := job.Params["content"].(string)
	if userMessage == "" {
		return models.NewValidationError("content", "job has no user message content")
	}
	tz := locationFromParams(job.Params)

	if err := e.transition(ctx, job.ID, models.JobTransition{Status: models.JobStatusStarted}); err != nil {
		return err
	}

	// Mock path short-circuits the whole graph: selected
	// by configuration flag or when the LLM adapter is unavailable.
	if e.cfg.Mock.Enabled || !e.llm.Available(ctx) {
		content, blocks := MockRespond(userMessage)
		return e.emit(ctx, job, content, blocks, nil)
	}

	intent := ClassifyIntent(userMessage)
	if err := e.progress(ctx, job.ID, 20); err != nil {
		return err
	}

	contextBlob := e.retrieve(ctx, intent, userMessage)

	var analyticsBlocks []models.Block
	var partial *models.PartialError

	if intent == IntentAnalyticsQuery {
		query := e.generateQuery(ctx, userMessage, contextBlob)
		if err := e.progress(ctx, job.ID, 40); err != nil {
			return err
		}
		if query != "" {
			userID, _ := job.Params["user_id"].(string)
			result, err := e.ExecuteAnalytics(ctx, userID, adapters.AnalyticsQuery{Query: query}, tz)
			switch {
			case err == nil:
				analyticsBlocks = resultBlocks(query, result)
			case models.IsPartial(err):
				// Partial results still reach extract_blocks/emit: the
				// job ends failed but the user sees what was produced.
				analyticsBlocks = resultBlocks(query, result)
				partial = &models.PartialError{Err: err}
			default:
				return fmt.Errorf("execute_query: %w", err)
			}
		}
	}
	if err := e.progress(ctx, job.ID, 60); err != nil {
		return err
	}

	req := adapters.GenerateRequest{
		SystemPrompt: systemPrompt(intent, contextBlob),
		History:      e.history(ctx, job.ConversationID),
		Prompt:       userMessage,
	}

	// Streaming handoff: the Stream Driver owns persistence, events, and
	// the terminal transition from here on. Analytics blocks produced
	// above are appended to the finalized message afterwards so they are
	// not lost to the handoff.
	if e.cfg.Streaming.Enabled && partial == nil {
		msg, err := e.streamer.Run(ctx, job, job.ConversationID, e.llm, req)
		if err == nil && msg != nil && len(analyticsBlocks) > 0 {
			if _, ferr := e.store.Messages().Finalize(ctx, msg.ID, msg.Content, append(msg.Blocks, analyticsBlocks...)); ferr != nil {
				slog.Warn("pipeline: append analytics blocks failed", "message_id", msg.ID, "error", ferr)
			}
		}
		if err != nil && !models.IsPartial(err) {
			return err
		}
		return nil
	}

	callStart := time.Now()
	text, err := e.llm.Call(ctx, req)
	metrics.ObserveAdapterCall("llm", callStart, err)
	if err != nil {
		if models.IsPartial(err) {
			partial = &models.PartialError{Err: err}
		} else if partial == nil {
			return fmt.Errorf("generate_response: %w", err)
		}
	}
	if err := e.progress(ctx, job.ID, 80); err != nil {
		return err
	}

	content, blocks := ExtractBlocks(text)
	blocks = append(blocks, analyticsBlocks...)

	var failCause error
	if partial != nil {
		failCause = partial
	}
	return e.emit(ctx, job, content, blocks, failCause)
}

// retrieve runs the conditional retrieve stage: only for
// analytics/visualization intents and only when the adapter is up. A
// retrieval failure degrades to an empty blob rather than failing the
// job — the downstream stages all have LLM-only or templated fallbacks.
func (e *Engine) retrieve(ctx context.Context, intent Intent, userMessage string) string {
	if intent != IntentAnalyticsQuery && intent != IntentVisualization {
		return ""
	}
	if !e.retrieval.Available(ctx) {
		return ""
	}

	callStart := time.Now()
	docs, err := e.retrieval.Call(ctx, userMessage, retrievalTopK)
	metrics.ObserveAdapterCall("retrieval", callStart, err)
	if err != nil {
		slog.Warn("pipeline: retrieval failed, continuing without context", "error", err)
		return ""
	}
	return formatContextBlob(docs)
}

// formatContextBlob renders ranked documents as the context block fed to
// generate_query: title, index hints, field list, truncated content per
// doc.
func formatContextBlob(docs []adapters.RetrievalDoc) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant documentation:\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "\n--- Document %d: %s ---\n", i+1, doc.Title)
		if idx, ok := doc.Metadata["index"].(string); ok && idx != "" {
			fmt.Fprintf(&b, "Index: %s\n", idx)
		}
		if fields, ok := doc.Metadata["fields"].(string); ok && fields != "" {
			fmt.Fprintf(&b, "Fields: %s\n", fields)
		}
		content := doc.Content
		if len(content) > docContentLimit {
			content = content[:docContentLimit] + "..."
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}

// generateQuery produces an analytics query string: LLM-drafted against
// the retrieval blob when the LLM is reachable, else the templated
// fallback.
func (e *Engine) generateQuery(ctx context.Context, userMessage, contextBlob string) string {
	prompt := "Write a single analytics search query answering the user's request. " +
		"Return only the query, inside a ```spl fence.\n\nRequest: " + userMessage
	if contextBlob != "" {
		prompt += "\n\n" + contextBlob
	}

	callStart := time.Now()
	text, err := e.llm.Call(ctx, adapters.GenerateRequest{Prompt: prompt})
	metrics.ObserveAdapterCall("llm", callStart, err)
	if err != nil {
		slog.Warn("pipeline: query generation via llm failed, using template", "error", err)
		return templatedQuery(userMessage)
	}

	if q := firstFencedQuery(text); q != "" {
		return q
	}
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	return templatedQuery(userMessage)
}

// firstFencedQuery pulls the first spl/splunk fenced body out of an LLM
// response, reusing the extraction pass rather than a second regex.
func firstFencedQuery(text string) string {
	_, blocks := ExtractBlocks(text)
	for _, b := range blocks {
		if b.Type == models.BlockTypeQuery {
			if q, ok := b.Data["query"].(string); ok {
				return q
			}
		}
	}
	return ""
}

// templatedQuery is the degraded-mode query used when no LLM can draft
// one, shaped like the canned searches the mock cascade ships.
func templatedQuery(userMessage string) string {
	lower := strings.ToLower(userMessage)
	if strings.Contains(lower, "timechart") || strings.Contains(lower, "over time") {
		return "search index=main | timechart span=15m count"
	}
	return "search index=main | stats count by status | sort -count"
}

// ExecuteAnalytics submits q via the analytics adapter, classifies the
// result for visualization, applies time bucketing/label formatting, and
// upserts the content-addressed cache row for (userID, fingerprint) —
// updated in place, never duplicated. It is exported because the HTTP
// execute-query endpoint is the same stage invoked synchronously.
func (e *Engine) ExecuteAnalytics(ctx context.Context, userID string, q adapters.AnalyticsQuery, tz *time.Location) (models.AnalyticsResult, error) {
	if !e.analytics.Available(ctx) {
		return models.AnalyticsResult{}, models.ErrUnavailable
	}

	callStart := time.Now()
	raw, callErr := e.analytics.Call(ctx, q)
	metrics.ObserveAdapterCall("analytics", callStart, callErr)
	if callErr != nil && !models.IsPartial(callErr) {
		return models.AnalyticsResult{}, callErr
	}

	result := ClassifyResult(raw.Columns, raw.Fields, raw.Rows, q.Query)
	result.Preview = raw.Preview
	if result.IsTimeSeries {
		formatTimeSeries(&result, q.Query, tz)
	}

	if userID == "" {
		userID = e.cfg.Auth.DefaultUser
	}
	fp := store.Fingerprint(q.Query, q.Earliest, q.Latest)
	row, err := e.store.CachedQueryResults().Upsert(ctx, userID, fp, q.Query, q.Earliest, q.Latest, result)
	if err != nil {
		slog.Warn("pipeline: cache upsert failed", "fingerprint", fp, "error", err)
	} else {
		result.CachedResultID = row.ID
	}

	return result, callErr
}

// formatTimeSeries resolves the bucket span and rewrites each chart
// point's time label, preserving chronological order.
func formatTimeSeries(result *models.AnalyticsResult, query string, tz *time.Location) {
	var times []time.Time
	for _, point := range result.ChartData {
		if t, ok := ParseTime(point["time"]); ok {
			times = append(times, t)
		}
	}

	var spanField any
	if idx := fieldIndex(result.Fields, "_span"); idx >= 0 && len(result.Rows) > 0 {
		spanField = cellAt(result.Rows[0], idx)
	}

	span := ResolveSpan(query, spanField, times)
	result.TimeFormat = FormatName(span)

	ti := 0
	for _, point := range result.ChartData {
		if _, ok := ParseTime(point["time"]); ok {
			point["time"] = FormatLabel(times[ti], span, tz)
			ti++
		}
	}
}

// resultBlocks renders a classified analytics result as the block list
// attached to the assistant message: the executed query itself plus the
// visualization the classifier picked.
func resultBlocks(query string, result models.AnalyticsResult) []models.Block {
	blocks := []models.Block{
		models.QueryBlock(query, "spl", "Executed Query", false),
	}

	switch result.Visualization {
	case models.VisualizationTimechart:
		blocks = append(blocks, models.ChartBlock(true, "line", "Results Over Time",
			result.ChartData, "time", result.ValueField, result.Series, true, true))
	case models.VisualizationSingleValue:
		blocks = append(blocks, models.ChartBlock(true, "single", "Result",
			result.ChartData, "", result.ValueField, nil, false, false))
	case models.VisualizationCategorical:
		blocks = append(blocks, models.ChartBlock(true, result.PieOrBar, "Results by "+result.CategoryField,
			result.ChartData, result.CategoryField, result.ValueField, result.Series, false, true))
	default:
		blocks = append(blocks, models.TableBlock(result.Columns, result.Rows))
	}

	return blocks
}

// history loads the rolling conversation history fed to the LLM, bounded
// by the configured maximum, oldest first.
func (e *Engine) history(ctx context.Context, conversationID string) []adapters.ConversationMessage {
	if conversationID == "" {
		return nil
	}
	msgs, err := e.store.Messages().ListByConversation(ctx, conversationID)
	if err != nil {
		slog.Warn("pipeline: history load failed", "conversation_id", conversationID, "error", err)
		return nil
	}
	if limit := e.cfg.History.MaxMessages; len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]adapters.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, adapters.ConversationMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func systemPrompt(intent Intent, contextBlob string) string {
	prompt := "You are a helpful operations assistant. Answer concisely; put any query, code, or structured artifact in a fenced block."
	if intent == IntentAnalyticsQuery || intent == IntentVisualization {
		prompt += " The user is working with analytics data."
	}
	if contextBlob != "" {
		prompt += "\n\n" + contextBlob
	}
	return prompt
}

// emit is the terminal stage: append the assistant message, write the job
// result, and publish message.new plus the terminal job.update. When
// failCause is non-nil the message is
// still written but the job ends failed.
func (e *Engine) emit(ctx context.Context, job *models.Job, content string, blocks []models.Block, failCause error) error {
	msg, err := e.store.Messages().Create(ctx, &models.Message{
		ConversationID: job.ConversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		Blocks:         blocks,
		JobID:          job.ID,
	})
	if err != nil {
		return fmt.Errorf("emit: create assistant message: %w", err)
	}
	if job.ConversationID != "" {
		if err := e.store.Conversations().Touch(ctx, job.ConversationID); err != nil {
			slog.Warn("pipeline: touch conversation failed", "conversation_id", job.ConversationID, "error", err)
		}
	}

	e.publish(models.EventMessageNew, models.MessageNewPayload{Message: *msg})

	if failCause != nil {
		e.failJob(ctx, job.ID, failCause)
		return nil
	}

	return e.transition(ctx, job.ID, models.JobTransition{
		Status: models.JobStatusCompleted,
		Result: map[string]any{
			"message_id": msg.ID,
			"blocks":     len(blocks),
		},
	})
}

// failJob writes the failed transition and publishes its terminal
// job.update. It tolerates the job already being terminal.
func (e *Engine) failJob(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	updated, err := e.store.Jobs().Transition(ctx, jobID, models.JobTransition{
		Status: models.JobStatusFailed,
		Error:  cause.Error(),
	})
	if err != nil {
		slog.Warn("pipeline: failed transition rejected", "job_id", jobID, "error", err)
		return
	}
	e.publish(models.EventJobUpdate, models.JobUpdatePayload{
		JobID:    updated.ID,
		Status:   updated.Status,
		Progress: updated.Progress,
		Error:    updated.Error,
	})
}

// transition applies t and publishes the matching job.update event.
func (e *Engine) transition(ctx context.Context, jobID string, t models.JobTransition) error {
	updated, err := e.store.Jobs().Transition(ctx, jobID, t)
	if err != nil {
		return err
	}
	e.publish(models.EventJobUpdate, models.JobUpdatePayload{
		JobID:    updated.ID,
		Status:   updated.Status,
		Progress: updated.Progress,
		Result:   updated.Result,
		Error:    updated.Error,
	})
	return nil
}

// progress advances the job's progress percentage through the progress
// status, keeping the monotonicity invariant with the store as the
// enforcing authority.
func (e *Engine) progress(ctx context.Context, jobID string, pct int) error {
	return e.transition(ctx, jobID, models.JobTransition{
		Status:   models.JobStatusProgress,
		Progress: &pct,
	})
}

// locationFromParams resolves the caller-supplied timezone, falling back
// to UTC on anything unknown.
func locationFromParams(params map[string]any) *time.Location {
	name, _ := params["timezone"].(string)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (e *Engine) publish(eventType models.EventType, data any) {
	metrics.EventsPublishedTotal.WithLabelValues(bus.TopicEvents).Inc()
	e.bus.Publish(bus.TopicEvents, models.Envelope{Type: eventType, Data: data})
}
