package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/splunk-chatops/dispatcher/internal/config"
	"github.com/splunk-chatops/dispatcher/internal/models"
)

// HTTPLLM calls an OpenAI-compatible chat completions endpoint, in both
// whole-response and server-sent-event streaming modes. Streaming
// yields plain text chunks; there is no tool-call or thinking taxonomy
// to carry.
type HTTPLLM struct {
	cfg     config.LLMConfig
	timeout config.AdapterTimeouts
	client  *http.Client
	health  healthState
}

// NewHTTPLLM constructs an LLM adapter. The returned adapter reports
// Available() == false immediately if cfg.Enabled is false, without
// ever dialing out.
func NewHTTPLLM(cfg config.LLMConfig, timeouts config.AdapterTimeouts) *HTTPLLM {
	return &HTTPLLM{
		cfg:     cfg,
		timeout: timeouts,
		client:  &http.Client{Timeout: timeouts.CallDeadline},
	}
}

// Available reports whether the adapter is enabled, configured with an
// endpoint, and last observed healthy. StartHealthProbe must be running
// for this to reflect live backend state; an adapter that has never
// been probed is treated as available so long as it is enabled and
// configured, letting the first real call discover an outage.
func (a *HTTPLLM) Available(ctx context.Context) bool {
	if !a.cfg.Enabled || a.cfg.Endpoint == "" {
		return false
	}
	healthy, checked := a.health.get()
	if !checked {
		return true
	}
	return healthy
}

// StartHealthProbe runs a ticker-driven availability probe until ctx is
// done.
func (a *HTTPLLM) StartHealthProbe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.probe(ctx)
		}
	}
}

func (a *HTTPLLM) probe(ctx context.Context) {
	if !a.cfg.Enabled || a.cfg.Endpoint == "" {
		a.health.set(false)
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(a.cfg.Endpoint, "/")+"/health", nil)
	if err != nil {
		a.health.set(false)
		return
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.health.set(false)
		return
	}
	defer resp.Body.Close()
	a.health.set(resp.StatusCode < 500)
}

type chatCompletionRequest struct {
	Model    string                  `json:"model"`
	System   string                  `json:"system,omitempty"`
	Messages []chatCompletionMessage `json:"messages"`
	Stream   bool                    `json:"stream"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Content string `json:"content"`
}

func (a *HTTPLLM) buildRequest(req GenerateRequest, stream bool) chatCompletionRequest {
	msgs := make([]chatCompletionMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		msgs = append(msgs, chatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, chatCompletionMessage{Role: "user", Content: req.Prompt})
	return chatCompletionRequest{
		Model:    a.cfg.Model,
		System:   req.SystemPrompt,
		Messages: msgs,
		Stream:   stream,
	}
}

// Call performs a whole-response completion, retrying connect failures
// with exponential backoff and enforcing the adapter's per-call
// deadline.
func (a *HTTPLLM) Call(ctx context.Context, req GenerateRequest) (string, error) {
	var result string
	err := withDeadline(ctx, a.timeout.CallDeadline, func(callCtx context.Context) error {
		return withRetry(callCtx, a.timeout.MaxRetryAttempts, func() error {
			body, err := a.post(callCtx, a.buildRequest(req, false))
			if err != nil {
				return err
			}
			var parsed chatCompletionResponse
			if err := json.Unmarshal(body, &parsed); err != nil {
				return fmt.Errorf("llm: decode response: %w", err)
			}
			result = parsed.Content
			return nil
		})
	})
	return result, err
}

func (a *HTTPLLM) post(ctx context.Context, payload chatCompletionRequest) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.Endpoint, "/")+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("llm: backend status %d", resp.StatusCode)
	}
	return body.Bytes(), nil
}

// CallStream performs a streaming completion, decoding a newline-
// delimited server-sent-event body ("data: <token>\n\n", terminated by
// "data: [DONE]") into a lazy, finite, non-restartable sequence of
// StreamChunk. A mid-stream read failure sends exactly one final chunk
// with Err set and closes the channel; the caller MUST retain whatever
// Text chunks were already received.
func (a *HTTPLLM) CallStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	buf, err := json.Marshal(a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.Endpoint, "/")+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, models.ErrUnavailable
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, models.ErrUnavailable
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			select {
			case out <- StreamChunk{Text: payload}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- StreamChunk{Err: fmt.Errorf("llm: stream read: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
