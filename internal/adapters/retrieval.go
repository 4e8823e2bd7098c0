package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/splunk-chatops/dispatcher/internal/config"
)

// HTTPRetrieval calls a k-NN + lexical document index over HTTP,
// returning ranked (score, content, metadata) hits.
type HTTPRetrieval struct {
	cfg     config.RetrievalConfig
	timeout config.AdapterTimeouts
	client  *http.Client
	health  healthState
}

// NewHTTPRetrieval constructs a Retrieval adapter. An empty Endpoint
// makes the adapter permanently unavailable.
func NewHTTPRetrieval(cfg config.RetrievalConfig, timeouts config.AdapterTimeouts) *HTTPRetrieval {
	return &HTTPRetrieval{
		cfg:     cfg,
		timeout: timeouts,
		client:  &http.Client{Timeout: timeouts.CallDeadline},
	}
}

func (a *HTTPRetrieval) Available(ctx context.Context) bool {
	if a.cfg.Endpoint == "" {
		return false
	}
	healthy, checked := a.health.get()
	if !checked {
		return true
	}
	return healthy
}

// StartHealthProbe runs a ticker-driven availability probe until ctx is
// done, same shape as HTTPLLM.StartHealthProbe.
func (a *HTTPRetrieval) StartHealthProbe(ctx context.Context, interval time.Duration) {
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

func (a *HTTPRetrieval) probe(ctx context.Context) {
	if a.cfg.Endpoint == "" {
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

type retrievalRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type retrievalHit struct {
	Score    float64        `json:"score"`
	Content  string         `json:"content"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

// Call fetches the top-K ranked documents for query, retrying connect
// failures with exponential backoff and enforcing the per-call
// deadline.
func (a *HTTPRetrieval) Call(ctx context.Context, query string, topK int) ([]RetrievalDoc, error) {
	var hits []retrievalHit
	err := withDeadline(ctx, a.timeout.CallDeadline, func(callCtx context.Context) error {
		return withRetry(callCtx, a.timeout.MaxRetryAttempts, func() error {
			buf, err := json.Marshal(retrievalRequest{Query: query, TopK: topK})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
				strings.TrimRight(a.cfg.Endpoint, "/")+"/search", bytes.NewReader(buf))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if a.cfg.Credentials != "" {
				req.Header.Set("Authorization", "Bearer "+a.cfg.Credentials)
			}
			resp, err := a.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 500 {
				return fmt.Errorf("retrieval: backend status %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&hits)
		})
	})
	if err != nil {
		return nil, err
	}

	docs := make([]RetrievalDoc, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, RetrievalDoc{Score: h.Score, Content: h.Content, Title: h.Title, Metadata: h.Metadata})
	}
	return docs, nil
}
