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
	"github.com/splunk-chatops/dispatcher/internal/models"
)

// HTTPAnalytics submits a query to a remote search backend and polls it
// to completion, returning the raw result shape the Visualization
// Classifier consumes.
type HTTPAnalytics struct {
	cfg     config.AnalyticsConfig
	timeout config.AdapterTimeouts
	client  *http.Client
	health  healthState
}

// NewHTTPAnalytics constructs an Analytics adapter. An empty Endpoint
// makes the adapter permanently unavailable.
func NewHTTPAnalytics(cfg config.AnalyticsConfig, timeouts config.AdapterTimeouts) *HTTPAnalytics {
	return &HTTPAnalytics{
		cfg:     cfg,
		timeout: timeouts,
		client:  &http.Client{Timeout: timeouts.CallDeadline},
	}
}

func (a *HTTPAnalytics) Available(ctx context.Context) bool {
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
func (a *HTTPAnalytics) StartHealthProbe(ctx context.Context, interval time.Duration) {
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

func (a *HTTPAnalytics) probe(ctx context.Context) {
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

type submitQueryRequest struct {
	Query    string `json:"query"`
	Earliest string `json:"earliest,omitempty"`
	Latest   string `json:"latest,omitempty"`
}

type submitQueryResponse struct {
	SearchID string `json:"search_id"`
}

type pollQueryResponse struct {
	Done     bool     `json:"done"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	Fields   []string `json:"fields"`
	Preview  bool     `json:"preview"`
	RowCount int      `json:"row_count"`
	Error    string   `json:"error,omitempty"`
}

// Call submits q, polls the resulting remote job at the configured
// interval up to the configured poll deadline, and returns its final
// result. A mid-poll backend error surfaces as a models.PartialError
// wrapping whatever partial rows the last successful poll observed, if
// any rows had been produced; otherwise it surfaces as-is.
func (a *HTTPAnalytics) Call(ctx context.Context, q AnalyticsQuery) (AnalyticsQueryResult, error) {
	var searchID string
	err := withDeadline(ctx, a.timeout.CallDeadline, func(callCtx context.Context) error {
		return withRetry(callCtx, a.timeout.MaxRetryAttempts, func() error {
			id, err := a.submit(callCtx, q)
			if err != nil {
				return err
			}
			searchID = id
			return nil
		})
	})
	if err != nil {
		return AnalyticsQueryResult{}, err
	}
	return a.poll(ctx, searchID)
}

func (a *HTTPAnalytics) submit(ctx context.Context, q AnalyticsQuery) (string, error) {
	buf, err := json.Marshal(submitQueryRequest{Query: q.Query, Earliest: q.Earliest, Latest: q.Latest})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.Endpoint, "/")+"/search", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Credentials != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Credentials)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("analytics: submit status %d", resp.StatusCode)
	}
	var parsed submitQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.SearchID, nil
}

// poll repeatedly fetches the search's status, using ctx (not the
// per-call deadline context) so the overall poll deadline is governed
// independently of the connect/handshake deadline.
func (a *HTTPAnalytics) poll(ctx context.Context, searchID string) (AnalyticsQueryResult, error) {
	deadline := time.Now().Add(a.timeout.PollDeadline)
	ticker := time.NewTicker(a.timeout.PollInterval)
	defer ticker.Stop()

	var last AnalyticsQueryResult
	for {
		resp, err := a.fetchStatus(ctx, searchID)
		if err != nil {
			if last.RowCount > 0 {
				return last, &models.PartialError{Err: err}
			}
			return last, err
		}
		if resp.Error != "" {
			pollErr := fmt.Errorf("analytics: %s", resp.Error)
			if last.RowCount > 0 {
				return last, &models.PartialError{Err: pollErr}
			}
			return last, pollErr
		}
		last = AnalyticsQueryResult{
			Columns: resp.Columns, Rows: resp.Rows, Fields: resp.Fields,
			Preview: resp.Preview, RowCount: resp.RowCount,
		}
		if resp.Done {
			return last, nil
		}
		if time.Now().After(deadline) {
			return last, models.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *HTTPAnalytics) fetchStatus(ctx context.Context, searchID string) (pollQueryResponse, error) {
	var parsed pollQueryResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(a.cfg.Endpoint, "/")+"/search/"+searchID, nil)
	if err != nil {
		return parsed, err
	}
	if a.cfg.Credentials != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Credentials)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return parsed, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return parsed, fmt.Errorf("analytics: poll status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&parsed)
	return parsed, err
}
