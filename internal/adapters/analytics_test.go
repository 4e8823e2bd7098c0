package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk-chatops/dispatcher/internal/config"
	"github.com/splunk-chatops/dispatcher/internal/models"
)

func TestHTTPAnalyticsCallPollsUntilDone(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(submitQueryResponse{SearchID: "abc"})
	})
	mux.HandleFunc("/search/abc", func(w http.ResponseWriter, r *http.Request) {
		polls++
		done := polls >= 2
		_ = json.NewEncoder(w).Encode(pollQueryResponse{
			Done: done, Columns: []string{"count"}, Rows: [][]any{{float64(5)}},
			Fields: []string{"count"}, RowCount: 1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewHTTPAnalytics(config.AnalyticsConfig{Endpoint: srv.URL}, testTimeouts())
	result, err := a.Call(context.Background(), AnalyticsQuery{Query: "stats count"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	assert.GreaterOrEqual(t, polls, 2)
}

func TestHTTPAnalyticsMidPollErrorIsPartialWhenRowsSeen(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(submitQueryResponse{SearchID: "abc"})
	})
	mux.HandleFunc("/search/abc", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls == 1 {
			_ = json.NewEncoder(w).Encode(pollQueryResponse{
				Done: false, Rows: [][]any{{float64(1)}}, RowCount: 1,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(pollQueryResponse{Error: "backend exploded"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewHTTPAnalytics(config.AnalyticsConfig{Endpoint: srv.URL}, testTimeouts())
	_, err := a.Call(context.Background(), AnalyticsQuery{Query: "stats count"})
	require.Error(t, err)
	assert.True(t, models.IsPartial(err))
	assert.True(t, strings.Contains(err.Error(), "backend exploded"))
}
