package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk-chatops/dispatcher/internal/config"
)

func TestHTTPRetrievalUnavailableWithoutEndpoint(t *testing.T) {
	a := NewHTTPRetrieval(config.RetrievalConfig{}, testTimeouts())
	assert.False(t, a.Available(context.Background()))
}

func TestHTTPRetrievalCallReturnsRankedDocs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]retrievalHit{
			{Score: 0.9, Content: "doc a", Title: "A"},
			{Score: 0.5, Content: "doc b", Title: "B"},
		})
	}))
	defer srv.Close()

	a := NewHTTPRetrieval(config.RetrievalConfig{Endpoint: srv.URL}, testTimeouts())
	docs, err := a.Call(context.Background(), "splunk error", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc a", docs[0].Content)
	assert.Equal(t, 0.9, docs[0].Score)
}
