package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk-chatops/dispatcher/internal/config"
)

func testTimeouts() config.AdapterTimeouts {
	return config.AdapterTimeouts{
		CallDeadline:     2 * time.Second,
		PollInterval:     10 * time.Millisecond,
		PollDeadline:     time.Second,
		MaxRetryAttempts: 2,
	}
}

func TestHTTPLLMUnavailableWhenDisabled(t *testing.T) {
	a := NewHTTPLLM(config.LLMConfig{Enabled: false}, testTimeouts())
	assert.False(t, a.Available(context.Background()))
}

func TestHTTPLLMUnavailableWithoutEndpoint(t *testing.T) {
	a := NewHTTPLLM(config.LLMConfig{Enabled: true}, testTimeouts())
	assert.False(t, a.Available(context.Background()))
}

func TestHTTPLLMCallReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{Content: "hello there"})
	}))
	defer srv.Close()

	a := NewHTTPLLM(config.LLMConfig{Enabled: true, Endpoint: srv.URL, Model: "test-model"}, testTimeouts())
	got, err := a.Call(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)
}

func TestHTTPLLMCallStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, tok := range []string{"a", "b", "c"} {
			w.Write([]byte("data: " + tok + "\n\n"))
			flusher.Flush()
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	a := NewHTTPLLM(config.LLMConfig{Enabled: true, Endpoint: srv.URL}, testTimeouts())
	ch, err := a.CallStream(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)

	var got []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		got = append(got, chunk.Text)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
