package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatmemory/internal/config"
	errs "github.com/edgard/chatmemory/internal/errors"
)

func testAIConfig(baseURL string) config.AIConfig {
	return config.AIConfig{
		Provider:    "openai",
		BaseURL:     baseURL,
		APIKey:      "sk-test",
		Model:       "test-model",
		MaxTokens:   256,
		Temperature: 0.5,
	}
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello|world"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(testAIConfig(srv.URL+"/v1/"), nil)
	reply, err := p.Complete(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello|world", reply)

	assert.Equal(t, "test-model", gotBody["model"])
	assert.EqualValues(t, 256, gotBody["max_tokens"])
	assert.InDelta(t, 0.5, gotBody["temperature"], 1e-6)
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "the prompt", first["content"])
}

func TestOpenAIErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":{"message":"boom","type":"server_error"}}`, wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key","type":"invalid_request_error"}}`, wantErr: true},
		{name: "no choices", status: http.StatusOK, body: `{"id":"x","choices":[]}`, wantErr: true},
		{name: "empty content is not a transport error", status: http.StatusOK, body: `{"choices":[{"message":{"role":"assistant","content":""}}]}`, wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOpenAI(testAIConfig(srv.URL), nil).Complete(context.Background(), "p")
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsTransport(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := testAIConfig("http://localhost")
	cfg.Provider = "llama"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Equal(t, errs.CodeConfig, errs.Code(err))
}
