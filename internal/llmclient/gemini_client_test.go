// File: internal/llmclient/gemini_client_test.go
//go:build !integration

package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

func geminiSuccessBody(text string) string {
	payload := geminiResponsePayload{}
	payload.Candidates = []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{
		{Content: geminiContent{Parts: []geminiPart{{Text: text}}}, FinishReason: "STOP"},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func newTestGeminiClient(t *testing.T, endpoint string) *GeminiClient {
	t.Helper()
	client, err := NewGeminiClient(config.LLMConfig{
		Provider: config.ProviderGemini,
		Model:    "gemini-2.0-flash",
		APIKey:   "test-key",
		Endpoint: endpoint,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestGeminiGenerate(t *testing.T) {
	var gotPayload geminiRequestPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_, _ = w.Write([]byte(geminiSuccessBody(`{"steps":[]}`)))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	out, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "plan web tests",
		UserPrompt:   "log into the demo shop",
		Temperature:  0.3,
		ForceJSON:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, out)

	require.NotNil(t, gotPayload.SystemInstruction)
	assert.Equal(t, "plan web tests", gotPayload.SystemInstruction.Parts[0].Text)
	require.Len(t, gotPayload.Contents, 1)
	assert.Equal(t, "log into the demo shop", gotPayload.Contents[0].Parts[0].Text)
	assert.Equal(t, "application/json", gotPayload.GenerationConfig.ResponseMimeType)
	assert.InDelta(t, 0.3, gotPayload.GenerationConfig.Temperature, 0.001)
}

func TestGeminiGenerateRetriesTransientErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(geminiSuccessBody("recovered")))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	out, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
}

func TestGeminiGenerateClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGeminiGenerateNoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMConfig{Model: "gemini-2.0-flash"}, zaptest.NewLogger(t))
	require.Error(t, err)
}
