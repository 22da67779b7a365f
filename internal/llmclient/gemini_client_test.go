package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// -- Test Setup Helpers --

func validLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderGemini,
		Model:       "gemini-2.0-flash",
		APIKey:      "test-api-key",
		APITimeout:  10 * time.Second,
		Temperature: 0.7,
		TopP:        0.8,
		TopK:        40,
		MaxTokens:   4096,
	}
}

// setupGeminiClient rigs up a GeminiClient pointed at a mock HTTP server.
// It returns the client, the mock server, and a log observer.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	logger := zap.New(loggerCore)

	cfg := validLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, logger)
	require.NoError(t, err, "NewGeminiClient initialization failed")

	// Ensure tests fail fast on unexpected hangs, and retry quickly.
	client.httpClient.Timeout = 5 * time.Second
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}

	t.Cleanup(server.Close)
	return client, server, observedLogs
}

func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Options:      schemas.GenerationOptions{Temperature: 0.7},
	}
}

func successPayload(text string) GeminiResponsePayload {
	return GeminiResponsePayload{
		Candidates: []struct {
			Content      GeminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		}{
			{
				Content:      GeminiContent{Parts: []GeminiPart{{Text: text}}},
				FinishReason: "STOP",
			},
		},
	}
}

// -- Test Cases: Initialization --

func TestNewGeminiClient_Success(t *testing.T) {
	logger := zap.NewNop()
	cfg := validLLMConfig()
	cfg.Endpoint = "" // exercise the default endpoint assignment

	client, err := NewGeminiClient(cfg, logger)

	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, cfg.APIKey, client.apiKey)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		client.endpoint)
	assert.NotNil(t, client.backoffFactory, "Backoff factory should be initialized")
}

func TestNewGeminiClient_Failure_MissingAPIKey(t *testing.T) {
	cfg := validLLMConfig()
	cfg.APIKey = ""

	client, err := NewGeminiClient(cfg, zap.NewNop())

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "API Key is required")
}

// -- Test Cases: Request Payload Generation --

func TestBuildRequestPayload_Standard(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)

	req := createTestRequest()
	req.Options.Temperature = 0.5

	payload := client.buildRequestPayload(req)

	require.NotNil(t, payload.SystemInstruction)
	require.Len(t, payload.Contents, 1)
	assert.Equal(t, req.SystemPrompt, payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, req.UserPrompt, payload.Contents[0].Parts[0].Text)

	assert.Equal(t, 0.5, payload.GenerationConfig.Temperature)
	assert.Equal(t, float32(0.8), payload.GenerationConfig.TopP)
	assert.Equal(t, 40, payload.GenerationConfig.TopK)
	assert.Equal(t, 4096, payload.GenerationConfig.MaxOutputTokens)
	assert.Empty(t, payload.GenerationConfig.ResponseMimeType)
}

func TestBuildRequestPayload_ForceJSON(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)

	req := createTestRequest()
	req.Options.ForceJSONFormat = true

	payload := client.buildRequestPayload(req)
	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
}

// Screenshot bytes become a base64 inline_data part after the text part.
func TestBuildRequestPayload_WithImage(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)

	req := createTestRequest()
	req.ImagePNG = []byte{0x89, 'P', 'N', 'G'}

	payload := client.buildRequestPayload(req)

	require.Len(t, payload.Contents, 1)
	require.Len(t, payload.Contents[0].Parts, 2)
	imgPart := payload.Contents[0].Parts[1]
	require.NotNil(t, imgPart.InlineData)
	assert.Equal(t, "image/png", imgPart.InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(req.ImagePNG), imgPart.InlineData.Data)
}

// -- Test Cases: Generate --

func TestGenerate_Success(t *testing.T) {
	expectedResponseText := "This is the generated content."

	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload GeminiRequestPayload
		err := json.Unmarshal(body, &payload)
		require.NoError(t, err, "Server received invalid JSON payload")
		assert.Equal(t, createTestRequest().UserPrompt, payload.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(successPayload(expectedResponseText))
	}

	client, _, observedLogs := setupGeminiClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.NoError(t, err)
	assert.Equal(t, expectedResponseText, response)
	require.Equal(t, 1, observedLogs.Len(), "Expected one log entry for successful generation")
	assert.Equal(t, "LLM generation complete (Gemini)", observedLogs.All()[0].Message)
}

func TestGenerate_RetryOnTransientErrors(t *testing.T) {
	var attemptCounter int32
	expectedAttempts := 3

	handler := func(w http.ResponseWriter, r *http.Request) {
		attempt := atomic.AddInt32(&attemptCounter, 1)
		if int(attempt) < expectedAttempts {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service temporarily unavailable."))
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(successPayload("Success after retry"))
	}

	client, _, _ := setupGeminiClient(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := client.Generate(ctx, createTestRequest())

	assert.NoError(t, err)
	assert.Equal(t, "Success after retry", response)
	assert.Equal(t, int32(expectedAttempts), atomic.LoadInt32(&attemptCounter))
}

func TestGenerate_NoRetryOnPermanentErrors(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("API Key Invalid"))
	}

	client, _, _ := setupGeminiClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "gemini API error: status 403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "Permanent errors must not trigger retries")
}

func TestGenerate_Failure_NoCandidates(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(GeminiResponsePayload{})
	}

	client, _, _ := setupGeminiClient(t, handler)

	_, err := client.Generate(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter))
}

func TestGenerate_ContextCancellation(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests) // always transient
	}

	client, _, _ := setupGeminiClient(t, handler)
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := client.Generate(ctx, createTestRequest())

	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "Error should be context.Canceled, but got: %v", err)
	assert.Less(t, time.Since(start), time.Second, "Operation should abort quickly upon cancellation")
}

// -- Test Cases: UpdateAPIKey --

func TestUpdateAPIKey_SwapsOnSuccessfulProbe(t *testing.T) {
	var seenKeys []string
	handler := func(w http.ResponseWriter, r *http.Request) {
		seenKeys = append(seenKeys, r.Header.Get("x-goog-api-key"))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(successPayload("ok"))
	}

	client, _, _ := setupGeminiClient(t, handler)

	require.NoError(t, client.UpdateAPIKey(context.Background(), "fresh-key"))

	// Follow-up generation must use the new key.
	_, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)

	require.Len(t, seenKeys, 2)
	assert.Equal(t, "fresh-key", seenKeys[0], "probe must carry the candidate key")
	assert.Equal(t, "fresh-key", seenKeys[1], "subsequent requests must carry the installed key")
}

func TestUpdateAPIKey_KeepsOldKeyOnFailure(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") == "bad-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(successPayload("ok"))
	}

	client, _, _ := setupGeminiClient(t, handler)

	err := client.UpdateAPIKey(context.Background(), "bad-key")
	assert.Error(t, err)

	// The original key must still work.
	_, err = client.Generate(context.Background(), createTestRequest())
	assert.NoError(t, err)
}

func TestUpdateAPIKey_RejectsEmptyKey(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)
	assert.Error(t, client.UpdateAPIKey(context.Background(), ""))
}
