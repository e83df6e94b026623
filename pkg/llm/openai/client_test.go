package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "extracted text"}},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)

	result, err := client.Generate(context.Background(), []ChatMessage{
		{Role: "user", Content: []ContentPart{TextContent("hello")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "extracted text", result.Content)
	assert.Equal(t, 15, result.Usage.TotalTokens)
}

func TestGenerate_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL}, WithBaseDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	require.NoError(t, err)

	result, err := client.Generate(context.Background(), []ChatMessage{
		{Role: "user", Content: []ContentPart{TextContent("hi")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerate_NonRetryableClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL}, WithBaseDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []ChatMessage{
		{Role: "user", Content: []ContentPart{TextContent("hi")}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestImageContent_BuildsDataURL(t *testing.T) {
	part := ImageContent("png", "Zm9v")
	assert.Equal(t, "image_url", part.Type)
	assert.Equal(t, "data:image/png;base64,Zm9v", part.ImageURL.URL)
}

func TestCalculateBackoff_CapsAtMaxDelay(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://example.invalid"},
		WithBaseDelay(time.Second), WithMaxDelay(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, time.Second, client.calculateBackoff(1))
	assert.Equal(t, 4*time.Second, client.calculateBackoff(2))
	assert.Equal(t, 5*time.Second, client.calculateBackoff(3))
}
