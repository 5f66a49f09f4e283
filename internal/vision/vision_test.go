package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	return string(b)
}

func TestGeminiAnalyze(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, geminiReply(`{"subject":"Maths"}`))
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", Model: "test-model", BaseURL: srv.URL, Retry: fastRetry, Logger: quietLogger()})
	text, err := g.Analyze(context.Background(), []byte{0x89, 0x50}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, `{"subject":"Maths"}`, text)

	contents := gotBody["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
	assert.Equal(t, "image/png", inline["mime_type"])
	assert.Equal(t, "iVA=", inline["data"])
}

func TestGeminiRetriesOverload(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"The model is overloaded."}}`)
			return
		}
		_, _ = io.WriteString(w, geminiReply("{}"))
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry, Logger: quietLogger()})
	text, err := g.Analyze(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGeminiGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry, Logger: quietLogger()})
	_, err := g.Analyze(context.Background(), []byte("img"), "image/jpeg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverloaded))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGeminiDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad image"}}`)
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry, Logger: quietLogger()})
	_, err := g.Analyze(context.Background(), []byte("img"), "image/jpeg")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOverloaded))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry, Logger: quietLogger()})
	_, err := g.Analyze(context.Background(), []byte("img"), "image/jpeg")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiNotConfigured(t *testing.T) {
	_, err := NewGeminiClient(GeminiConfig{}).Analyze(context.Background(), []byte("img"), "image/png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGeminiTextJoinsParts(t *testing.T) {
	var r geminiGenerateResponse
	require.NoError(t, json.Unmarshal([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]}}]}`), &r))
	assert.Equal(t, `{"a":1}`, r.text())
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	c := newCaller("test", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, 0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.doWithRetry(ctx, func() error {
		calls++
		cancel()
		return &StatusError{Provider: "test", Code: http.StatusServiceUnavailable}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&StatusError{Code: 503}))
	assert.True(t, isRetryable(&StatusError{Code: 429}))
	assert.False(t, isRetryable(&StatusError{Code: 500}))
	assert.True(t, isRetryable(errors.New("model overloaded, try later")))
	assert.True(t, isRetryable(errors.New("service UNAVAILABLE")))
	assert.False(t, isRetryable(errors.New("invalid argument")))
}

func TestOpenAIAnalyze(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" {\"topic\":\"Ratio\"} "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	o := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "vision-model", Retry: fastRetry, Logger: quietLogger()})
	text, err := o.Analyze(context.Background(), []byte("img"), "image/webp")
	require.NoError(t, err)
	assert.Equal(t, `{"topic":"Ratio"}`, text)
	assert.Equal(t, "vision-model", gotReq["model"])

	msgs := gotReq["messages"].([]any)
	require.Len(t, msgs, 2)
	parts := msgs[1].(map[string]any)["content"].([]any)
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/webp;base64,aW1n", image["url"])
}

func TestOpenAIRetriesOverload(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"requests"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`)
	}))
	defer srv.Close()

	o := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Retry: fastRetry, Logger: quietLogger()})
	text, err := o.Analyze(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAINotConfigured(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{}).Analyze(context.Background(), []byte("img"), "image/png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
