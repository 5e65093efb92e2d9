package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowforge/types"
)

func successBody(content string) string {
	return `{
		"id": "chatcmpl-1",
		"model": "gpt-4o-mini",
		"created": 1700000000,
		"choices": [{
			"index": 0,
			"finish_reason": "stop",
			"message": {"role": "assistant", "content": ` + mustQuote(content) + `}
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
	}`
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newProvider(t *testing.T, baseURL string, maxRetries int) *OpenAICompat {
	t.Helper()
	return NewOpenAICompat(OpenAICompatConfig{
		ProviderName: "test",
		APIKey:       "sk-test",
		BaseURL:      baseURL,
		DefaultModel: "gpt-4o-mini",
		MaxRetries:   maxRetries,
		Timeout:      5 * time.Second,
	}, nil)
}

func TestCompletion_Success(t *testing.T) {
	t.Parallel()
	var gotReq openAIRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(successBody("hello there")))
	}))
	t.Cleanup(ts.Close)

	p := newProvider(t, ts.URL, 1)
	resp, err := p.Completion(t.Context(), &ChatRequest{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
		},
		Tools: []ToolSchema{{Name: "search", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.FirstContent())
	assert.Empty(t, resp.FirstToolCalls())
	assert.Equal(t, "test", resp.Provider)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "function", gotReq.Tools[0].Type)
	assert.Equal(t, "search", gotReq.Tools[0].Function.Name)
}

func TestCompletion_ParsesToolCalls(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "chatcmpl-2",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "search", "arguments": "{\"q\":\"go\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	}))
	t.Cleanup(ts.Close)

	p := newProvider(t, ts.URL, 1)
	resp, err := p.Completion(t.Context(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	calls := resp.FirstToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "search", calls[0].Name)
	assert.JSONEq(t, `{"q":"go"}`, string(calls[0].Arguments))
}

func TestCompletion_DefaultModel(t *testing.T) {
	t.Parallel()
	var gotReq openAIRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(successBody("ok")))
	}))
	t.Cleanup(ts.Close)

	p := newProvider(t, ts.URL, 1)
	_, err := p.Completion(t.Context(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
}

func TestCompletion_RetriesServerError(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(successBody("recovered")))
	}))
	t.Cleanup(ts.Close)

	p := newProvider(t, ts.URL, 2)
	resp, err := p.Completion(t.Context(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.FirstContent())
	assert.Equal(t, int32(2), hits.Load())
}

func TestCompletion_AuthErrorNotRetried(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad api key"}}`))
	}))
	t.Cleanup(ts.Close)

	p := newProvider(t, ts.URL, 3)
	_, err := p.Completion(t.Context(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrPermission))
	assert.Contains(t, err.Error(), "bad api key")
	assert.Equal(t, int32(1), hits.Load())
}

func TestCompletion_RateLimitExhaustsRetries(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(ts.Close)

	p := newProvider(t, ts.URL, 1)
	_, err := p.Completion(t.Context(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRateLimited))
	assert.Equal(t, int32(2), hits.Load(), "initial attempt plus one retry")
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(ts.Close)

	p := newProvider(t, ts.URL, 1)
	status, err := p.HealthCheck(t.Context())
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)

	status, err = newProvider(t, down.URL, 1).HealthCheck(t.Context())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}

func TestMapHTTPError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusGatewayTimeout, types.ErrUpstreamTimeout, true},
		{http.StatusInternalServerError, types.ErrUpstreamError, true},
		{http.StatusUnauthorized, types.ErrPermission, false},
		{http.StatusForbidden, types.ErrPermission, false},
		{http.StatusBadRequest, types.ErrValidation, false},
	}
	for _, tc := range cases {
		err := mapHTTPError(tc.status, "msg")
		assert.Equal(t, tc.code, err.Code, "status %d", tc.status)
		assert.Equal(t, tc.retryable, err.Retryable, "status %d", tc.status)
	}
}
