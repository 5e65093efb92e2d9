// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、工具调用与错误注入场景。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/flowforge/llm"
)

// MockProviderCall 记录单次 Completion 的请求与结果
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// MockProvider 是 llm.Provider 的模拟实现。
// 所有 With* 方法返回自身，按 builder 风格链式配置。
type MockProvider struct {
	mu sync.RWMutex

	response         string
	toolCalls        []llm.ToolCall
	err              error
	promptTokens     int
	completionTokens int

	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	delay          time.Duration
	failAfter      int
	healthy        bool

	calls     []MockProviderCall
	callCount int
}

// NewMockProvider 创建默认配置的 MockProvider：
// 固定文本响应、健康、10/20 token 用量。
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
		healthy:          true,
	}
}

// WithResponse 设置固定响应文本
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 让所有 Completion 返回该错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithToolCalls 配置后首次 Completion 返回工具调用，后续调用返回文本，
// 模拟真实工具循环的收敛过程。
func (m *MockProvider) WithToolCalls(toolCalls ...llm.ToolCall) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = toolCalls
	return m
}

// WithTokenUsage 设置响应里上报的 token 用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 每次 Completion 前等待 d，可被 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 前 n 次调用成功，之后全部失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompletionFunc 完全接管 Completion 行为
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// WithUnhealthy 让 HealthCheck 上报不健康
func (m *MockProvider) WithUnhealthy() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = false
	return m
}

// Name 实现 llm.Provider
func (m *MockProvider) Name() string { return "mock" }

// HealthCheck 实现 llm.Provider
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &llm.HealthStatus{Healthy: m.healthy, Latency: 10 * time.Millisecond}, nil
}

// Completion 按配置产生响应并记录调用
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}

	resp, err := m.produce(ctx, req)
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
	return resp, err
}

// produce 决定本次调用的结果，调用方持有锁
func (m *MockProvider) produce(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if m.failAfter > 0 && m.callCount > m.failAfter {
		return nil, errors.New("mock provider: configured to fail after N calls")
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.completionFunc != nil {
		return m.completionFunc(ctx, req)
	}

	// 默认响应。配置了工具调用时仅首次返回 tool_calls，
	// 之后返回文本，使调用方的工具循环能够终止。
	msg := llm.Message{Role: llm.RoleAssistant, Content: m.response}
	finishReason := "stop"
	if len(m.toolCalls) > 0 && m.callCount == 1 {
		msg.Content = ""
		msg.ToolCalls = m.toolCalls
		finishReason = "tool_calls"
	}

	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Model:    req.Model,
		Choices: []llm.ChatChoice{
			{Index: 0, FinishReason: finishReason, Message: msg},
		},
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// GetCalls 返回调用记录的拷贝
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockProviderCall{}, m.calls...)
}

// GetCallCount 返回 Completion 被调用的次数
func (m *MockProvider) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// GetLastCall 返回最后一次调用，没有时返回 nil
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset 清空调用记录与错误注入
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
}

// NewSuccessProvider 总是返回给定文本
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 总是失败
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewToolCallProvider 首次返回工具调用，之后返回 finalResponse
func NewToolCallProvider(finalResponse string, toolCalls ...llm.ToolCall) *MockProvider {
	return NewMockProvider().WithResponse(finalResponse).WithToolCalls(toolCalls...)
}

// NewFlakeyProvider 前 failAfter 次成功，之后失败
func NewFlakeyProvider(failAfter int, response string) *MockProvider {
	return NewMockProvider().WithResponse(response).WithFailAfter(failAfter)
}

var _ llm.Provider = (*MockProvider)(nil)
