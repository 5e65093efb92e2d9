// MockToolCaller 的 MCP 工具调用测试模拟实现。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/flowforge/mcp"
)

// MockToolCaller 是工具调用桥接的模拟实现。
// 按 "server/tool" 键查找预设结果，未命中时返回默认结果。
type MockToolCaller struct {
	mu sync.RWMutex

	// 响应配置
	results map[string]*mcp.CallResult
	errs    map[string]error
	callFn  func(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallResult, error)

	// 调用记录
	calls []MockToolCall
}

// MockToolCall 记录单次工具调用
type MockToolCall struct {
	ServerName string
	ToolName   string
	Args       map[string]any
}

// NewMockToolCaller 创建新的 MockToolCaller
func NewMockToolCaller() *MockToolCaller {
	return &MockToolCaller{
		results: make(map[string]*mcp.CallResult),
		errs:    make(map[string]error),
	}
}

// WithResult 设置指定工具的调用结果
func (m *MockToolCaller) WithResult(serverName, toolName string, result *mcp.CallResult) *MockToolCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[serverName+"/"+toolName] = result
	return m
}

// WithError 设置指定工具的调用错误
func (m *MockToolCaller) WithError(serverName, toolName string, err error) *MockToolCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[serverName+"/"+toolName] = err
	return m
}

// WithCallFunc 设置自定义调用函数，优先于预设结果
func (m *MockToolCaller) WithCallFunc(fn func(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallResult, error)) *MockToolCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callFn = fn
	return m
}

// CallTool 执行模拟工具调用
func (m *MockToolCaller) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockToolCall{ServerName: serverName, ToolName: toolName, Args: args})

	if m.callFn != nil {
		fn := m.callFn
		return fn(ctx, serverName, toolName, args)
	}

	key := serverName + "/" + toolName
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	if result, ok := m.results[key]; ok {
		return result, nil
	}
	return &mcp.CallResult{
		Success:         true,
		Result:          map[string]any{"tool": toolName},
		ExecutionTimeMS: 1,
	}, nil
}

// GetCalls 获取所有调用记录
func (m *MockToolCaller) GetCalls() []MockToolCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockToolCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockToolCaller) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Reset 重置调用记录
func (m *MockToolCaller) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
