// 引擎回调与 agent 通知的测试模拟实现。
package mocks

import (
	"context"
	"sync"
)

// MockEngineNotifier 记录引擎结果回调。
// 用于验证任务完成/失败后向引擎的上卷通知。
type MockEngineNotifier struct {
	mu sync.Mutex

	completed []string
	failed    map[string]string

	completeErr error
	failErr     error
}

// NewMockEngineNotifier 创建新的 MockEngineNotifier
func NewMockEngineNotifier() *MockEngineNotifier {
	return &MockEngineNotifier{failed: make(map[string]string)}
}

// WithCompleteError 设置 OnTaskCompleted 返回的错误
func (m *MockEngineNotifier) WithCompleteError(err error) *MockEngineNotifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeErr = err
	return m
}

// WithFailError 设置 OnTaskFailed 返回的错误
func (m *MockEngineNotifier) WithFailError(err error) *MockEngineNotifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	return m
}

// OnTaskCompleted 记录完成通知
func (m *MockEngineNotifier) OnTaskCompleted(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, taskID)
	return m.completeErr
}

// OnTaskFailed 记录失败通知
func (m *MockEngineNotifier) OnTaskFailed(ctx context.Context, taskID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[taskID] = reason
	return m.failErr
}

// Completed 返回已记录的完成任务 ID
func (m *MockEngineNotifier) Completed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.completed...)
}

// FailedReason 返回指定任务的失败原因
func (m *MockEngineNotifier) FailedReason(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.failed[taskID]
	return reason, ok
}

// FailedCount 返回失败通知数量
func (m *MockEngineNotifier) FailedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failed)
}

// MockAgentNotifier 记录引擎发出的 agent 任务通知。
type MockAgentNotifier struct {
	mu      sync.Mutex
	taskIDs []string
}

// NewMockAgentNotifier 创建新的 MockAgentNotifier
func NewMockAgentNotifier() *MockAgentNotifier {
	return &MockAgentNotifier{}
}

// NotifyAgentTask 记录通知的任务 ID
func (m *MockAgentNotifier) NotifyAgentTask(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskIDs = append(m.taskIDs, taskID)
}

// Notified 返回所有已通知的任务 ID
func (m *MockAgentNotifier) Notified() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.taskIDs...)
}
