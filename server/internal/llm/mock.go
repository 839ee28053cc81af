package llm

import (
	"context"
	"sync"
)

// MockClient 用于测试与本地开发的 Mock 客户端
type MockClient struct {
	mu sync.Mutex

	// Replies 按调用顺序返回，用完后重复最后一条
	Replies []string
	// ShouldFail 为 true 时每次调用都失败
	ShouldFail bool
	// FailErr 失败时返回的错误，默认 context.DeadlineExceeded
	FailErr error

	CallCount int
	// Calls 记录每次调用收到的消息与指令
	Calls []MockCall
}

// MockCall 一次调用的入参快照
type MockCall struct {
	Messages          []Message
	SystemInstruction string
}

// NewMockClient 创建 Mock 客户端
func NewMockClient(replies ...string) *MockClient {
	return &MockClient{Replies: replies}
}

// Complete 模拟补全
func (m *MockClient) Complete(ctx context.Context, messages []Message, systemInstruction string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.Calls = append(m.Calls, MockCall{
		Messages:          append([]Message(nil), messages...),
		SystemInstruction: systemInstruction,
	})

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.ShouldFail {
		if m.FailErr != nil {
			return "", m.FailErr
		}
		return "", context.DeadlineExceeded
	}
	if len(m.Replies) == 0 {
		return "그랬구나. 조금 더 이야기해 줄래?", nil
	}
	idx := m.CallCount - 1
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	return m.Replies[idx], nil
}

// LastCall 返回最近一次调用，没有调用时 ok 为 false。
func (m *MockClient) LastCall() (MockCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return MockCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
