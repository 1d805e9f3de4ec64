package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted ChatClient for testing. Each Chat call pops the
// next canned reply; once the script is exhausted it returns a plain
// acknowledgment so loops terminate.
type MockClient struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

// NewMockClient creates a mock chat client with the given scripted replies.
func NewMockClient(replies ...string) *MockClient {
	return &MockClient{replies: replies}
}

// Ensure MockClient implements ChatClient interface.
var _ ChatClient = (*MockClient)(nil)

// Chat returns the next scripted reply.
func (m *MockClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (ChatMessage, error) {
	select {
	case <-ctx.Done():
		return ChatMessage{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if len(m.replies) == 0 {
		return ChatMessage{Role: "assistant", Content: fmt.Sprintf("[MOCK] reply %d", m.calls)}, nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return ChatMessage{Role: "assistant", Content: reply}, nil
}

// Calls reports how many times Chat was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
