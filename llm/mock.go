package llm

import "context"

// MockClient is a test double for Client. If CompleteFunc is nil, Complete
// returns Response unconditionally.
type MockClient struct {
	CompleteFunc func(ctx context.Context, system, user string, maxTokens int) (string, error)
	Response     string

	CallCount int
	LastSystem string
	LastUser   string
}

// NewMockClient returns a MockClient that always replies with response.
func NewMockClient(response string) *MockClient {
	return &MockClient{Response: response}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	m.CallCount++
	m.LastSystem = system
	m.LastUser = user
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, user, maxTokens)
	}
	return m.Response, nil
}
