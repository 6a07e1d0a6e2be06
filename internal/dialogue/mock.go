package dialogue

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory Client for tests and offline development.
type MockClient struct {
	mu sync.Mutex

	Greeting  string
	Reply     string
	StartErr  error
	TurnErr   error
	DeleteErr error

	created  int
	messages []string
	deleted  []string
}

func NewMockClient() *MockClient {
	return &MockClient{
		Greeting: "Welkom, laten we oefenen.",
		Reply:    "Goed zo. Vertel eens verder?",
	}
}

func (m *MockClient) CreateSession(_ context.Context, topicID, _ string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return Session{}, newFailure(FailureStart, m.StartErr)
	}
	m.created++
	return Session{
		SessionID: fmt.Sprintf("mock-%s-%d", topicID, m.created),
		Greeting:  m.Greeting,
	}, nil
}

func (m *MockClient) SendMessage(_ context.Context, _, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	if m.TurnErr != nil {
		return "", newFailure(FailureTurn, m.TurnErr)
	}
	return m.Reply, nil
}

func (m *MockClient) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return newFailure(FailureTeardown, m.DeleteErr)
	}
	m.deleted = append(m.deleted, sessionID)
	return nil
}

// Messages returns the turn texts as received. The voice-mode prefix is an
// HTTP wire concern and is not applied by the mock.
func (m *MockClient) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *MockClient) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}
